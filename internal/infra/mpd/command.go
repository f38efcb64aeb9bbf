package mpd

import (
	"fmt"
	"strconv"
	"strings"
)

// Op identifies an MPD protocol operation.
type Op string

// Operation catalogue understood by the engine.
const (
	OpStatus           Op = "status"
	OpStats            Op = "stats"
	OpCurrentSong      Op = "currentsong"
	OpListAllInfo      Op = "listallinfo"
	OpSearch           Op = "search"
	OpAdd              Op = "add"
	OpAddID            Op = "addid"
	OpClear            Op = "clear"
	OpDeleteID         Op = "deleteid"
	OpLoad             Op = "load"
	OpLsInfo           Op = "lsinfo"
	OpListPlaylist     Op = "listplaylist"
	OpListPlaylistInfo Op = "listplaylistinfo"
	OpPlaylistInfo     Op = "playlistinfo"
	OpMoveID           Op = "moveid"
	OpRename           Op = "rename"
	OpRm               Op = "rm"
	OpSave             Op = "save"
	OpShuffle          Op = "shuffle"
	OpNext             Op = "next"
	OpPause            Op = "pause"
	OpPlay             Op = "play"
	OpPlayID           Op = "playid"
	OpPrevious         Op = "previous"
	OpRandom           Op = "random"
	OpRepeat           Op = "repeat"
	OpSingle           Op = "single"
	OpConsume          Op = "consume"
	OpSeek             Op = "seek"
	OpSetVol           Op = "setvol"
	OpStop             Op = "stop"
	OpOutputs          Op = "outputs"
	OpEnableOutput     Op = "enableoutput"
	OpDisableOutput    Op = "disableoutput"
	OpPassword         Op = "password"
	OpUpdate           Op = "update"
	OpClose            Op = "close"
	OpPing             Op = "ping"
)

// Command is an immutable outbound request. The zero value is not a valid command.
type Command struct {
	op   Op
	args []string
	wire string
}

// NewCommand builds a command from an operation and its positional arguments.
// Strings are quoted and escaped, ints are rendered in decimal and bools as
// "1"/"0"; every argument ends up inside double quotes. Nil arguments are skipped.
func NewCommand(op Op, args ...any) Command {
	cmd := Command{op: op}

	var b strings.Builder
	b.WriteString(string(op))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		s := formatArg(arg)
		cmd.args = append(cmd.args, s)
		b.WriteString(` "`)
		b.WriteString(escapeArg(s))
		b.WriteByte('"')
	}
	cmd.wire = b.String()

	return cmd
}

func formatArg(arg any) string {
	switch v := arg.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// escapeArg doubles backslashes before escaping quotes so that the quote step
// never re-escapes a backslash it introduced.
func escapeArg(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// Op returns the command's operation.
func (c Command) Op() Op { return c.op }

// Args returns a copy of the rendered (unescaped) arguments.
func (c Command) Args() []string {
	if len(c.args) == 0 {
		return nil
	}
	out := make([]string, len(c.args))
	copy(out, c.args)
	return out
}

// Arg returns the i-th rendered argument, or "" when absent.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.args) {
		return ""
	}
	return c.args[i]
}

// WireForm returns the serialized command line without its trailing newline.
func (c Command) WireForm() string { return c.wire }

// String implements fmt.Stringer. Password arguments are masked.
func (c Command) String() string {
	if c.op == OpPassword {
		return string(OpPassword) + ` "***"`
	}
	return c.wire
}

// IsZero reports whether c was never constructed.
func (c Command) IsZero() bool { return c.op == "" }

// Elidable reports whether a pending duplicate of c may be dropped from the
// queue. Only side-effect free polls qualify.
func (c Command) Elidable() bool {
	return c.op == OpStatus || c.op == OpStats
}

// Catalogue constructors.

func Status() Command { return NewCommand(OpStatus) }
func Stats() Command { return NewCommand(OpStats) }
func CurrentSong() Command { return NewCommand(OpCurrentSong) }
func ListAllInfo() Command { return NewCommand(OpListAllInfo) }

// Search queries the database for songs whose tag contains value.
func Search(tag, value string) Command { return NewCommand(OpSearch, tag, value) }

// ListAllInfoFallback is the query substituted for listallinfo on servers that
// do not implement it.
func ListAllInfoFallback() Command { return Search("filename", "") }

func Add(uri string) Command { return NewCommand(OpAdd, uri) }
func AddID(uri string) Command { return NewCommand(OpAddID, uri) }

// AddIDAt inserts uri at queue position pos.
func AddIDAt(uri string, pos int) Command { return NewCommand(OpAddID, uri, pos) }

func Clear() Command { return NewCommand(OpClear) }
func DeleteID(id int) Command { return NewCommand(OpDeleteID, id) }
func Load(playlist string) Command { return NewCommand(OpLoad, playlist) }
func PlaylistInfo() Command { return NewCommand(OpPlaylistInfo) }
func MoveID(id, to int) Command { return NewCommand(OpMoveID, id, to) }
func Rename(from, to string) Command { return NewCommand(OpRename, from, to) }
func Rm(playlist string) Command { return NewCommand(OpRm, playlist) }
func Save(playlist string) Command { return NewCommand(OpSave, playlist) }
func Shuffle() Command { return NewCommand(OpShuffle) }

// LsInfo lists a directory; an empty dir lists the database root.
func LsInfo(dir string) Command {
	if dir == "" {
		return NewCommand(OpLsInfo)
	}
	return NewCommand(OpLsInfo, dir)
}

func ListPlaylist(name string) Command { return NewCommand(OpListPlaylist, name) }
func ListPlaylistInfo(name string) Command { return NewCommand(OpListPlaylistInfo, name) }

func Next() Command { return NewCommand(OpNext) }
func Previous() Command { return NewCommand(OpPrevious) }
func Stop() Command { return NewCommand(OpStop) }

// Pause sets the pause state explicitly.
func Pause(on bool) Command { return NewCommand(OpPause, on) }

// Play resumes or starts playback at the current song.
func Play() Command { return NewCommand(OpPlay) }

// PlayPos starts playback at a queue position.
func PlayPos(pos int) Command { return NewCommand(OpPlay, pos) }

func PlayID(id int) Command { return NewCommand(OpPlayID, id) }
func Random(on bool) Command { return NewCommand(OpRandom, on) }
func Repeat(on bool) Command { return NewCommand(OpRepeat, on) }
func Single(on bool) Command { return NewCommand(OpSingle, on) }
func Consume(on bool) Command { return NewCommand(OpConsume, on) }
func Seek(pos, sec int) Command { return NewCommand(OpSeek, pos, sec) }
func SetVol(vol int) Command { return NewCommand(OpSetVol, vol) }
func Outputs() Command { return NewCommand(OpOutputs) }
func EnableOutput(id int) Command { return NewCommand(OpEnableOutput, id) }
func DisableOutput(id int) Command { return NewCommand(OpDisableOutput, id) }
func Password(pw string) Command { return NewCommand(OpPassword, pw) }
func Update() Command { return NewCommand(OpUpdate) }
func Close() Command { return NewCommand(OpClose) }
func Ping() Command { return NewCommand(OpPing) }
