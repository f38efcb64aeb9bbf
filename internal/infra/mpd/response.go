package mpd

import (
	"fmt"
	"strconv"
	"strings"
)

// Keyword is a recognized response line prefix.
type Keyword int

// Known keywords. KeywordUnrecognized is the zero value.
const (
	KeywordUnrecognized Keyword = iota

	// Song tags.
	KeywordFile
	KeywordTitle
	KeywordArtist
	KeywordAlbum
	KeywordAlbumArtist
	KeywordGenre
	KeywordDate
	KeywordTrack
	KeywordDisc
	KeywordTime
	KeywordDuration
	KeywordID
	KeywordPos
	KeywordName
	KeywordComposer
	KeywordPerformer
	KeywordLastModified

	// Browse entries.
	KeywordDirectory
	KeywordPlaylist

	// Status.
	KeywordVolume
	KeywordRepeat
	KeywordRandom
	KeywordSingle
	KeywordConsume
	KeywordPlaylistLength
	KeywordState
	KeywordSong
	KeywordSongID
	KeywordNextSong
	KeywordNextSongID
	KeywordElapsed
	KeywordBitrate
	KeywordAudio
	KeywordXFade
	KeywordUpdatingDB
	KeywordError

	// Stats.
	KeywordArtists
	KeywordAlbums
	KeywordSongs
	KeywordUptime
	KeywordPlaytime
	KeywordDBPlaytime
	KeywordDBUpdate

	// Outputs.
	KeywordOutputID
	KeywordOutputName
	KeywordOutputEnabled
)

var keywordTable = map[string]Keyword{
	"file":           KeywordFile,
	"title":          KeywordTitle,
	"artist":         KeywordArtist,
	"album":          KeywordAlbum,
	"albumartist":    KeywordAlbumArtist,
	"genre":          KeywordGenre,
	"date":           KeywordDate,
	"track":          KeywordTrack,
	"disc":           KeywordDisc,
	"time":           KeywordTime,
	"duration":       KeywordDuration,
	"id":             KeywordID,
	"pos":            KeywordPos,
	"name":           KeywordName,
	"composer":       KeywordComposer,
	"performer":      KeywordPerformer,
	"last-modified":  KeywordLastModified,
	"directory":      KeywordDirectory,
	"playlist":       KeywordPlaylist,
	"volume":         KeywordVolume,
	"repeat":         KeywordRepeat,
	"random":         KeywordRandom,
	"single":         KeywordSingle,
	"consume":        KeywordConsume,
	"playlistlength": KeywordPlaylistLength,
	"state":          KeywordState,
	"song":           KeywordSong,
	"songid":         KeywordSongID,
	"nextsong":       KeywordNextSong,
	"nextsongid":     KeywordNextSongID,
	"elapsed":        KeywordElapsed,
	"bitrate":        KeywordBitrate,
	"audio":          KeywordAudio,
	"xfade":          KeywordXFade,
	"updating_db":    KeywordUpdatingDB,
	"error":          KeywordError,
	"artists":        KeywordArtists,
	"albums":         KeywordAlbums,
	"songs":          KeywordSongs,
	"uptime":         KeywordUptime,
	"playtime":       KeywordPlaytime,
	"db_playtime":    KeywordDBPlaytime,
	"db_update":      KeywordDBUpdate,
	"outputid":       KeywordOutputID,
	"outputname":     KeywordOutputName,
	"outputenabled":  KeywordOutputEnabled,
}

var keywordNames = func() map[Keyword]string {
	m := make(map[Keyword]string, len(keywordTable))
	for name, kw := range keywordTable {
		m[kw] = name
	}
	return m
}()

// LookupKeyword matches a line prefix case-insensitively.
func LookupKeyword(prefix string) Keyword {
	return keywordTable[strings.ToLower(prefix)]
}

func (k Keyword) String() string {
	if name, ok := keywordNames[k]; ok {
		return name
	}
	return "unrecognized"
}

// ResponseLine is one decoded data line of a server response.
type ResponseLine struct {
	Raw     string
	Keyword Keyword
	Key     string // prefix as sent by the server
	Value   string
	// HasValue is false for empty or malformed lines.
	HasValue bool
}

// ParseResponseLine splits raw at the first ':' or space, whichever comes
// first. It never fails: lines without a usable prefix come back unrecognized
// with no value.
func ParseResponseLine(raw string) ResponseLine {
	line := ResponseLine{Raw: raw}

	sep := strings.IndexAny(raw, ": ")
	if sep <= 0 {
		return line
	}

	line.Key = raw[:sep]
	line.Keyword = LookupKeyword(line.Key)
	line.Value = strings.TrimLeft(raw[sep+1:], " ")
	line.HasValue = true
	return line
}

// Int parses the value as a decimal integer. Track style values such as
// "3/12" yield their leading number.
func (l ResponseLine) Int() (int, error) {
	if !l.HasValue {
		return 0, fmt.Errorf("%s: no value", l.Keyword)
	}
	v := l.Value
	if i := strings.IndexByte(v, '/'); i > 0 {
		v = v[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", l.Keyword, err)
	}
	return n, nil
}

// IntPair parses a colon-delimited pair such as "time: 12:300".
func (l ResponseLine) IntPair() (int, int, error) {
	if !l.HasValue {
		return 0, 0, fmt.Errorf("%s: no value", l.Keyword)
	}
	a, b, ok := strings.Cut(l.Value, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%s: %q is not a pair", l.Keyword, l.Value)
	}
	x, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", l.Keyword, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", l.Keyword, err)
	}
	return x, y, nil
}

// Float parses the value as a floating point number (elapsed, duration).
func (l ResponseLine) Float() (float64, error) {
	if !l.HasValue {
		return 0, fmt.Errorf("%s: no value", l.Keyword)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(l.Value), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", l.Keyword, err)
	}
	return f, nil
}

// Terminal classifies a line as data or as the end of a response.
type Terminal int

const (
	TerminalNone Terminal = iota
	TerminalOK
	TerminalACK
	TerminalInvalid
)

// ClassifyTerminal inspects a raw line. A lone "OK" ends a successful
// response and "ACK ..." a failed one; any other line starting with "OK" can
// only come from a misbehaving server.
func ClassifyTerminal(raw string) Terminal {
	switch {
	case raw == "OK":
		return TerminalOK
	case strings.HasPrefix(raw, "ACK"):
		return TerminalACK
	case strings.HasPrefix(raw, "OK"):
		return TerminalInvalid
	default:
		return TerminalNone
	}
}

// ACK error codes defined by the protocol.
const (
	AckNotList       = 1
	AckArg           = 2
	AckPassword      = 3
	AckPermission    = 4
	AckUnknown       = 5
	AckNoExist       = 50
	AckPlaylistMax   = 51
	AckSystem        = 52
	AckPlaylistLoad  = 53
	AckUpdateAlready = 54
	AckPlayerSync    = 55
	AckExist         = 56
)

// ACKError is a failed command response: ACK [code@index] {command} message.
type ACKError struct {
	Code         int
	CommandIndex int
	Command      string
	Message      string
	// Text is everything after "ACK ", as shown to users.
	Text string
}

func (e *ACKError) Error() string {
	return "mpd: " + e.Text
}

// NotImplemented reports whether the server rejected the command as unknown.
func (e *ACKError) NotImplemented() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "not implemented") ||
		strings.Contains(msg, "unknown command") ||
		e.Code == AckUnknown
}

// ParseACK decodes an ACK terminal line. Fields that cannot be decoded keep
// their zero value; Text always holds the full message.
func ParseACK(raw string) *ACKError {
	text := strings.TrimSpace(strings.TrimPrefix(raw, "ACK"))
	e := &ACKError{Text: text, Message: text}

	rest := text
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return e
		}
		code, idx, _ := strings.Cut(rest[1:end], "@")
		e.Code, _ = strconv.Atoi(code)
		e.CommandIndex, _ = strconv.Atoi(idx)
		rest = strings.TrimSpace(rest[end+1:])
	}
	if strings.HasPrefix(rest, "{") {
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return e
		}
		e.Command = rest[1:end]
		rest = strings.TrimSpace(rest[end+1:])
	}
	e.Message = rest
	return e
}
