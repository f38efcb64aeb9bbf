// Package player keeps a Volumio-style view of the MPD player, built from the
// responses the session engine delivers, and turns user intents into commands.
package player

import (
	"math"
	"strings"
	"sync"

	"github.com/edumarques81/stellar-mpdsession/internal/infra/mpd"
)

// Status constants for player state
const (
	StatusPlay  = "play"
	StatusPause = "pause"
	StatusStop  = "stop"
)

// State represents the current player state.
// It is safe for concurrent access.
type State struct {
	mu sync.RWMutex

	// Playback state
	Status   string
	Position int // Current position in queue, -1 when none
	SongID   int
	Seek     int // Current seek position in milliseconds

	// Track info
	Title      string
	Artist     string
	Album      string
	URI        string
	Duration   int
	TrackType  string
	SampleRate string
	BitDepth   string
	Channels   string
	BitRate    string
	Service    string

	// Playback options
	Random       bool
	Repeat       bool
	RepeatSingle bool
	Consume      bool

	// Volume, -1 when the server has no mixer
	Volume int

	// Stream info (for internet radio, etc.)
	Stream string

	QueueLength int
	Error       string
}

// NewState creates a new player state with default values.
func NewState() *State {
	return &State{
		Status:   StatusStop,
		Position: -1,
		SongID:   -1,
		Volume:   100,
		Service:  "mpd",
	}
}

// ApplyStatus folds the lines of a status response into the state. Fields
// missing from the response are reset, matching how MPD omits them when idle.
func (s *State) ApplyStatus(lines []mpd.ResponseLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Position = -1
	s.SongID = -1
	s.Seek = 0
	s.BitRate = ""
	s.Error = ""
	durationSeen := false

	for _, line := range lines {
		switch line.Keyword {
		case mpd.KeywordState:
			switch line.Value {
			case StatusPlay, StatusPause:
				s.Status = line.Value
			default:
				s.Status = StatusStop
			}
		case mpd.KeywordSong:
			if n, err := line.Int(); err == nil {
				s.Position = n
			}
		case mpd.KeywordSongID:
			if n, err := line.Int(); err == nil {
				s.SongID = n
			}
		case mpd.KeywordElapsed:
			// MPD returns seconds with decimals
			if f, err := line.Float(); err == nil {
				s.Seek = int(f * 1000)
			}
		case mpd.KeywordTime:
			// Older servers: "time: elapsed:total"
			if elapsed, total, err := line.IntPair(); err == nil {
				if s.Seek == 0 {
					s.Seek = elapsed * 1000
				}
				if !durationSeen {
					s.Duration = total
				}
			}
		case mpd.KeywordDuration:
			if f, err := line.Float(); err == nil {
				s.Duration = int(math.Round(f))
				durationSeen = true
			}
		case mpd.KeywordVolume:
			if n, err := line.Int(); err == nil {
				s.Volume = n
			}
		case mpd.KeywordRandom:
			s.Random = line.Value == "1"
		case mpd.KeywordRepeat:
			s.Repeat = line.Value == "1"
		case mpd.KeywordSingle:
			s.RepeatSingle = line.Value == "1"
		case mpd.KeywordConsume:
			s.Consume = line.Value == "1"
		case mpd.KeywordPlaylistLength:
			if n, err := line.Int(); err == nil {
				s.QueueLength = n
			}
		case mpd.KeywordBitrate:
			if line.Value != "0" {
				s.BitRate = line.Value
			}
		case mpd.KeywordAudio:
			// Format: samplerate:bits:channels (e.g., "96000:24:2")
			parts := strings.Split(line.Value, ":")
			if len(parts) >= 2 {
				s.SampleRate = parts[0]
				s.BitDepth = parts[1]
			}
			if len(parts) >= 3 {
				s.Channels = parts[2]
			}
		case mpd.KeywordError:
			s.Error = line.Value
		}
	}

	if s.Status == StatusStop {
		s.Seek = 0
	}
}

// ApplyCurrentSong updates track metadata; nil clears it.
func (s *State) ApplyCurrentSong(song *mpd.SongBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if song == nil {
		s.Title, s.Artist, s.Album, s.URI = "", "", "", ""
		s.TrackType, s.Stream = "", ""
		return
	}

	s.Title = song.DisplayTitle()
	s.Artist = song.Artist
	s.Album = song.Album
	s.URI = song.File
	s.Stream = song.Name
	s.TrackType = trackType(song.File)
	if song.Time != nil {
		s.Duration = *song.Time
	}
}

// ToJSON returns the state as a map suitable for JSON serialization.
// This matches the Volumio pushState format.
func (s *State) ToJSON() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	position := s.Position
	if position < 0 {
		position = 0
	}

	return map[string]interface{}{
		"status":               s.Status,
		"position":             position,
		"seek":                 s.Seek,
		"title":                s.Title,
		"artist":               s.Artist,
		"album":                s.Album,
		"uri":                  s.URI,
		"duration":             s.Duration,
		"trackType":            s.TrackType,
		"samplerate":           s.SampleRate,
		"bitdepth":             s.BitDepth,
		"channels":             s.Channels,
		"bitrate":              s.BitRate,
		"service":              s.Service,
		"random":               s.Random,
		"repeat":               s.Repeat,
		"repeatSingle":         s.RepeatSingle,
		"consume":              s.Consume,
		"volume":               s.Volume,
		"mute":                 false, // MPD has no mute
		"stream":               s.Stream,
		"disableVolumeControl": s.Volume < 0,
	}
}

// Clone returns a copy of the current state.
func (s *State) Clone() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &State{
		Status:       s.Status,
		Position:     s.Position,
		SongID:       s.SongID,
		Seek:         s.Seek,
		Title:        s.Title,
		Artist:       s.Artist,
		Album:        s.Album,
		URI:          s.URI,
		Duration:     s.Duration,
		TrackType:    s.TrackType,
		SampleRate:   s.SampleRate,
		BitDepth:     s.BitDepth,
		Channels:     s.Channels,
		BitRate:      s.BitRate,
		Service:      s.Service,
		Random:       s.Random,
		Repeat:       s.Repeat,
		RepeatSingle: s.RepeatSingle,
		Consume:      s.Consume,
		Volume:       s.Volume,
		Stream:       s.Stream,
		QueueLength:  s.QueueLength,
		Error:        s.Error,
	}
}

// trackType derives the track type from the file extension.
func trackType(file string) string {
	if strings.Contains(file, "://") {
		return "webradio"
	}
	if idx := strings.LastIndex(file, "."); idx != -1 && idx < len(file)-1 {
		return strings.ToLower(file[idx+1:])
	}
	return ""
}
