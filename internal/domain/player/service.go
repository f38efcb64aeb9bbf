package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-mpdsession/internal/infra/mpd"
)

// ErrNotAccepted is returned when the engine refused a command because it is
// shutting down.
var ErrNotAccepted = errors.New("command not accepted by MPD session")

// ErrNoSong is returned by Seek when nothing is loaded.
var ErrNoSong = errors.New("no song playing")

// Enqueuer is the part of the session engine the service needs.
type Enqueuer interface {
	Enqueue(cmd mpd.Command) bool
}

// Change identifies which part of the view was updated.
type Change int

const (
	ChangeState Change = iota
	ChangeQueue
	ChangeConnection
	ChangeError
	ChangeOutputs
	ChangePlaylist
)

// Service handles player operations.
type Service struct {
	engine Enqueuer
	state  *State

	mu         sync.RWMutex
	queue      []mpd.SongBlock
	connection mpd.ConnectionState
	lastError  string
	outputs    []Output
	playlist   PlaylistContent
	listeners  []func(Change)
}

// NewService creates a new player service.
func NewService(engine Enqueuer) *Service {
	return &Service{
		engine: engine,
		state:  NewState(),
	}
}

// Register subscribes the service to the responses it folds into its view.
func (s *Service) Register(d *mpd.Dispatcher) {
	d.OnLines(mpd.OpStatus, func(_ mpd.Command, lines []mpd.ResponseLine) {
		s.state.ApplyStatus(lines)
		s.notify(ChangeState)
	})
	d.OnSongs(mpd.OpCurrentSong, func(_ mpd.Command, songs []mpd.SongBlock) {
		if len(songs) == 0 {
			s.state.ApplyCurrentSong(nil)
		} else {
			s.state.ApplyCurrentSong(&songs[0])
		}
		s.notify(ChangeState)
	})
	d.OnSongs(mpd.OpPlaylistInfo, func(_ mpd.Command, songs []mpd.SongBlock) {
		s.mu.Lock()
		s.queue = songs
		s.mu.Unlock()
		s.notify(ChangeQueue)
	})
	d.OnError(func(cmd mpd.Command, err *mpd.ACKError) {
		s.mu.Lock()
		s.lastError = err.Text
		s.mu.Unlock()
		s.notify(ChangeError)
	})
	d.OnStateChanged(func(state mpd.ConnectionState) {
		s.mu.Lock()
		s.connection = state
		s.mu.Unlock()
		if state == mpd.StateConnected {
			s.RefreshState()
			s.RefreshQueue()
			s.RefreshOutputs()
		}
		s.notify(ChangeConnection)
	})
	s.registerQueueEditing(d)
}

// OnChange registers fn to be called after the view changes. Callbacks run on
// the dispatcher's goroutine.
func (s *Service) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) notify(c Change) {
	s.mu.RLock()
	listeners := make([]func(Change), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}

// State returns a snapshot of the player state.
func (s *Service) State() *State {
	return s.state.Clone()
}

// GetState returns the current player state in Volumio-compatible format.
func (s *Service) GetState() map[string]interface{} {
	return s.state.ToJSON()
}

// Connection returns the last connection state seen.
func (s *Service) Connection() mpd.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection
}

// LastError returns the text of the last failed command.
func (s *Service) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// GetQueue returns the current queue in Volumio-compatible format.
func (s *Service) GetQueue() []map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queue := make([]map[string]interface{}, len(s.queue))
	for i, song := range s.queue {
		item := map[string]interface{}{
			"uri":       song.File,
			"title":     song.DisplayTitle(),
			"artist":    song.Artist,
			"album":     song.Album,
			"service":   "mpd",
			"trackType": trackType(song.File),
		}
		if song.Time != nil {
			item["duration"] = *song.Time
		}
		if song.ID != nil {
			item["id"] = *song.ID
		}
		queue[i] = item
	}
	return queue
}

// RefreshState asks the server for status and the current song.
func (s *Service) RefreshState() {
	s.engine.Enqueue(mpd.Status())
	s.engine.Enqueue(mpd.CurrentSong())
}

// RefreshQueue asks the server for the play queue.
func (s *Service) RefreshQueue() {
	s.engine.Enqueue(mpd.PlaylistInfo())
}

// StartPolling refreshes the state every interval until ctx is done.
func (s *Service) StartPolling(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.engine.Enqueue(mpd.Status())
			}
		}
	}()
}

// send enqueues a state changing command followed by a status refresh.
func (s *Service) send(cmd mpd.Command) error {
	if !s.engine.Enqueue(cmd) {
		return ErrNotAccepted
	}
	s.RefreshState()
	return nil
}

// Play starts playback at the given position, or resumes if pos < 0.
func (s *Service) Play(pos int) error {
	log.Info().Int("position", pos).Msg("Play")
	if pos < 0 {
		return s.send(mpd.Play())
	}
	return s.send(mpd.PlayPos(pos))
}

// Pause pauses playback.
func (s *Service) Pause() error {
	log.Info().Msg("Pause")
	return s.send(mpd.Pause(true))
}

// Stop stops playback.
func (s *Service) Stop() error {
	log.Info().Msg("Stop")
	return s.send(mpd.Stop())
}

// Next plays the next track.
func (s *Service) Next() error {
	log.Info().Msg("Next")
	return s.send(mpd.Next())
}

// Previous plays the previous track.
func (s *Service) Previous() error {
	log.Info().Msg("Previous")
	return s.send(mpd.Previous())
}

// Seek seeks to position in seconds within the current song.
func (s *Service) Seek(pos int) error {
	log.Info().Int("position", pos).Msg("Seek")
	st := s.state.Clone()
	if st.Position < 0 {
		return ErrNoSong
	}
	return s.send(mpd.Seek(st.Position, pos))
}

// SetVolume sets the volume (0-100).
func (s *Service) SetVolume(vol int) error {
	log.Info().Int("volume", vol).Msg("SetVolume")
	if vol < 0 {
		vol = 0
	} else if vol > 100 {
		vol = 100
	}
	return s.send(mpd.SetVol(vol))
}

// SetRandom sets shuffle/random mode.
func (s *Service) SetRandom(on bool) error {
	log.Info().Bool("random", on).Msg("SetRandom")
	return s.send(mpd.Random(on))
}

// SetRepeat sets repeat mode.
func (s *Service) SetRepeat(on, single bool) error {
	log.Info().Bool("repeat", on).Bool("single", single).Msg("SetRepeat")
	if !s.engine.Enqueue(mpd.Repeat(on)) {
		return ErrNotAccepted
	}
	return s.send(mpd.Single(single))
}

// ClearQueue clears the queue.
func (s *Service) ClearQueue() error {
	log.Info().Msg("ClearQueue")
	if err := s.send(mpd.Clear()); err != nil {
		return err
	}
	s.RefreshQueue()
	return nil
}

// AddToQueue adds a URI to the queue.
func (s *Service) AddToQueue(uri string) error {
	log.Info().Str("uri", uri).Msg("AddToQueue")
	if err := s.send(mpd.Add(uri)); err != nil {
		return err
	}
	s.RefreshQueue()
	return nil
}
