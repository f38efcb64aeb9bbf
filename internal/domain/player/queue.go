package player

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-mpdsession/internal/infra/mpd"
)

// Output is an audio output as reported by the outputs command.
type Output struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// PlaylistContent is the last stored playlist fetched with FetchPlaylist.
type PlaylistContent struct {
	Name  string
	Songs []mpd.SongBlock
}

func (s *Service) registerQueueEditing(d *mpd.Dispatcher) {
	d.OnLines(mpd.OpOutputs, func(_ mpd.Command, lines []mpd.ResponseLine) {
		outputs := parseOutputs(lines)
		s.mu.Lock()
		s.outputs = outputs
		s.mu.Unlock()
		s.notify(ChangeOutputs)
	})
	d.OnSongs(mpd.OpListPlaylistInfo, func(cmd mpd.Command, songs []mpd.SongBlock) {
		s.mu.Lock()
		s.playlist = PlaylistContent{Name: cmd.Arg(0), Songs: songs}
		s.mu.Unlock()
		s.notify(ChangePlaylist)
	})
}

// parseOutputs groups outputs lines; each output starts at an outputid line.
func parseOutputs(lines []mpd.ResponseLine) []Output {
	var outputs []Output
	for _, line := range lines {
		switch line.Keyword {
		case mpd.KeywordOutputID:
			id, err := line.Int()
			if err != nil {
				continue
			}
			outputs = append(outputs, Output{ID: id})
		case mpd.KeywordOutputName:
			if len(outputs) > 0 {
				outputs[len(outputs)-1].Name = line.Value
			}
		case mpd.KeywordOutputEnabled:
			if len(outputs) > 0 {
				outputs[len(outputs)-1].Enabled = line.Value == "1"
			}
		}
	}
	return outputs
}

// Outputs returns the last known audio outputs.
func (s *Service) Outputs() []Output {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Output(nil), s.outputs...)
}

// Playlist returns the last fetched stored playlist.
func (s *Service) Playlist() PlaylistContent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playlist
}

// songIDAt returns the server id of the queue entry at pos.
func (s *Service) songIDAt(pos int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pos < 0 || pos >= len(s.queue) || s.queue[pos].ID == nil {
		return 0, fmt.Errorf("queue position %d: %w", pos, ErrNoSong)
	}
	return *s.queue[pos].ID, nil
}

// sendQueue enqueues a queue editing command followed by a queue refresh.
func (s *Service) sendQueue(cmd mpd.Command) error {
	if err := s.send(cmd); err != nil {
		return err
	}
	s.RefreshQueue()
	return nil
}

// Toggle pauses while playing and plays otherwise.
func (s *Service) Toggle() error {
	if s.state.Clone().Status == StatusPlay {
		return s.Pause()
	}
	return s.Play(-1)
}

// AddAndPlay appends uri to the queue and starts playing it.
func (s *Service) AddAndPlay(uri string) error {
	log.Info().Str("uri", uri).Msg("AddAndPlay")
	pos := s.state.Clone().QueueLength
	if !s.engine.Enqueue(mpd.Add(uri)) {
		return ErrNotAccepted
	}
	return s.sendQueue(mpd.PlayPos(pos))
}

// InsertNext queues uri right after the current song.
func (s *Service) InsertNext(uri string) error {
	log.Info().Str("uri", uri).Msg("InsertNext")
	pos := s.state.Clone().Position + 1
	return s.sendQueue(mpd.AddIDAt(uri, pos))
}

// MoveQueueItem moves the entry at position from to position to.
func (s *Service) MoveQueueItem(from, to int) error {
	log.Info().Int("from", from).Int("to", to).Msg("MoveQueueItem")
	id, err := s.songIDAt(from)
	if err != nil {
		return err
	}
	return s.sendQueue(mpd.MoveID(id, to))
}

// RemoveQueueItem deletes the entry at pos.
func (s *Service) RemoveQueueItem(pos int) error {
	log.Info().Int("position", pos).Msg("RemoveQueueItem")
	id, err := s.songIDAt(pos)
	if err != nil {
		return err
	}
	return s.sendQueue(mpd.DeleteID(id))
}

// PlayQueueItem plays the entry at pos by its id, which stays valid even if
// the queue was reordered since the client rendered it.
func (s *Service) PlayQueueItem(pos int) error {
	id, err := s.songIDAt(pos)
	if err != nil {
		return err
	}
	return s.send(mpd.PlayID(id))
}

// ShuffleQueue shuffles the play queue.
func (s *Service) ShuffleQueue() error {
	log.Info().Msg("ShuffleQueue")
	return s.sendQueue(mpd.Shuffle())
}

// SetConsume toggles removal of songs after they played.
func (s *Service) SetConsume(on bool) error {
	log.Info().Bool("consume", on).Msg("SetConsume")
	return s.send(mpd.Consume(on))
}

// SavePlaylist stores the queue under name.
func (s *Service) SavePlaylist(name string) error {
	log.Info().Str("name", name).Msg("SavePlaylist")
	if !s.engine.Enqueue(mpd.Save(name)) {
		return ErrNotAccepted
	}
	return nil
}

// LoadPlaylist appends a stored playlist to the queue.
func (s *Service) LoadPlaylist(name string) error {
	log.Info().Str("name", name).Msg("LoadPlaylist")
	return s.sendQueue(mpd.Load(name))
}

// DeletePlaylist removes a stored playlist.
func (s *Service) DeletePlaylist(name string) error {
	log.Info().Str("name", name).Msg("DeletePlaylist")
	if !s.engine.Enqueue(mpd.Rm(name)) {
		return ErrNotAccepted
	}
	return nil
}

// RenamePlaylist renames a stored playlist.
func (s *Service) RenamePlaylist(from, to string) error {
	log.Info().Str("from", from).Str("to", to).Msg("RenamePlaylist")
	if !s.engine.Enqueue(mpd.Rename(from, to)) {
		return ErrNotAccepted
	}
	return nil
}

// FetchPlaylist requests the songs of a stored playlist.
func (s *Service) FetchPlaylist(name string) error {
	if !s.engine.Enqueue(mpd.ListPlaylistInfo(name)) {
		return ErrNotAccepted
	}
	return nil
}

// RefreshOutputs requests the audio output list.
func (s *Service) RefreshOutputs() {
	s.engine.Enqueue(mpd.Outputs())
}

// SetOutput enables or disables an audio output.
func (s *Service) SetOutput(id int, enabled bool) error {
	log.Info().Int("output", id).Bool("enabled", enabled).Msg("SetOutput")
	cmd := mpd.DisableOutput(id)
	if enabled {
		cmd = mpd.EnableOutput(id)
	}
	if !s.engine.Enqueue(cmd) {
		return ErrNotAccepted
	}
	s.RefreshOutputs()
	return nil
}

// UpdateDatabase asks the server to rescan its music directory.
func (s *Service) UpdateDatabase() error {
	log.Info().Msg("UpdateDatabase")
	if !s.engine.Enqueue(mpd.Update()) {
		return ErrNotAccepted
	}
	return nil
}
