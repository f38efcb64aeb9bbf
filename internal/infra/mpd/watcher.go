package mpd

import (
	"context"
	"fmt"
	"time"

	gompd "github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"
)

// Subsystems the player view cares about.
var DefaultWatchSubsystems = []string{"player", "mixer", "playlist", "options", "output"}

// Watch follows MPD idle notifications on a dedicated connection and reports
// the name of every subsystem that changed. It never touches the engine's
// connection; callers usually answer an event by enqueuing refresh commands.
// The channel is closed when ctx is done.
func Watch(ctx context.Context, cfg Config, subsystems ...string) (<-chan string, error) {
	cfg = cfg.withDefaults()
	if len(subsystems) == 0 {
		subsystems = DefaultWatchSubsystems
	}

	watcher, err := gompd.NewWatcher("tcp", cfg.Addr(), cfg.Password, subsystems...)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ch := make(chan string, 10)

	go func() {
		defer close(ch)
		defer watcher.Close()

		log.Info().Strs("subsystems", subsystems).Str("addr", cfg.Addr()).Msg("MPD watcher started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("MPD watcher stopped")
				return
			case subsystem, ok := <-watcher.Event:
				if !ok {
					log.Warn().Msg("MPD watcher channel closed")
					return
				}
				select {
				case ch <- subsystem:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Error:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("MPD watcher error")
				// gompd redials on its own; back off so a dead server is not hammered.
				select {
				case <-time.After(cfg.CoolOff):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
