// Package socketio bridges the MPD session to UI clients over Socket.io.
package socketio

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/stellar-mpdsession/internal/domain/player"
)

// DefaultDebounceWindow groups idle events before refreshing.
const DefaultDebounceWindow = 50 * time.Millisecond

// stateCompareKeys are the pushState fields that trigger a broadcast. Seek is
// left out: the frontend interpolates it between pushes.
var stateCompareKeys = []string{
	"status", "position", "title", "artist", "album", "uri", "duration",
	"volume", "random", "repeat", "repeatSingle", "consume",
	"samplerate", "bitdepth", "channels", "stream",
}

// Server handles Socket.io connections and events.
type Server struct {
	io            *socket.Server
	playerService *player.Service
	debouncer     *RefreshDebouncer
	limiter       *ClientLimiter
	queueHandlers *QueueHandlers

	mu        sync.RWMutex
	clients   map[string]*socket.Socket
	lastState map[string]interface{}
}

// NewServer creates a new Socket.io server and subscribes it to player changes.
func NewServer(playerService *player.Service) (*Server, error) {
	// Configure Socket.io server options
	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	server := socket.NewServer(nil, opts)

	s := &Server{
		io:            server,
		playerService: playerService,
		clients:       make(map[string]*socket.Socket),
		limiter:       NewClientLimiter(DefaultMaxRemoteClients),
		queueHandlers: NewQueueHandlers(playerService),
	}
	s.debouncer = NewRefreshDebouncer(DefaultDebounceWindow, map[Refresh]func(){
		RefreshState:   playerService.RefreshState,
		RefreshQueue:   playerService.RefreshQueue,
		RefreshOutputs: playerService.RefreshOutputs,
	})

	s.setupHandlers()
	playerService.OnChange(s.handleChange)

	return s, nil
}

// LimitRemoteClients replaces the remote client cap; n <= 0 removes it.
// Call it before serving.
func (s *Server) LimitRemoteClients(n int) {
	s.limiter = NewClientLimiter(n)
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())
		address := client.Handshake().Address

		log.Info().Str("id", clientID).Str("address", address).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		if evicted := s.limiter.Admit(clientID, address); evicted != "" {
			s.evict(evicted)
		}

		// Send the current view right away; it is refreshed by the engine.
		client.Emit("pushConnectionState", s.connectionPayload())
		client.Emit("pushState", s.playerService.GetState())
		client.Emit("pushQueue", s.playerService.GetQueue())

		s.queueHandlers.RegisterHandlers(client)

		// Handle disconnect
		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
			s.limiter.Release(clientID)
		})

		// Player control events
		client.On("getState", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getState")
			client.Emit("pushState", s.playerService.GetState())
			s.playerService.RefreshState()
		})

		client.On("play", func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg("play")

			pos := -1 // Default: resume
			if len(args) > 0 {
				if m, ok := args[0].(map[string]interface{}); ok {
					if v, ok := m["value"].(float64); ok {
						pos = int(v)
					}
				}
			}
			s.report("Play", s.playerService.Play(pos))
		})

		client.On("pause", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("pause")
			s.report("Pause", s.playerService.Pause())
		})

		client.On("stop", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("stop")
			s.report("Stop", s.playerService.Stop())
		})

		client.On("next", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("next")
			s.report("Next", s.playerService.Next())
		})

		client.On("prev", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("prev")
			s.report("Previous", s.playerService.Previous())
		})

		client.On("seek", func(args ...any) {
			if len(args) > 0 {
				if pos, ok := args[0].(float64); ok {
					log.Debug().Str("id", clientID).Float64("pos", pos).Msg("seek")
					s.report("Seek", s.playerService.Seek(int(pos)))
				}
			}
		})

		client.On("volume", func(args ...any) {
			if len(args) > 0 {
				if vol, ok := args[0].(float64); ok {
					log.Debug().Str("id", clientID).Float64("vol", vol).Msg("volume")
					s.report("SetVolume", s.playerService.SetVolume(int(vol)))
				}
			}
		})

		client.On("setRandom", func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg("setRandom")
			if len(args) > 0 {
				if m, ok := args[0].(map[string]interface{}); ok {
					if v, ok := m["value"].(bool); ok {
						s.report("SetRandom", s.playerService.SetRandom(v))
					}
				}
			}
		})

		client.On("setRepeat", func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg("setRepeat")
			if len(args) > 0 {
				if m, ok := args[0].(map[string]interface{}); ok {
					repeat, _ := m["value"].(bool)
					single, _ := m["repeatSingle"].(bool)
					s.report("SetRepeat", s.playerService.SetRepeat(repeat, single))
				}
			}
		})

		// Queue events
		client.On("getQueue", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getQueue")
			client.Emit("pushQueue", s.playerService.GetQueue())
			s.playerService.RefreshQueue()
		})

		client.On("clearQueue", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("clearQueue")
			s.report("ClearQueue", s.playerService.ClearQueue())
		})

		client.On("addToQueue", func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg("addToQueue")
			if len(args) > 0 {
				if m, ok := args[0].(map[string]interface{}); ok {
					if uri, ok := m["uri"].(string); ok {
						s.report("AddToQueue", s.playerService.AddToQueue(uri))
					}
				}
			}
		})
	})
}

// evict disconnects a remote client that lost its slot to a newer one.
func (s *Server) evict(clientID string) {
	s.mu.Lock()
	client, ok := s.clients[clientID]
	delete(s.clients, clientID)
	s.mu.Unlock()
	if !ok {
		return
	}

	log.Info().Str("id", clientID).Msg("Too many remote clients, disconnecting oldest")
	client.Emit("pushToastMessage", map[string]interface{}{
		"type":    "warning",
		"title":   "Session",
		"message": "Another device took over this session",
	})
	client.Disconnect(true)
}

func (s *Server) report(action string, err error) {
	if err != nil {
		log.Error().Err(err).Msgf("%s failed", action)
	}
}

// handleChange runs on the dispatcher goroutine after the player view changed.
func (s *Server) handleChange(c player.Change) {
	switch c {
	case player.ChangeState:
		s.BroadcastState()
	case player.ChangeQueue:
		s.BroadcastQueue()
	case player.ChangeConnection:
		s.io.Emit("pushConnectionState", s.connectionPayload())
	case player.ChangeOutputs:
		s.io.Emit("pushOutputs", s.playerService.Outputs())
	case player.ChangePlaylist:
		pl := s.playerService.Playlist()
		items := make([]map[string]interface{}, len(pl.Songs))
		for i, song := range pl.Songs {
			items[i] = map[string]interface{}{
				"uri":    song.File,
				"title":  song.DisplayTitle(),
				"artist": song.Artist,
				"album":  song.Album,
			}
		}
		s.io.Emit("pushPlaylistContent", map[string]interface{}{
			"name":  pl.Name,
			"items": items,
		})
	case player.ChangeError:
		s.io.Emit("pushToastMessage", map[string]interface{}{
			"type":    "error",
			"title":   "MPD",
			"message": s.playerService.LastError(),
		})
	}
}

func (s *Server) connectionPayload() map[string]interface{} {
	return map[string]interface{}{
		"state": s.playerService.Connection().String(),
	}
}

// BroadcastState sends state to all connected clients when a compared field
// changed since the last broadcast.
func (s *Server) BroadcastState() {
	state := s.playerService.GetState()
	if s.isStateSame(state) {
		return
	}
	s.saveLastState(state)

	s.io.Emit("pushState", state)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(state)
		s.mu.RLock()
		clientCount := len(s.clients)
		s.mu.RUnlock()
		log.Debug().RawJSON("state", data).Int("clients", clientCount).Msg("Broadcast state")
	}
}

// BroadcastQueue sends queue to all connected clients.
func (s *Server) BroadcastQueue() {
	s.io.Emit("pushQueue", s.playerService.GetQueue())
}

func (s *Server) saveLastState(state map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastState = make(map[string]interface{}, len(stateCompareKeys))
	for _, key := range stateCompareKeys {
		if v, ok := state[key]; ok {
			s.lastState[key] = v
		}
	}
}

func (s *Server) isStateSame(state map[string]interface{}) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastState == nil {
		return false
	}
	for _, key := range stateCompareKeys {
		prev, hadPrev := s.lastState[key]
		cur, hasCur := state[key]
		if hadPrev != hasCur || !reflect.DeepEqual(prev, cur) {
			return false
		}
	}
	return true
}

// StartMPDWatcher feeds idle events into the refresh debouncer until ctx is
// done or events is closed.
func (s *Server) StartMPDWatcher(ctx context.Context, events <-chan string) {
	go func() {
		defer s.debouncer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case subsystem, ok := <-events:
				if !ok {
					log.Warn().Msg("MPD watcher channel closed")
					return
				}
				log.Debug().Str("subsystem", subsystem).Msg("MPD subsystem changed")
				s.debouncer.Trigger(subsystem)
			}
		}
	}()
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
