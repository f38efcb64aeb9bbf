package socketio

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"

	"github.com/edumarques81/stellar-mpdsession/internal/domain/player"
)

// errBadPayload is reported when an event lacks the fields it needs.
var errBadPayload = errors.New("missing or invalid event payload")

type queueAction func(args []any) error

// QueueHandlers serves the Volumio queue, playlist and output events.
type QueueHandlers struct {
	playerService *player.Service
	actions       map[string]queueAction
}

// NewQueueHandlers creates the handler table for playerSvc.
func NewQueueHandlers(playerSvc *player.Service) *QueueHandlers {
	h := &QueueHandlers{playerService: playerSvc}
	h.actions = map[string]queueAction{
		"toggle":               h.toggle,
		"addPlay":              h.addPlay,
		"playNext":             h.playNext,
		"addToQueueNext":       h.playNext,
		"moveQueue":            h.moveQueue,
		"removeFromQueue":      h.removeFromQueue,
		"playQueueItem":        h.playQueueItem,
		"shuffleQueue":         h.shuffle,
		"setConsume":           h.setConsume,
		"saveQueueToPlaylist":  h.savePlaylist,
		"enqueue":              h.loadPlaylist,
		"deletePlaylist":       h.deletePlaylist,
		"renamePlaylist":       h.renamePlaylist,
		"fetchPlaylistContent": h.fetchPlaylist,
		"getOutputs":           h.getOutputs,
		"setOutput":            h.setOutput,
		"updateDb":             h.updateDb,
	}
	return h
}

// RegisterHandlers binds every event on client.
func (h *QueueHandlers) RegisterHandlers(client *socket.Socket) {
	clientID := string(client.Id())
	for event := range h.actions {
		client.On(event, func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg(event)
			if err := h.Handle(event, args); err != nil {
				log.Error().Err(err).Str("event", event).Msg("Queue event failed")
			}
		})
	}
}

// Handle runs the action bound to event.
func (h *QueueHandlers) Handle(event string, args []any) error {
	action, ok := h.actions[event]
	if !ok {
		return fmt.Errorf("unknown event %q", event)
	}
	return action(args)
}

func (h *QueueHandlers) toggle([]any) error {
	return h.playerService.Toggle()
}

func (h *QueueHandlers) addPlay(args []any) error {
	uri := getStringArg(args, "uri")
	if uri == "" {
		return errBadPayload
	}
	return h.playerService.AddAndPlay(uri)
}

func (h *QueueHandlers) playNext(args []any) error {
	uri := getStringArg(args, "uri")
	if uri == "" {
		return errBadPayload
	}
	return h.playerService.InsertNext(uri)
}

func (h *QueueHandlers) moveQueue(args []any) error {
	m := getMapArg(args)
	from := getIntFromMap(m, "from", -1)
	to := getIntFromMap(m, "to", -1)
	if from < 0 || to < 0 {
		return errBadPayload
	}
	return h.playerService.MoveQueueItem(from, to)
}

func (h *QueueHandlers) removeFromQueue(args []any) error {
	pos := getPositionArg(args)
	if pos < 0 {
		return errBadPayload
	}
	return h.playerService.RemoveQueueItem(pos)
}

func (h *QueueHandlers) playQueueItem(args []any) error {
	pos := getPositionArg(args)
	if pos < 0 {
		return errBadPayload
	}
	return h.playerService.PlayQueueItem(pos)
}

func (h *QueueHandlers) shuffle([]any) error {
	return h.playerService.ShuffleQueue()
}

func (h *QueueHandlers) setConsume(args []any) error {
	v, ok := getMapArg(args)["value"].(bool)
	if !ok {
		return errBadPayload
	}
	return h.playerService.SetConsume(v)
}

func (h *QueueHandlers) savePlaylist(args []any) error {
	name := getStringArg(args, "name")
	if name == "" {
		return errBadPayload
	}
	return h.playerService.SavePlaylist(name)
}

func (h *QueueHandlers) loadPlaylist(args []any) error {
	name := getStringArg(args, "name")
	if name == "" {
		return errBadPayload
	}
	return h.playerService.LoadPlaylist(name)
}

func (h *QueueHandlers) deletePlaylist(args []any) error {
	name := getStringArg(args, "name")
	if name == "" {
		return errBadPayload
	}
	return h.playerService.DeletePlaylist(name)
}

func (h *QueueHandlers) renamePlaylist(args []any) error {
	m := getMapArg(args)
	from, _ := m["from"].(string)
	to, _ := m["to"].(string)
	if from == "" || to == "" {
		return errBadPayload
	}
	return h.playerService.RenamePlaylist(from, to)
}

func (h *QueueHandlers) fetchPlaylist(args []any) error {
	name := getStringArg(args, "name")
	if name == "" {
		return errBadPayload
	}
	return h.playerService.FetchPlaylist(name)
}

func (h *QueueHandlers) getOutputs([]any) error {
	h.playerService.RefreshOutputs()
	return nil
}

func (h *QueueHandlers) setOutput(args []any) error {
	m := getMapArg(args)
	id := getIntFromMap(m, "id", -1)
	enabled, ok := m["enabled"].(bool)
	if id < 0 || !ok {
		return errBadPayload
	}
	return h.playerService.SetOutput(id, enabled)
}

func (h *QueueHandlers) updateDb([]any) error {
	return h.playerService.UpdateDatabase()
}

// getMapArg returns the first argument as an object, or nil.
func getMapArg(args []any) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	m, _ := args[0].(map[string]interface{})
	return m
}

// getStringArg accepts both a bare string and an object carrying key.
func getStringArg(args []any, key string) string {
	if len(args) == 0 {
		return ""
	}
	if s, ok := args[0].(string); ok {
		return s
	}
	s, _ := getMapArg(args)[key].(string)
	return s
}

// getPositionArg accepts a bare number or {value} / {position}.
func getPositionArg(args []any) int {
	if len(args) == 0 {
		return -1
	}
	switch v := args[0].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case map[string]interface{}:
		if pos := getIntFromMap(v, "value", -1); pos >= 0 {
			return pos
		}
		return getIntFromMap(v, "position", -1)
	}
	return -1
}

// getIntFromMap safely extracts an integer from a map.
func getIntFromMap(m map[string]interface{}, key string, defaultVal int) int {
	if m == nil {
		return defaultVal
	}
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case int64:
		return int(v)
	}
	return defaultVal
}
