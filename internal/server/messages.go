package server

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/go-roomcast/internal/types"
)

// ClientMessage is a raw frame read from a client, routed to its room.
type ClientMessage struct {
	raw    []byte
	client *Client
}

func NewEnvelope(eventType string, payload map[string]any) *types.Envelope {
	if payload == nil {
		payload = map[string]any{}
	}

	return &types.Envelope{
		Type:    eventType,
		Payload: payload,
	}
}

func ConnectedEnvelope(projectId, connectionId string, count int) *types.Envelope {
	return NewEnvelope(types.EventConnected, map[string]any{
		"roomId":          projectId,
		"connectionId":    connectionId,
		"connectionCount": count,
	})
}

func PresenceEnvelope(eventType, projectId string, user types.User) *types.Envelope {
	env := NewEnvelope(eventType, map[string]any{
		"userId":    user.Id,
		"userName":  user.Name,
		"projectId": projectId,
	})
	env.UserId = user.Id
	return env
}

func PongEnvelope() *types.Envelope {
	return NewEnvelope(types.EventPong, nil)
}

func serializeEnvelope(env *types.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func parseEnvelope(raw []byte) (*types.Envelope, error) {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	return &env, nil
}

// Now returns the current time in milliseconds since the epoch.
func Now() int64 {
	return time.Now().UnixMilli()
}
