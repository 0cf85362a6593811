package types

const (
	EventConnected  = "CONNECTED"
	EventUserJoined = "USER_JOINED"
	EventUserLeft   = "USER_LEFT"
	EventPing       = "PING"
	EventPong       = "PONG"
)

// Envelope is the message exchanged with clients over the websocket.
type Envelope struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
	UserId    string         `json:"userId,omitempty"`
}

// BroadcastRequest is the body accepted by a room's HTTP ingress.
type BroadcastRequest struct {
	EventType     string         `json:"eventType"`
	Payload       map[string]any `json:"payload,omitempty"`
	ExcludeUserId string         `json:"excludeUserId,omitempty"`
}

type BroadcastResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Recipients *int   `json:"recipients,omitempty"`
	Error      string `json:"error,omitempty"`
}

type User struct {
	Id   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type RoomStats struct {
	ProjectId   string   `json:"project_id"`
	Connections int      `json:"connections"`
	Users       []string `json:"users"`
}

