package models

import "github.com/google/uuid"

// WebSocket message types
const (
	EventStateChanged   = "state_changed"
	EventSurfaceUpdated = "surface_updated"
	EventNotification   = "notification"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type SurfaceUpdate struct {
	SessionID uuid.UUID `json:"session_id"`
	SurfaceID string    `json:"surface_id"`
	RenderID  string    `json:"render_id"`
	Status    string    `json:"status"`
	Content   string    `json:"content"`
}

// Notification is a transient toast-style message for the client.
type Notification struct {
	SessionID   uuid.UUID `json:"session_id"`
	Variant     string    `json:"variant"` // "default" | "destructive"
	Title       string    `json:"title"`
	Description string    `json:"description"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
