package models

import (
	"time"

	"github.com/google/uuid"
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ConversationTurn is one chat-style entry of an editing session.
type ConversationTurn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// PendingSuggestion is an unresolved proposal to switch diagram category.
type PendingSuggestion struct {
	SuggestedCategory       string `json:"suggested_category"`
	Reason                  string `json:"reason"`
	OriginalInstructionText string `json:"original_instruction"`
}

type SessionState string

const (
	StateIdle              SessionState = "idle"
	StateGenerating        SessionState = "generating"
	StateSuggestionPending SessionState = "suggestion_pending"
)

// SurfaceSnapshot is the current content of one render target.
type SurfaceSnapshot struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // "empty" | "rendered" | "failed"
	Content string `json:"content"`
}

// SessionSnapshot is a point-in-time copy of a session for API responses and events.
type SessionSnapshot struct {
	ID                uuid.UUID          `json:"id"`
	State             SessionState       `json:"state"`
	CurrentMarkup     string             `json:"current_markup"`
	SelectedCategory  string             `json:"selected_category"`
	Conversation      []ConversationTurn `json:"conversation"`
	PendingSuggestion *PendingSuggestion `json:"pending_suggestion"`
	AttachedDocument  *Document          `json:"attached_document"`
	Surfaces          []SurfaceSnapshot  `json:"surfaces"`
	CanExport         bool               `json:"can_export"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// API payloads

type CreateSessionRequest struct {
	Category string `json:"category"`
}

type SelectCategoryRequest struct {
	Category string `json:"category"`
}

type SubmitInstructionRequest struct {
	Instruction string `json:"instruction"`
}

type EditMarkupRequest struct {
	Markup string `json:"markup"`
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}
