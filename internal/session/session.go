// Package session holds the per-user diagram editing state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"diagrammer-backend/internal/export"
	"diagrammer-backend/internal/markup"
	"diagrammer-backend/internal/models"
	"diagrammer-backend/internal/observability"
	"diagrammer-backend/internal/render"
	"diagrammer-backend/internal/services"
)

// DefaultDocumentInstruction is used when a document is attached without any text.
const DefaultDocumentInstruction = "Summarize the uploaded document into a diagram."

const publishTimeout = 5 * time.Second

var ErrClosed = errors.New("session is closed")

// Publisher delivers session events to connected clients.
type Publisher interface {
	PublishUpdate(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) error

func (f PublisherFunc) PublishUpdate(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) error {
	return f(ctx, sessionID, msg)
}

type Options struct {
	ChatDebounce     time.Duration
	EditDebounce     time.Duration
	MaxDocumentBytes int64
}

type Session struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	mu         sync.Mutex
	state      models.SessionState
	markup     string
	categoryID string
	turns      []models.ConversationTurn
	pending    *models.PendingSuggestion
	document   *models.Document
	closed     bool
	genSeq     uint64
	updatedAt  time.Time

	// exportSVG is written from the render path, which never takes mu.
	viewMu    sync.RWMutex
	exportSVG string

	board     *render.Board
	scheduler *render.Scheduler
	generator services.DiagramGenerator
	publisher Publisher
	opts      Options
}

func newSession(ownerID uuid.UUID, categoryID string, generator services.DiagramGenerator, publisher Publisher, scheduler *render.Scheduler, opts Options) *Session {
	s := &Session{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		state:      models.StateIdle,
		categoryID: categoryID,
		updatedAt:  time.Now().UTC(),
		scheduler:  scheduler,
		generator:  generator,
		publisher:  publisher,
		opts:       opts,
	}
	s.board = render.NewBoard(s.onSurfaceUpdate)
	s.board.Mount(render.SurfacePreview)
	return s
}

// Generation is an instruction accepted by the session and waiting for the generator.
// Exactly one of Run or Abort must be called.
type Generation struct {
	session  *Session
	seq      uint64
	request  models.GenerationRequest
	terminal bool
}

// Run calls the generator and applies its outcome to the session.
func (g *Generation) Run(ctx context.Context) error {
	ctx = observability.WithSessionID(ctx, g.session.ID.String())
	res, err := g.session.generator.Generate(ctx, g.request)
	g.session.complete(ctx, g, res, err)
	return err
}

// Abort fails the generation without calling the generator.
func (g *Generation) Abort(ctx context.Context, err error) {
	g.session.complete(ctx, g, nil, err)
}

// Submit sends an instruction and waits for the result. A generation failure is
// returned as well as recorded as an assistant turn.
func (s *Session) Submit(ctx context.Context, text string, doc *models.Document) error {
	gen, err := s.StartSubmit(ctx, text, doc)
	if err != nil {
		return err
	}
	return gen.Run(ctx)
}

// StartSubmit moves the session to Generating and returns the pending generation.
// While a generation is outstanding it fails with services.ErrGenerationInFlight and
// changes nothing.
func (s *Session) StartSubmit(ctx context.Context, text string, doc *models.Document) (*Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.state == models.StateGenerating {
		return nil, services.ErrGenerationInFlight
	}

	text = strings.TrimSpace(text)
	if doc != nil {
		if s.opts.MaxDocumentBytes > 0 && int64(len(doc.Data)) > s.opts.MaxDocumentBytes {
			return nil, services.NewTooLargeError(s.opts.MaxDocumentBytes)
		}
		s.document = doc
	}
	if text == "" {
		if s.document == nil {
			return nil, &services.ValidationError{Fields: map[string]string{"instruction": "Enter an instruction or attach a document"}}
		}
		text = DefaultDocumentInstruction
	}

	s.turns = append(s.turns, models.ConversationTurn{Speaker: models.SpeakerUser, Text: text})
	gen := s.beginLocked(text, false)
	s.publishStateLocked(ctx)
	return gen, nil
}

// AcceptSuggestion switches to the suggested category and waits for the regeneration.
func (s *Session) AcceptSuggestion(ctx context.Context) error {
	gen, err := s.StartAccept(ctx)
	if err != nil {
		return err
	}
	return gen.Run(ctx)
}

// StartAccept applies the pending suggestion and returns the regeneration of the original
// instruction in the new category. The regeneration never proposes another suggestion.
func (s *Session) StartAccept(ctx context.Context) (*Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.state != models.StateSuggestionPending || s.pending == nil {
		return nil, &services.ConflictError{Message: "There is no pending suggestion"}
	}

	p := s.pending
	s.turns = append(s.turns, models.ConversationTurn{
		Speaker: models.SpeakerUser,
		Text:    fmt.Sprintf("Yes, switch to %s.", models.CategoryLabel(p.SuggestedCategory)),
	})
	s.categoryID = p.SuggestedCategory
	gen := s.beginLocked(p.OriginalInstructionText, true)
	s.publishStateLocked(ctx)
	return gen, nil
}

func (s *Session) beginLocked(instruction string, terminal bool) *Generation {
	s.pending = nil
	s.state = models.StateGenerating
	s.genSeq++
	s.touchLocked()

	req := models.GenerationRequest{
		InstructionText:      instruction,
		DiagramCategoryLabel: models.CategoryLabel(s.categoryID),
		PriorMarkup:          markup.Sanitize(s.markup),
	}
	if s.document != nil {
		req.DocumentDataURL = s.document.DataURL()
		req.DocumentName = s.document.Name
	}
	return &Generation{session: s, seq: s.genSeq, request: req, terminal: terminal}
}

func (s *Session) complete(ctx context.Context, gen *Generation, res *models.GenerationResult, genErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := observability.LoggerFromContext(ctx)
	if s.closed || gen.seq != s.genSeq || s.state != models.StateGenerating {
		log.Info("dropping stale generation result", "closed", s.closed)
		return
	}

	if genErr == nil && res == nil {
		genErr = &services.GenerationError{Message: "The AI returned no result. Please try again."}
	}
	if genErr != nil {
		msg := userMessage(genErr)
		log.Warn("diagram generation failed", "error", genErr)
		s.turns = append(s.turns, models.ConversationTurn{Speaker: models.SpeakerAssistant, Text: msg})
		s.state = models.StateIdle
		s.touchLocked()
		s.publishStateLocked(ctx)
		s.notify(ctx, models.Notification{Variant: "destructive", Title: "Error Generating Diagram", Description: msg})
		return
	}

	result := *res
	result.Markup = markup.Sanitize(result.Markup)
	models.NormalizeSuggestion(&result, s.categoryID)

	s.markup = result.Markup
	s.renderAllLocked(s.opts.ChatDebounce)

	if !gen.terminal && result.HasSuggestion() {
		s.pending = &models.PendingSuggestion{
			SuggestedCategory:       result.SuggestedCategory,
			Reason:                  result.SuggestionReason,
			OriginalInstructionText: gen.request.InstructionText,
		}
		s.state = models.StateSuggestionPending
		s.touchLocked()
		s.publishStateLocked(ctx)
		return
	}

	s.turns = append(s.turns, models.ConversationTurn{
		Speaker: models.SpeakerAssistant,
		Text:    acknowledgement(gen, models.CategoryLabel(s.categoryID)),
	})
	s.state = models.StateIdle
	s.touchLocked()
	s.publishStateLocked(ctx)
	s.notify(ctx, models.Notification{Variant: "default", Title: "Diagram Generated!", Description: "Your diagram has been successfully created."})
}

func acknowledgement(gen *Generation, label string) string {
	switch {
	case gen.terminal:
		return fmt.Sprintf("Done! I've regenerated your diagram as a %s.", label)
	case gen.request.IsModification():
		return fmt.Sprintf("I've updated your %s. Let me know if you'd like any other changes.", label)
	default:
		return fmt.Sprintf("Here's your %s. Let me know if you'd like any changes.", label)
	}
}

func userMessage(err error) string {
	var (
		genErr     *services.GenerationError
		validation *services.ValidationError
		tooLarge   *services.TooLargeError
	)
	switch {
	case errors.As(err, &genErr):
		return genErr.Message
	case errors.As(err, &validation):
		return validation.Error()
	case errors.As(err, &tooLarge):
		return tooLarge.Message
	default:
		return "An unexpected error occurred while generating the diagram."
	}
}

// DismissSuggestion drops the pending suggestion and keeps everything else.
func (s *Session) DismissSuggestion(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != models.StateSuggestionPending || s.pending == nil {
		return &services.ConflictError{Message: "There is no pending suggestion"}
	}
	s.pending = nil
	s.state = models.StateIdle
	s.touchLocked()
	s.publishStateLocked(ctx)
	return nil
}

// EditMarkup replaces the markup from the code view and re-renders after the edit window.
// It does not touch the conversation, the suggestion or the generator.
func (s *Session) EditMarkup(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.markup = code
	s.touchLocked()
	s.renderAllLocked(s.opts.EditDebounce)
	return nil
}

// SelectCategory changes the diagram category used by the next generation.
func (s *Session) SelectCategory(ctx context.Context, id string) error {
	if _, ok := models.LookupCategory(id); !ok {
		return &services.ValidationError{Fields: map[string]string{"category": fmt.Sprintf("Unknown diagram type %q", id)}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state == models.StateGenerating {
		return services.ErrGenerationInFlight
	}
	s.categoryID = id
	if s.pending != nil && s.pending.SuggestedCategory == id {
		s.pending = nil
		s.state = models.StateIdle
	}
	s.touchLocked()
	s.publishStateLocked(ctx)
	return nil
}

// DetachDocument removes the attached document from future instructions.
func (s *Session) DetachDocument(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.document = nil
	s.touchLocked()
	s.publishStateLocked(ctx)
	return nil
}

// OpenSurface mounts an extra render target (e.g. the fullscreen view) and renders the
// current markup into it.
func (s *Session) OpenSurface(ctx context.Context, surfaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if markup.IsBlank(s.markup) {
		return &services.ConflictError{Message: "There is no diagram to view in fullscreen."}
	}
	s.board.Mount(surfaceID)
	s.scheduler.Schedule(s.board, surfaceID, s.markup, s.opts.ChatDebounce)
	return nil
}

// CloseSurface unmounts a render target. The preview surface cannot be closed.
func (s *Session) CloseSurface(ctx context.Context, surfaceID string) error {
	if surfaceID == render.SurfacePreview {
		return &services.ValidationError{Fields: map[string]string{"surface": "The preview surface cannot be closed"}}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.board.Surface(surfaceID); !ok {
		return &services.NotFoundError{Message: "Surface not found"}
	}
	s.board.Unmount(surfaceID)
	return nil
}

// Surface returns the current content of one render target.
func (s *Session) Surface(surfaceID string) (models.SurfaceSnapshot, bool) {
	for _, snap := range s.board.Snapshot() {
		if snap.ID == surfaceID {
			return snap, true
		}
	}
	return models.SurfaceSnapshot{}, false
}

func (s *Session) renderAllLocked(delay time.Duration) {
	for _, surface := range s.board.Snapshot() {
		s.scheduler.Schedule(s.board, surface.ID, s.markup, delay)
	}
}

// onSurfaceUpdate runs on the render path after a surface commit.
func (s *Session) onSurfaceUpdate(surfaceID string, status render.Status, content, renderID string) {
	if surfaceID == render.SurfacePreview {
		switch status {
		case render.StatusRendered:
			s.viewMu.Lock()
			s.exportSVG = content
			s.viewMu.Unlock()
		case render.StatusEmpty:
			s.viewMu.Lock()
			s.exportSVG = ""
			s.viewMu.Unlock()
		}
	}

	ctx, cancel := context.WithTimeout(observability.WithSessionID(context.Background(), s.ID.String()), publishTimeout)
	defer cancel()
	s.publish(ctx, models.WSMessage{
		Type: models.EventSurfaceUpdated,
		Payload: models.SurfaceUpdate{
			SessionID: s.ID,
			SurfaceID: surfaceID,
			RenderID:  renderID,
			Status:    string(status),
			Content:   content,
		},
	})
}

// Export produces a downloadable file: "svg" and "png" from the last successful preview
// render, "json" from the current markup.
func (s *Session) Export(format string, opts export.PNGOptions) (*export.File, error) {
	switch format {
	case "svg":
		return export.SVG(s.ExportableSVG())
	case "png":
		return export.PNG(s.ExportableSVG(), opts)
	case "json":
		s.mu.Lock()
		code := s.markup
		s.mu.Unlock()
		return export.JSON(code)
	default:
		return nil, &services.ValidationError{Fields: map[string]string{"format": fmt.Sprintf("Unsupported export format %q", format)}}
	}
}

// ExportableSVG is the last successfully rendered preview.
func (s *Session) ExportableSVG() string {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.exportSVG
}

// Summarize describes the current diagram in prose.
func (s *Session) Summarize(ctx context.Context) (string, error) {
	s.mu.Lock()
	code := markup.Sanitize(s.markup)
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return "", ErrClosed
	}
	if code == "" {
		return "", &services.ConflictError{Message: "There is no diagram to summarize."}
	}
	return s.generator.Summarize(observability.WithSessionID(ctx, s.ID.String()), code)
}

// Close tears the session down. Generation results arriving afterwards are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.state = models.StateIdle
	s.pending = nil
	s.scheduler.Cancel(s.board)
	for _, surface := range s.board.Snapshot() {
		s.board.Unmount(surface.ID)
	}
}

// State returns the current state.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() models.SessionSnapshot {
	turns := make([]models.ConversationTurn, len(s.turns))
	copy(turns, s.turns)

	snap := models.SessionSnapshot{
		ID:               s.ID,
		State:            s.state,
		CurrentMarkup:    s.markup,
		SelectedCategory: s.categoryID,
		Conversation:     turns,
		Surfaces:         s.board.Snapshot(),
		CanExport:        s.ExportableSVG() != "",
		UpdatedAt:        s.updatedAt,
	}
	if s.pending != nil {
		p := *s.pending
		snap.PendingSuggestion = &p
	}
	if s.document != nil {
		d := *s.document
		snap.AttachedDocument = &d
	}
	return snap
}

func (s *Session) touchLocked() {
	s.updatedAt = time.Now().UTC()
}

func (s *Session) publishStateLocked(ctx context.Context) {
	s.publish(ctx, models.WSMessage{Type: models.EventStateChanged, Payload: s.snapshotLocked()})
}

func (s *Session) notify(ctx context.Context, n models.Notification) {
	n.SessionID = s.ID
	s.publish(ctx, models.WSMessage{Type: models.EventNotification, Payload: n})
}

func (s *Session) publish(ctx context.Context, msg models.WSMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishUpdate(context.WithoutCancel(ctx), s.ID, msg); err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to publish session event", "type", msg.Type, "error", err)
	}
}
