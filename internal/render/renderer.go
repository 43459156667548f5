package render

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"

	"diagrammer-backend/internal/markup"
	"diagrammer-backend/internal/observability"
)

type OutcomeKind string

const (
	OutcomeRendered OutcomeKind = "rendered"
	OutcomeCleared  OutcomeKind = "cleared"
	OutcomeFailed   OutcomeKind = "failed"

	// OutcomeSkipped means the target surface was not mounted.
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeSuperseded means a newer render for the surface was requested first.
	OutcomeSuperseded OutcomeKind = "superseded"
)

// Outcome describes what a render call did to its surface.
type Outcome struct {
	Kind       OutcomeKind
	RenderID   string
	SVG        string
	Diagnostic string
	Message    string
}

// Renderer sanitizes markup, runs the engine and commits the result to a surface.
type Renderer struct {
	engine Engine
}

func NewRenderer(engine Engine) *Renderer {
	return &Renderer{engine: engine}
}

// Render renders rawMarkup into the named surface of board.
func (r *Renderer) Render(ctx context.Context, board *Board, surfaceID, rawMarkup string) Outcome {
	s, ok := board.Surface(surfaceID)
	if !ok {
		if !markup.IsBlank(rawMarkup) {
			observability.LoggerFromContext(ctx).Warn("render target not mounted", "surface_id", surfaceID)
		}
		return Outcome{Kind: OutcomeSkipped}
	}
	return r.renderReserved(ctx, board, s, s.reserve(), rawMarkup)
}

func (r *Renderer) renderReserved(ctx context.Context, board *Board, s *Surface, seq uint64, rawMarkup string) Outcome {
	code := markup.Sanitize(rawMarkup)
	if code == "" {
		notify := func() { board.notify(s, StatusEmpty, "", "") }
		if !s.publish(seq, StatusEmpty, "", "", nil, notify) {
			return Outcome{Kind: OutcomeSuperseded}
		}
		return Outcome{Kind: OutcomeCleared}
	}

	renderID := newRenderID(s.ID)
	res, err := r.engine.Render(ctx, renderID, code)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("diagram rendering failed",
			"surface_id", s.ID, "render_id", renderID, "error", err, "markup", code)

		diag := DiagnosticBlock(err.Error(), code)
		notify := func() { board.notify(s, StatusFailed, diag, renderID) }
		if !s.publish(seq, StatusFailed, diag, renderID, nil, notify) {
			return Outcome{Kind: OutcomeSuperseded}
		}
		return Outcome{Kind: OutcomeFailed, RenderID: renderID, Diagnostic: diag, Message: err.Error()}
	}

	notify := func() { board.notify(s, StatusRendered, res.SVG, renderID) }
	if !s.publish(seq, StatusRendered, res.SVG, renderID, res.Bind, notify) {
		return Outcome{Kind: OutcomeSuperseded}
	}
	return Outcome{Kind: OutcomeRendered, RenderID: renderID, SVG: res.SVG}
}

func newRenderID(surfaceID string) string {
	return fmt.Sprintf("diagram-svg-%s-%s", surfaceID, uuid.NewString())
}

// DiagnosticBlock is the HTML shown in place of a diagram that failed to render.
func DiagnosticBlock(message, code string) string {
	if message == "" {
		message = "Unknown error"
	}
	var b strings.Builder
	b.WriteString(`<div class="render-error" role="alert">`)
	b.WriteString(`<p class="render-error-title">Error rendering diagram:</p>`)
	b.WriteString(`<pre class="render-error-message">` + html.EscapeString(message) + `</pre>`)
	b.WriteString("<p class=\"render-error-hint\">Please check your diagram code for syntax errors. Ensure it does not include Markdown fences like ```mermaid.</p>")
	b.WriteString(`<p class="render-error-title">Code submitted to the renderer:</p>`)
	b.WriteString(`<pre class="render-error-code">` + html.EscapeString(code) + `</pre>`)
	b.WriteString(`</div>`)
	return b.String()
}
