package render

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// BindFunc reattaches interactive behaviour to freshly committed content.
type BindFunc func(s *Surface)

// Result is a successful engine render.
type Result struct {
	SVG  string
	Bind BindFunc
}

// Engine turns sanitized markup into SVG. renderID is unique per call and must be used
// as the root element id so concurrent renders never share element ids.
type Engine interface {
	Render(ctx context.Context, renderID, markup string) (*Result, error)
}

// RenderError is a markup problem reported by an engine.
type RenderError struct {
	Engine  string
	Message string
}

func (e *RenderError) Error() string {
	if e.Message == "" {
		return "Unknown error"
	}
	return e.Message
}

var dotHeader = regexp.MustCompile(`(?is)^\s*(?:(?://|#)[^\n]*\n\s*|/\*.*?\*/\s*)*(?:strict\s+)?(?:di)?graph(?:\s+(?:"[^"]*"|[a-z_][\w]*|-?[\d.]+))?\s*\{`)

// IsDOT reports whether markup is a Graphviz DOT graph rather than Mermaid.
func IsDOT(markup string) bool {
	return dotHeader.MatchString(markup)
}

// DialectEngine routes DOT markup to Graphviz and everything else to Mermaid.
type DialectEngine struct {
	Mermaid  Engine
	Graphviz Engine
}

func (d *DialectEngine) Render(ctx context.Context, renderID, markup string) (*Result, error) {
	if IsDOT(markup) {
		if d.Graphviz == nil {
			return nil, &RenderError{Engine: "graphviz", Message: "Graphviz rendering is not available"}
		}
		return d.Graphviz.Render(ctx, renderID, markup)
	}
	if d.Mermaid == nil {
		return nil, &RenderError{Engine: "mermaid", Message: "Mermaid rendering is not available"}
	}
	return d.Mermaid.Render(ctx, renderID, markup)
}

var rootIDPattern = regexp.MustCompile(`^<svg\b[^>]*?\sid="([^"]*)"`)

// stampRootID drops any prolog before the root <svg> and gives it the render id. When
// the root already carried an id, references to it (CSS selectors, url(#...)) follow.
func stampRootID(svg, renderID string) (string, error) {
	start := strings.Index(svg, "<svg")
	if start < 0 {
		return "", fmt.Errorf("engine output has no <svg> element")
	}
	svg = svg[start:]

	if m := rootIDPattern.FindStringSubmatch(svg); m != nil && m[1] != "" {
		old := m[1]
		svg = strings.ReplaceAll(svg, `id="`+old+`"`, `id="`+renderID+`"`)
		svg = strings.ReplaceAll(svg, "#"+old, "#"+renderID)
		return svg, nil
	}
	return `<svg id="` + renderID + `"` + svg[len("<svg"):], nil
}
