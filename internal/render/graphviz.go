package render

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-graphviz"
)

// GraphvizEngine renders DOT markup in-process.
type GraphvizEngine struct {
	mu sync.Mutex
	gv *graphviz.Graphviz
}

func NewGraphvizEngine(ctx context.Context) (*GraphvizEngine, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("render: create graphviz: %w", err)
	}
	return &GraphvizEngine{gv: gv}, nil
}

func (e *GraphvizEngine) Render(ctx context.Context, renderID, markup string) (*Result, error) {
	// The wasm-backed graphviz instance is not safe for concurrent use.
	e.mu.Lock()
	defer e.mu.Unlock()

	graph, err := graphviz.ParseBytes([]byte(markup))
	if err != nil {
		return nil, &RenderError{Engine: "graphviz", Message: fmt.Sprintf("Parse error: %v", err)}
	}
	defer graph.Close()

	var buf bytes.Buffer
	if err := e.gv.Render(ctx, graph, graphviz.SVG, &buf); err != nil {
		return nil, &RenderError{Engine: "graphviz", Message: fmt.Sprintf("Layout error: %v", err)}
	}

	svg, err := stampRootID(buf.String(), renderID)
	if err != nil {
		return nil, fmt.Errorf("render: graphviz: %w", err)
	}
	return &Result{SVG: svg}, nil
}

func (e *GraphvizEngine) Close() error {
	return e.gv.Close()
}
