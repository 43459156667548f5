package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxEngineResponse caps how much of a Kroki response is read.
const maxEngineResponse = 10 * 1024 * 1024

// KrokiEngine renders Mermaid markup through a Kroki server.
type KrokiEngine struct {
	baseURL string
	client  *http.Client
}

func NewKrokiEngine(baseURL string, client *http.Client) *KrokiEngine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &KrokiEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (e *KrokiEngine) Render(ctx context.Context, renderID, markup string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/mermaid/svg", strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("render: build kroki request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "image/svg+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render: kroki request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEngineResponse))
	if err != nil {
		return nil, fmt.Errorf("render: read kroki response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &RenderError{Engine: "mermaid", Message: strings.TrimSpace(string(body))}
	default:
		return nil, fmt.Errorf("render: kroki returned status %d", resp.StatusCode)
	}

	svg, err := stampRootID(string(body), renderID)
	if err != nil {
		return nil, fmt.Errorf("render: kroki: %w", err)
	}
	res := &Result{SVG: svg}
	if hasClickDirective(markup) {
		res.Bind = func(s *Surface) { s.Bind("click") }
	}
	return res, nil
}

// hasClickDirective reports whether Mermaid markup declares node click handlers.
func hasClickDirective(markup string) bool {
	for _, line := range strings.Split(markup, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "click ") {
			return true
		}
	}
	return false
}
