package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/vincent-petithory/dataurl"

	"diagrammer-backend/internal/models"
)

type fakeModel struct {
	mu    sync.Mutex
	parts [][]genai.Part
	reply string
	err   error
	block chan struct{}
}

func (m *fakeModel) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	m.parts = append(m.parts, parts)
	m.mu.Unlock()

	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content:      &genai.Content{Parts: []genai.Part{genai.Text(m.reply)}},
		}},
	}, nil
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.parts)
}

func (m *fakeModel) promptText(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b strings.Builder
	for _, p := range m.parts[i] {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func newTestGemini(t *testing.T, diagrams, summary *fakeModel, timeout time.Duration) *GeminiService {
	t.Helper()
	s, err := newGeminiService(diagrams, summary, NewFileExtractService(1024), 2, timeout)
	if err != nil {
		t.Fatalf("newGeminiService: %v", err)
	}
	return s
}

func TestGenerate_CreateWithoutSuggestion(t *testing.T) {
	model := &fakeModel{reply: `{"diagramCode":"` + "```mermaid\\ngraph TD\\nA-->B\\n```" + `"}`}
	s := newTestGemini(t, model, &fakeModel{}, time.Second)

	res, err := s.Generate(context.Background(), models.GenerationRequest{
		InstructionText:      "Create a login flowchart",
		DiagramCategoryLabel: "Flowchart",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Markup != "graph TD\nA-->B" {
		t.Fatalf("expected sanitized markup, got %q", res.Markup)
	}
	if res.HasSuggestion() {
		t.Fatalf("expected no suggestion, got %+v", res)
	}

	prompt := model.promptText(0)
	if !strings.Contains(prompt, "Create a login flowchart") || !strings.Contains(prompt, "'Flowchart'") {
		t.Fatalf("prompt is missing instruction or category: %s", prompt)
	}
	if strings.Contains(prompt, "Existing diagram code") {
		t.Fatalf("create prompt must not carry a prior-markup section")
	}
	if strings.Contains(prompt, "uploaded a file") {
		t.Fatalf("prompt must not carry a document section without a document")
	}
}

func TestGenerate_ModificationIncludesPriorMarkup(t *testing.T) {
	model := &fakeModel{reply: `{"diagramCode":"graph TD\nA-->C"}`}
	s := newTestGemini(t, model, &fakeModel{}, time.Second)

	_, err := s.Generate(context.Background(), models.GenerationRequest{
		InstructionText:      "Add node C",
		DiagramCategoryLabel: "Flowchart",
		PriorMarkup:          "graph TD\nA-->B",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	prompt := model.promptText(0)
	if !strings.Contains(prompt, "Existing diagram code") || !strings.Contains(prompt, "graph TD\nA-->B") {
		t.Fatalf("modification prompt must carry the prior markup: %s", prompt)
	}
	if strings.Contains(prompt, "from scratch") {
		t.Fatalf("modification prompt must not ask for a fresh diagram")
	}
}

func TestGenerate_KeepsValidSuggestion(t *testing.T) {
	model := &fakeModel{reply: `{"diagramCode":"graph TD\nA-->B","suggestedDiagramType":"networkDiagram","suggestionReason":"It describes hosts and links."}`}
	s := newTestGemini(t, model, &fakeModel{}, time.Second)

	res, err := s.Generate(context.Background(), models.GenerationRequest{
		InstructionText:      "Show me the network topology",
		DiagramCategoryLabel: "Flowchart",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.SuggestedCategory != "networkDiagram" || res.SuggestionReason == "" {
		t.Fatalf("expected suggestion to survive, got %+v", res)
	}
}

func TestGenerate_DropsInvalidSuggestions(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"same as selected", `{"diagramCode":"graph TD","suggestedDiagramType":"flowchart","suggestionReason":"x"}`},
		{"unknown category", `{"diagramCode":"graph TD","suggestedDiagramType":"pieChart","suggestionReason":"x"}`},
		{"missing reason", `{"diagramCode":"graph TD","suggestedDiagramType":"erDiagram"}`},
		{"blank reason", `{"diagramCode":"graph TD","suggestedDiagramType":"erDiagram","suggestionReason":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestGemini(t, &fakeModel{reply: tt.reply}, &fakeModel{}, time.Second)
			res, err := s.Generate(context.Background(), models.GenerationRequest{
				InstructionText:      "x",
				DiagramCategoryLabel: "Flowchart",
			})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if res.SuggestedCategory != "" || res.SuggestionReason != "" {
				t.Fatalf("expected suggestion dropped, got %+v", res)
			}
		})
	}
}

func TestGenerate_EmptyRequestIsNeverSent(t *testing.T) {
	model := &fakeModel{}
	s := newTestGemini(t, model, &fakeModel{}, time.Second)

	_, err := s.Generate(context.Background(), models.GenerationRequest{InstructionText: "   "})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if model.calls() != 0 {
		t.Fatalf("expected no upstream call, got %d", model.calls())
	}
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{"upstream error", &fakeModel{err: errors.New("503 unavailable")}},
		{"not json", &fakeModel{reply: "graph TD\nA-->B"}},
		{"schema mismatch", &fakeModel{reply: `{"code":"graph TD"}`}},
		{"wrong type", &fakeModel{reply: `{"diagramCode":42}`}},
		{"empty markup", &fakeModel{reply: `{"diagramCode":"` + "```\\n```" + `"}`}},
		{"empty response", &fakeModel{reply: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestGemini(t, tt.model, &fakeModel{}, time.Second)
			_, err := s.Generate(context.Background(), models.GenerationRequest{
				InstructionText:      "x",
				DiagramCategoryLabel: "Flowchart",
			})
			var gerr *GenerationError
			if !errors.As(err, &gerr) {
				t.Fatalf("expected GenerationError, got %v", err)
			}
			if gerr.Message == "" {
				t.Fatalf("expected a user-facing message")
			}
		})
	}
}

func TestGenerate_Timeout(t *testing.T) {
	model := &fakeModel{block: make(chan struct{})}
	s := newTestGemini(t, model, &fakeModel{}, 20*time.Millisecond)

	_, err := s.Generate(context.Background(), models.GenerationRequest{InstructionText: "x"})
	var gerr *GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", gerr.Err)
	}
}

func TestGenerate_TextDocumentIsInlinedIntoPrompt(t *testing.T) {
	model := &fakeModel{reply: `{"diagramCode":"graph TD"}`}
	s := newTestGemini(t, model, &fakeModel{}, time.Second)

	doc := dataurl.New([]byte("Step one.\r\nStep two."), "text/plain").String()
	_, err := s.Generate(context.Background(), models.GenerationRequest{
		InstructionText: "Summarize the uploaded document into a diagram.",
		DocumentDataURL: doc,
		DocumentName:    "steps.txt",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	prompt := model.promptText(0)
	if !strings.Contains(prompt, "Uploaded file (steps.txt)") || !strings.Contains(prompt, "Step one.\nStep two.") {
		t.Fatalf("expected document text in prompt: %s", prompt)
	}
	if len(model.parts[0]) != 1 {
		t.Fatalf("text documents must not be sent as blobs")
	}
}

func TestGenerate_ImageIsSentAsBlob(t *testing.T) {
	model := &fakeModel{reply: `{"diagramCode":"graph TD"}`}
	s := newTestGemini(t, model, &fakeModel{}, time.Second)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	_, err := s.Generate(context.Background(), models.GenerationRequest{
		DocumentDataURL: dataurl.New(png, "image/png").String(),
		DocumentName:    "whiteboard.png",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	parts := model.parts[0]
	if len(parts) != 2 {
		t.Fatalf("expected prompt and blob, got %d parts", len(parts))
	}
	blob, ok := parts[1].(genai.Blob)
	if !ok || blob.MIMEType != "image/png" || string(blob.Data) != string(png) {
		t.Fatalf("unexpected blob part: %#v", parts[1])
	}
}

func TestGenerate_OversizedDocument(t *testing.T) {
	model := &fakeModel{}
	s := newTestGemini(t, model, &fakeModel{}, time.Second)

	_, err := s.Generate(context.Background(), models.GenerationRequest{
		InstructionText: "x",
		DocumentDataURL: dataurl.New(make([]byte, 2048), "text/plain").String(),
	})
	var tooLarge *TooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected TooLargeError, got %v", err)
	}
	if model.calls() != 0 {
		t.Fatalf("expected no upstream call")
	}
}

func TestSummarize(t *testing.T) {
	summary := &fakeModel{reply: "  A login flow with two steps.\n"}
	s := newTestGemini(t, &fakeModel{}, summary, time.Second)

	got, err := s.Summarize(context.Background(), "```\ngraph TD\nA-->B\n```")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "A login flow with two steps." {
		t.Fatalf("unexpected summary %q", got)
	}
	if !strings.Contains(summary.promptText(0), "graph TD\nA-->B") {
		t.Fatalf("summary prompt must carry the diagram code")
	}

	if _, err := s.Summarize(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty diagram")
	}
}

func TestAcquireRate_RespectsContext(t *testing.T) {
	s := newTestGemini(t, &fakeModel{}, &fakeModel{}, time.Second)
	// Drain both slots.
	s.acquireRate(context.Background())
	s.acquireRate(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.acquireRate(ctx); err == nil {
		t.Fatalf("expected acquireRate to fail once slots are exhausted")
	}
	s.releaseRate()
	if err := s.acquireRate(context.Background()); err != nil {
		t.Fatalf("expected released slot to be reusable: %v", err)
	}
}
