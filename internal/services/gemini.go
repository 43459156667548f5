package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/vincent-petithory/dataurl"
	"google.golang.org/api/option"

	"diagrammer-backend/internal/markup"
	"diagrammer-backend/internal/models"
	"diagrammer-backend/internal/observability"
)

// DiagramGenerator produces diagram markup from natural-language instructions.
type DiagramGenerator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResult, error)
	Summarize(ctx context.Context, diagramCode string) (string, error)
}

// contentModel is the slice of *genai.GenerativeModel the service calls.
type contentModel interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

const resultSchemaURL = "diagrammer://schemas/generation-result.json"

const resultSchemaJSON = `{
  "type": "object",
  "required": ["diagramCode"],
  "properties": {
    "diagramCode": {"type": "string", "minLength": 1},
    "suggestedDiagramType": {"type": "string"},
    "suggestionReason": {"type": "string"}
  }
}`

type GeminiService struct {
	client   *genai.Client
	diagrams contentModel
	summary  contentModel
	files    *FileExtractService
	schema   *jsonschema.Schema
	timeout  time.Duration
	rateChan chan struct{} // Token bucket
}

type GeminiOptions struct {
	APIKey         string
	Model          string
	ConcurrentReqs int
	Timeout        time.Duration
}

func NewGeminiService(opts GeminiOptions, files *FileExtractService) (*GeminiService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	diagrams := client.GenerativeModel(opts.Model)
	diagrams.SetTemperature(0.3)
	diagrams.SetTopP(0.95)
	diagrams.SystemInstruction = genai.NewUserContent(genai.Text(diagramSystemInstruction))
	diagrams.ResponseMIMEType = "application/json"
	diagrams.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"diagramCode": {
				Type:        genai.TypeString,
				Description: "The diagram code, created in the user's originally selected diagram type.",
			},
			"suggestedDiagramType": {
				Type:        genai.TypeString,
				Description: "Machine-readable value of a better-suited diagram type (e.g. networkDiagram, erDiagram). Omit when the selected type fits.",
			},
			"suggestionReason": {
				Type:        genai.TypeString,
				Description: "Brief, user-friendly reason for the suggested type. Omit when no suggestion is made.",
			},
		},
		Required: []string{"diagramCode"},
	}

	summary := client.GenerativeModel(opts.Model)
	summary.SetTemperature(0.2)

	s, err := newGeminiService(diagrams, summary, files, opts.ConcurrentReqs, opts.Timeout)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.client = client
	return s, nil
}

func newGeminiService(diagrams, summary contentModel, files *FileExtractService, concurrentReqs int, timeout time.Duration) (*GeminiService, error) {
	schema, err := compileResultSchema()
	if err != nil {
		return nil, err
	}
	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}

	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		diagrams: diagrams,
		summary:  summary,
		files:    files,
		schema:   schema,
		timeout:  timeout,
		rateChan: rateChan,
	}, nil
}

func compileResultSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(resultSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal result schema: %w", err)
	}
	if err := c.AddResource(resultSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add result schema resource: %w", err)
	}
	return c.Compile(resultSchemaURL)
}

func (s *GeminiService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// Generate asks the model for diagram markup. Every failure is a *GenerationError except
// request problems caught before the call, which are *ValidationError or *TooLargeError.
func (s *GeminiService) Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResult, error) {
	if strings.TrimSpace(req.InstructionText) == "" && !req.HasDocument() {
		return nil, &ValidationError{Fields: map[string]string{"instruction": "Enter an instruction or attach a document"}}
	}

	var doc *DocumentContent
	if req.HasDocument() {
		var err error
		if doc, err = s.decodeDocument(req); err != nil {
			return nil, err
		}
	}

	parts := []genai.Part{genai.Text(buildDiagramPrompt(req, doc))}
	if doc != nil && doc.Inline() {
		parts = append(parts, genai.Blob{MIMEType: doc.MIMEType, Data: doc.Data})
	}

	raw, err := s.call(ctx, s.diagrams, parts...)
	if err != nil {
		return nil, err
	}

	result, err := s.parseResult(raw)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("gemini returned an invalid diagram result", "error", err)
		return nil, &GenerationError{Message: "The AI returned a response in an unexpected format. Please try again.", Err: err}
	}

	result.Markup = markup.Sanitize(result.Markup)
	if result.Markup == "" {
		return nil, &GenerationError{Message: "The AI returned an empty diagram. Please try rephrasing your request."}
	}
	selectedID, _ := models.CategoryIDForLabel(req.DiagramCategoryLabel)
	models.NormalizeSuggestion(result, selectedID)
	return result, nil
}

// Summarize describes in prose what the diagram represents.
func (s *GeminiService) Summarize(ctx context.Context, diagramCode string) (string, error) {
	code := markup.Sanitize(diagramCode)
	if code == "" {
		return "", &ValidationError{Fields: map[string]string{"diagram": "There is no diagram to summarize"}}
	}

	raw, err := s.call(ctx, s.summary, genai.Text(buildSummaryPrompt(code)))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// call runs one upstream request under a rate slot and the per-call timeout.
func (s *GeminiService) call(ctx context.Context, model contentModel, parts ...genai.Part) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.acquireRate(ctx); err != nil {
		return "", timeoutOr(err, "The AI service is busy. Please try again in a moment.")
	}
	defer s.releaseRate()

	start := time.Now()
	resp, err := model.GenerateContent(ctx, parts...)
	log := observability.LoggerFromContext(ctx)
	if err != nil {
		log.Error("gemini request failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return "", timeoutOr(err, "The AI service could not generate a response. Please try again.")
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop && cand.FinishReason != genai.FinishReasonUnspecified {
			log.Warn("gemini stopped early", "candidate", i, "finish_reason", cand.FinishReason.String())
		}
	}
	log.Info("gemini request completed", "duration_ms", time.Since(start).Milliseconds())

	text := extractText(resp)
	if strings.TrimSpace(text) == "" {
		return "", &GenerationError{Message: "The AI returned an empty response. The content may have been blocked. Please try again."}
	}
	return text, nil
}

func timeoutOr(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &GenerationError{Message: "The AI took too long to respond. Please try again.", Err: err}
	}
	return &GenerationError{Message: message, Err: err}
}

func (s *GeminiService) decodeDocument(req models.GenerationRequest) (*DocumentContent, error) {
	du, err := dataurl.DecodeString(req.DocumentDataURL)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"file": "The attached file could not be read"}}
	}
	files := s.files
	if files == nil {
		files = NewFileExtractService(0)
	}
	return files.Extract(req.DocumentName, du.MediaType.ContentType(), du.Data)
}

func (s *GeminiService) parseResult(raw string) (*models.GenerationResult, error) {
	raw = markup.Sanitize(raw)

	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("validate result: %w", err)
	}

	var result models.GenerationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		// First candidate only.
		break
	}
	return b.String()
}

const diagramSystemInstruction = `You are an expert in generating and modifying diagrams represented as code.

Rules for the diagram code:
- Write Mermaid unless the user explicitly asks for Graphviz DOT.
- Start the code directly with the diagram type declaration (e.g. 'graph TD', 'classDiagram').
- Always enclose node text (labels) in double quotes: nodeId["This is my node text"].
- Link text must be in double quotes: A-- "Link Label" -->B.
- Do not include external image URLs, links or HTML <img> tags in the diagram code.
- Do not wrap the code in Markdown fences. Return only the raw diagram code in diagramCode.`

func buildDiagramPrompt(req models.GenerationRequest, doc *DocumentContent) string {
	label := req.DiagramCategoryLabel
	if label == "" {
		label = models.CategoryLabel(models.DefaultCategoryID)
	}

	var b strings.Builder
	b.WriteString("Analysis task:\n")
	fmt.Fprintf(&b, "1. The user has selected the '%s' type.\n", label)
	b.WriteString("2. Evaluate whether this is the best type for the request. For example, a network architecture fits a 'Network Diagram' (value: 'networkDiagram') better than a 'Flowchart', and database tables fit an 'ER Diagram' (value: 'erDiagram').\n")
	b.WriteString("3. If a different type fits better, set suggestedDiagramType to its machine-readable value and explain why in suggestionReason. Available values: ")
	ids := make([]string, 0, len(models.Categories()))
	for _, c := range models.Categories() {
		ids = append(ids, c.ID)
	}
	b.WriteString(strings.Join(ids, ", "))
	b.WriteString(".\n4. If the selected type is appropriate, leave the suggestion fields empty.\n\n")

	b.WriteString("Generation task:\n")
	fmt.Fprintf(&b, "Always generate the diagram as a '%s'. Do NOT use your suggested type for this generation; the suggestion is only advice.\n\n", label)

	b.WriteString("User's request:\n```\n")
	b.WriteString(req.InstructionText)
	b.WriteString("\n```\n")

	if req.IsModification() {
		b.WriteString("\nExisting diagram code (to be modified):\n```\n")
		b.WriteString(req.PriorMarkup)
		b.WriteString("\n```\nBased on the user's request, you MUST modify the existing diagram code above.\n")
	} else {
		b.WriteString("\nCreate a new diagram from scratch based on the user's request.\n")
	}

	if doc != nil {
		b.WriteString("\nThe user has also uploaded a file. Base the diagram primarily on its content, using the request for additional instructions.\n")
		if doc.Inline() {
			b.WriteString("The file is attached below. If it is an image, analyze its visual content.\n")
		} else {
			if doc.Name != "" {
				fmt.Fprintf(&b, "Uploaded file (%s):\n", doc.Name)
			} else {
				b.WriteString("Uploaded file:\n")
			}
			b.WriteString("```\n")
			b.WriteString(doc.Text)
			b.WriteString("\n```\n")
		}
	}

	return b.String()
}

func buildSummaryPrompt(code string) string {
	return "You are an expert in understanding diagrams represented as code.\n\n" +
		"Analyze the following diagram code and provide a concise summary of what the diagram represents. " +
		"Return only the summary as plain text.\n\n" +
		"Diagram code:\n```\n" + code + "\n```"
}
