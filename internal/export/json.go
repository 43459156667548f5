package export

import (
	"bytes"
	"encoding/json"

	"diagrammer-backend/internal/markup"
)

type jsonDocument struct {
	DiagramCode string `json:"diagramCode"`
}

// JSON exports the diagram source as {"diagramCode": ...}, indented for copying.
func JSON(source string) (*File, error) {
	code := markup.Sanitize(source)
	if code == "" {
		return nil, fail("json", ErrNoContent)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonDocument{DiagramCode: code}); err != nil {
		return nil, fail("json", err)
	}

	return &File{
		Name:     "diagram.json",
		MIMEType: "application/json",
		Data:     bytes.TrimRight(buf.Bytes(), "\n"),
	}, nil
}
