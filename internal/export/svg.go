package export

import "strings"

// SVG exports the rendered vector exactly as it is displayed.
func SVG(vector string) (*File, error) {
	if strings.TrimSpace(vector) == "" {
		return nil, fail("svg", ErrNoContent)
	}
	return &File{
		Name:     "diagram.svg",
		MIMEType: "image/svg+xml",
		Data:     []byte(vector),
	}, nil
}
