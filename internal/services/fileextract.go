package services

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// DocumentContent is how an attachment reaches the model: as extracted text, or as
// an inline blob when there is no text to extract (images, scanned PDFs).
type DocumentContent struct {
	Name     string
	Text     string
	MIMEType string
	Data     []byte
}

// Inline reports whether the document is sent as a blob rather than text.
func (d *DocumentContent) Inline() bool {
	return d.Text == ""
}

type FileExtractService struct {
	maxBytes int64
}

func NewFileExtractService(maxBytes int64) *FileExtractService {
	return &FileExtractService{maxBytes: maxBytes}
}

// MaxBytes is the largest accepted attachment.
func (s *FileExtractService) MaxBytes() int64 {
	return s.maxBytes
}

// CheckSize rejects attachments over the limit before anything is read or sent.
func (s *FileExtractService) CheckSize(size int64) error {
	if s.maxBytes > 0 && size > s.maxBytes {
		return NewTooLargeError(s.maxBytes)
	}
	return nil
}

var inlineImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
	"image/heic": true,
	"image/heif": true,
}

// Extract classifies an attachment and pulls out its text where it has any.
func (s *FileExtractService) Extract(name, mimeType string, data []byte) (*DocumentContent, error) {
	if err := s.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"file": "The attached file is empty"}}
	}

	ext := strings.ToLower(filepath.Ext(name))
	mimeType = detectMIMEType(ext, mimeType, data)
	doc := &DocumentContent{Name: name, MIMEType: mimeType}

	switch {
	case ext == ".pdf" || mimeType == "application/pdf":
		doc.MIMEType = "application/pdf"
		text, err := extractPDF(data)
		if err != nil || text == "" {
			// Scanned or unreadable PDFs go to the model as-is.
			doc.Data = data
			return doc, nil
		}
		doc.Text = text
	case ext == ".docx":
		text, err := extractDOCX(data)
		if err != nil {
			return nil, &ValidationError{Fields: map[string]string{"file": "Could not read the Word document"}}
		}
		doc.Text = text
	case inlineImageTypes[mimeType]:
		doc.Data = data
	case isTextType(ext, mimeType):
		if !utf8.Valid(data) {
			return nil, &ValidationError{Fields: map[string]string{"file": "Text files must be UTF-8 encoded"}}
		}
		text := normalizeExtractedText(string(data))
		if text == "" {
			return nil, &ValidationError{Fields: map[string]string{"file": "The attached file is empty"}}
		}
		doc.Text = text
	default:
		return nil, &ValidationError{Fields: map[string]string{"file": fmt.Sprintf("Unsupported file type %q", mimeType)}}
	}
	return doc, nil
}

func detectMIMEType(ext, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

func isTextType(ext, mimeType string) bool {
	switch ext {
	case ".txt", ".md", ".markdown", ".json", ".csv", ".mmd", ".dot", ".gv":
		return true
	}
	return strings.HasPrefix(mimeType, "text/") || mimeType == "application/json"
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	totalPage := reader.NumPage()
	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}

		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}

	return normalizeExtractedText(b.String()), nil
}

func extractDOCX(data []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var documentXML []byte
	for _, f := range r.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		documentXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		break
	}

	if len(documentXML) == 0 {
		return "", fmt.Errorf("docx document.xml not found")
	}

	text := normalizeExtractedText(stripDOCXML(documentXML))
	if text == "" {
		return "", fmt.Errorf("no extractable text found in docx")
	}
	return text, nil
}

var xmlTagPattern = regexp.MustCompile(`<[^>]+>`)

func stripDOCXML(src []byte) string {
	s := string(src)

	// paragraphs and line breaks
	s = strings.ReplaceAll(s, "</w:p>", "\n")
	s = strings.ReplaceAll(s, "<w:br/>", "\n")
	s = strings.ReplaceAll(s, "<w:br />", "\n")
	s = strings.ReplaceAll(s, "<w:tab/>", "\t")

	s = xmlTagPattern.ReplaceAllString(s, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
	)
	return replacer.Replace(s)
}

func normalizeExtractedText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	buf := bytes.Buffer{}

	emptyCount := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			emptyCount++
			if emptyCount > 1 {
				continue
			}
			buf.WriteString("\n")
			continue
		}
		emptyCount = 0
		buf.WriteString(trimmed)
		buf.WriteString("\n")
	}

	return strings.TrimSpace(buf.String())
}
