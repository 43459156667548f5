package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"github.com/vincent-petithory/dataurl"
)

// Padding is the margin, in pixels, added around the diagram on every side.
const Padding = 20

type PNGOptions struct {
	// Background is a CSS color (#rgb, #rrggbb, rgb(), rgba()). Empty or
	// unparseable values fall back to white.
	Background string
}

// PNG rasterizes the rendered vector onto a padded canvas.
func PNG(vector string, opts PNGOptions) (*File, error) {
	if strings.TrimSpace(vector) == "" {
		return nil, fail("png", ErrNoContent)
	}

	inlined, err := InlineStyles(vector)
	if err != nil {
		return nil, fail("png", fmt.Errorf("%w: %v", ErrDecode, err))
	}

	// The decoder reads a self-contained data URL, never a separate resource.
	source, err := dataurl.DecodeString(dataurl.New([]byte(inlined), "image/svg+xml", "charset", "utf-8").String())
	if err != nil {
		return nil, fail("png", fmt.Errorf("%w: %v", ErrDecode, err))
	}

	width, height, err := intrinsicSize(source.Data)
	if err != nil {
		return nil, fail("png", fmt.Errorf("%w: %v", ErrDecode, err))
	}
	if width <= 0 || height <= 0 {
		return nil, fail("png", ErrZeroDimensions)
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(source.Data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fail("png", fmt.Errorf("%w: %v", ErrDecode, err))
	}

	w := int(math.Ceil(width)) + 2*Padding
	h := int(math.Ceil(height)) + 2*Padding
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(ParseBackground(opts.Background)), image.Point{}, draw.Src)

	icon.SetTarget(Padding, Padding, width, height)
	scanner := rasterx.NewScannerGV(w, h, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1)

	if hasExternalReference(vector) {
		return nil, fail("png", ErrTainted)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fail("png", err)
	}
	return &File{
		Name:     "diagram.png",
		MIMEType: "image/png",
		Data:     buf.Bytes(),
	}, nil
}

var externalRef = regexp.MustCompile(`(?i)(?:href\s*=\s*["']\s*(?:https?:)?//|url\(\s*["']?\s*(?:https?:)?//|@import)`)

// hasExternalReference reports whether the SVG pulls in anything from outside itself.
func hasExternalReference(svg string) bool {
	return externalRef.MatchString(svg)
}

// intrinsicSize reads the root element's width and height in pixels, falling back
// to the viewBox for missing or relative values.
func intrinsicSize(svg []byte) (float64, float64, error) {
	dec := xml.NewDecoder(bytes.NewReader(svg))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return 0, 0, fmt.Errorf("no <svg> element")
		}
		if err != nil {
			return 0, 0, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "svg" {
			return 0, 0, fmt.Errorf("root element is <%s>, not <svg>", start.Name.Local)
		}

		var width, height float64
		var wOK, hOK bool
		var vbW, vbH float64
		for _, a := range start.Attr {
			switch a.Name.Local {
			case "width":
				width, wOK = parseLength(a.Value)
			case "height":
				height, hOK = parseLength(a.Value)
			case "viewBox":
				vbW, vbH = parseViewBox(a.Value)
			}
		}

		switch {
		case wOK && hOK:
			return width, height, nil
		case wOK && vbW > 0:
			return width, width * vbH / vbW, nil
		case hOK && vbH > 0:
			return height * vbW / vbH, height, nil
		default:
			return vbW, vbH, nil
		}
	}
}

var lengthPattern = regexp.MustCompile(`^\s*([+-]?(?:\d+\.?\d*|\.\d+)(?:e[+-]?\d+)?)\s*(px|pt)?\s*$`)

// parseLength resolves absolute lengths. Percentages and font-relative units are
// reported as unresolved.
func parseLength(v string) (float64, bool) {
	m := lengthPattern.FindStringSubmatch(strings.ToLower(v))
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] == "pt" {
		f = f * 4 / 3
	}
	return f, true
}

func parseViewBox(v string) (float64, float64) {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' })
	if len(fields) != 4 {
		return 0, 0
	}
	w, err1 := strconv.ParseFloat(fields[2], 64)
	h, err2 := strconv.ParseFloat(fields[3], 64)
	if err1 != nil || err2 != nil || w < 0 || h < 0 {
		return 0, 0
	}
	return w, h
}
