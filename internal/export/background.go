package export

import (
	"image/color"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

var rgbPattern = regexp.MustCompile(`^rgba?\(\s*([\d.]+)\s*,\s*([\d.]+)\s*,\s*([\d.]+)\s*(?:,\s*([\d.]+)\s*)?\)$`)

// ParseBackground reads a CSS color for the PNG canvas. Anything it cannot read is white.
func ParseBackground(v string) color.Color {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "", "white":
		return color.White
	case "black":
		return color.Black
	case "transparent":
		return color.Transparent
	}

	if strings.HasPrefix(v, "#") {
		c, err := colorful.Hex(v)
		if err != nil {
			return color.White
		}
		r, g, b := c.RGB255()
		return color.RGBA{R: r, G: g, B: b, A: 0xff}
	}

	m := rgbPattern.FindStringSubmatch(v)
	if m == nil {
		return color.White
	}
	var ch [3]uint8
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil || f > 255 {
			return color.White
		}
		ch[i] = uint8(f)
	}
	alpha := uint8(0xff)
	if m[4] != "" {
		a, err := strconv.ParseFloat(m[4], 64)
		if err != nil || a > 1 {
			return color.White
		}
		alpha = uint8(a*255 + 0.5)
	}
	return color.NRGBA{R: ch[0], G: ch[1], B: ch[2], A: alpha}
}
