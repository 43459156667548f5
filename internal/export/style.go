package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

// declaration is one candidate value for a property on one element.
type declaration struct {
	property    string
	value       string
	important   bool
	inline      bool
	specificity cascadia.Specificity
	order       int
}

// beats reports whether d takes precedence over other: !important first, then the
// element's own style attribute, then selector specificity, then source order.
func (d declaration) beats(other declaration) bool {
	if d.important != other.important {
		return d.important
	}
	if d.inline != other.inline {
		return d.inline
	}
	if d.specificity != other.specificity {
		return other.specificity.Less(d.specificity)
	}
	return d.order > other.order
}

// InlineStyles copies the rules of the first <style> block onto the elements they match
// and removes the block, so the SVG keeps its look once detached from that stylesheet.
// An SVG without a style block is returned unchanged.
func InlineStyles(svg string) (string, error) {
	doc, err := html.Parse(strings.NewReader(svg))
	if err != nil {
		return "", fmt.Errorf("parse svg: %w", err)
	}
	root := findElement(doc, "svg")
	if root == nil {
		return "", fmt.Errorf("parse svg: no <svg> element")
	}
	styleNode := findElement(root, "style")
	if styleNode == nil {
		return svg, nil
	}

	sheet, err := parser.Parse(textContent(styleNode))
	if err != nil {
		return "", fmt.Errorf("parse style block: %w", err)
	}
	styleNode.Parent.RemoveChild(styleNode)

	matched := make(map[*html.Node][]declaration)
	var elements []*html.Node
	order := 0
	for _, rule := range sheet.Rules {
		if rule.Kind != css.QualifiedRule {
			continue
		}
		for _, selector := range rule.Selectors {
			sel, err := cascadia.Parse(selector)
			if err != nil || sel.PseudoElement() != "" {
				continue
			}
			// Query from the parent so the root <svg> can match too.
			for _, n := range cascadia.QueryAll(root.Parent, sel) {
				if _, seen := matched[n]; !seen {
					elements = append(elements, n)
				}
				for _, d := range rule.Declarations {
					order++
					matched[n] = append(matched[n], declaration{
						property:    strings.ToLower(d.Property),
						value:       d.Value,
						important:   d.Important,
						specificity: sel.Specificity(),
						order:       order,
					})
				}
			}
		}
	}

	for _, n := range elements {
		decls := matched[n]
		if existing := attr(n, "style"); existing != "" {
			inline, err := parser.ParseDeclarations(existing)
			if err == nil {
				for _, d := range inline {
					order++
					decls = append(decls, declaration{
						property:  strings.ToLower(d.Property),
						value:     d.Value,
						important: d.Important,
						inline:    true,
						order:     order,
					})
				}
			}
		}
		setAttr(n, "style", resolve(decls))
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("serialize svg: %w", err)
	}
	return buf.String(), nil
}

// resolve picks the winning value per property and serializes them in the order the
// properties first appeared.
func resolve(decls []declaration) string {
	winners := make(map[string]declaration)
	var props []string
	for _, d := range decls {
		cur, ok := winners[d.property]
		if !ok {
			props = append(props, d.property)
			winners[d.property] = d
			continue
		}
		if d.beats(cur) {
			winners[d.property] = d
		}
	}

	parts := make([]string, 0, len(props))
	for _, p := range props {
		parts = append(parts, p+":"+winners[p].value)
	}
	return strings.Join(parts, ";")
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, name); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
