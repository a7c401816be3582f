package suggest

import (
	"fmt"
	"html"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	classList    = "suggestions"
	classItem    = "suggestion"
	classPrimary = "suggestion"
	classEdit    = "edit-suggestion"
	classText    = "text"
)

// Render returns a markup fragment with one block per suggestion. Each block
// carries a primary button (take this direction) and an edit button (place
// the text in the composer).
func Render(s []Suggestion) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="%s">`, classList)
	for i, sg := range s {
		text := html.EscapeString(sg.Text)
		fmt.Fprintf(&b, `<div class="%s">`, classItem)
		fmt.Fprintf(&b, `<button class="%s" data-index="%d">%s</button>`, classPrimary, i, text)
		fmt.Fprintf(&b, `<button class="%s" data-index="%d"><span class="%s">%s</span></button>`, classEdit, i, classText, text)
		b.WriteString("</div>")
	}
	b.WriteString("</div>")
	return b.String()
}

// Extract reads the visible suggestion text back out of markup produced by
// Render, in document order.
func Extract(markup string) ([]Suggestion, error) {
	nodes, err := parseMarkup(markup)
	if err != nil {
		return nil, err
	}
	var out []Suggestion
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode && n.Data == "button" && hasClass(n, classPrimary) {
			out = append(out, Suggestion{Text: strings.TrimSpace(textOf(n))})
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return out, nil
}

// EditText returns the raw text carried by the edit button at index i.
func EditText(markup string, i int) (string, error) {
	nodes, err := parseMarkup(markup)
	if err != nil {
		return "", err
	}
	idx := fmt.Sprint(i)
	var found *xhtml.Node
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if found != nil {
			return
		}
		if n.Type == xhtml.ElementNode && n.Data == "span" && hasClass(n, classText) &&
			n.Parent != nil && hasClass(n.Parent, classEdit) && attr(n.Parent, "data-index") == idx {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	if found == nil {
		return "", fmt.Errorf("no edit button at index %d", i)
	}
	return strings.TrimSpace(textOf(found)), nil
}

// parseMarkup parses a fragment as if it sat inside <body>.
func parseMarkup(markup string) ([]*xhtml.Node, error) {
	nodes, err := xhtml.ParseFragment(strings.NewReader(markup), &xhtml.Node{
		Type:     xhtml.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return nodes, nil
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *xhtml.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *xhtml.Node) string {
	if n.Type == xhtml.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
	}
	return b.String()
}

// Stringify writes suggestions back in tagged form, one per line.
func Stringify(s []Suggestion) string {
	var b strings.Builder
	for _, sg := range s {
		fmt.Fprintf(&b, "<suggestion>%s</suggestion>\n", sg.Text)
	}
	return b.String()
}

// Markdown renders suggestions as a numbered list.
func Markdown(s []Suggestion) string {
	var b strings.Builder
	for i, sg := range s {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.ReplaceAll(sg.Text, "\n", " "))
	}
	return b.String()
}

// Glamour style names accepted by Terminal and RenderMarkdown.
const (
	StyleAuto  = "auto"
	StylePlain = "notty"
)

// StyleFor picks StyleAuto when w is a terminal and StylePlain otherwise.
func StyleFor(w io.Writer) string {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return StyleAuto
	}
	return StylePlain
}

// RenderMarkdown renders md with the named glamour style, wrapped at width.
func RenderMarkdown(md string, width int, style string) (string, error) {
	if width <= 0 {
		width = 80
	}
	if style == "" {
		style = StyleAuto
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

// Terminal renders the numbered list for a terminal of the given width.
func Terminal(s []Suggestion, width int, style string) (string, error) {
	return RenderMarkdown(Markdown(s), width, style)
}
