// Package pagetext renders the current page into a bounded markdown summary
// the planner can read alongside the screenshot.
package pagetext

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

// DefaultLimit bounds a summary when the caller passes zero.
const DefaultLimit = 4000

var blankRuns = regexp.MustCompile(`\n{3,}`)

// dropped elements carry no readable content.
var dropped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"meta":     true,
	"link":     true,
	"head":     true,
	"svg":      true,
	"iframe":   true,
	"canvas":   true,
}

// Control is an interactive element worth listing for the planner.
type Control struct {
	Tag         string
	Type        string
	ID          string
	Name        string
	Placeholder string
	AriaLabel   string
	Text        string
}

// Selector returns the most specific selector the control's attributes allow.
func (c Control) Selector() string {
	switch {
	case c.ID != "":
		return "#" + c.ID
	case c.Name != "":
		return fmt.Sprintf(`%s[name="%s"]`, c.Tag, c.Name)
	case c.Placeholder != "":
		return fmt.Sprintf(`%s[placeholder="%s"]`, c.Tag, c.Placeholder)
	case c.AriaLabel != "":
		return fmt.Sprintf(`%s[aria-label="%s"]`, c.Tag, c.AriaLabel)
	}
	return c.Tag
}

// Summarize converts page HTML to markdown, appends a list of form controls
// and truncates the result to limit runes.
func Summarize(page string, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse page html: %w", err)
	}

	controls := collectControls(doc)
	prune(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("render pruned html: %w", err)
	}
	md, err := htmltomarkdown.ConvertString(buf.String())
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	md = strings.TrimSpace(blankRuns.ReplaceAllString(md, "\n\n"))

	if len(controls) > 0 {
		var sb strings.Builder
		sb.WriteString("\n\n## Form controls\n")
		for _, c := range controls {
			fmt.Fprintf(&sb, "- %s", c.Selector())
			if label := firstNonEmpty(c.AriaLabel, c.Placeholder, c.Text); label != "" {
				fmt.Fprintf(&sb, " (%s)", label)
			}
			sb.WriteByte('\n')
		}
		md += strings.TrimRight(sb.String(), "\n")
	}
	return truncate(md, limit), nil
}

func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && dropped[c.Data]) {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

func collectControls(n *html.Node) []Control {
	var out []Control
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input", "textarea", "select", "button":
				c := Control{
					Tag:         n.Data,
					Type:        attr(n, "type"),
					ID:          attr(n, "id"),
					Name:        attr(n, "name"),
					Placeholder: attr(n, "placeholder"),
					AriaLabel:   attr(n, "aria-label"),
					Text:        strings.Join(strings.Fields(textOf(n)), " "),
				}
				if c.Type != "hidden" {
					out = append(out, c)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textOf(c))
	}
	return sb.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "\n…(truncated)"
}
