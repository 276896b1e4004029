package recorder

import (
	"fmt"
	"regexp"
	"strings"
)

// ElementAttributes are the facts about an element that selector synthesis
// looks at. They are gathered page-side and carry no DOM handles.
type ElementAttributes struct {
	Tag     string            `json:"tag"`
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Classes []string          `json:"classes"`
	Attrs   map[string]string `json:"attrs"`
}

// PathSegment describes one node on the way from an element up to the root.
// Index 0 of a path is the element itself.
type PathSegment struct {
	Tag           string `json:"tag"`
	ID            string `json:"id"`
	NthOfType     int    `json:"nthOfType"`
	SameTypeCount int    `json:"sameTypeCount"`
}

// SelectorOptions bounds the selectors ElementToSelector produces.
type SelectorOptions struct {
	ClassLimit int // Class chains this long or longer fall through to the path.
	MaxDepth   int // Ancestors walked by the path fallback.
}

// DefaultSelectorOptions mirrors the recorder config defaults.
var DefaultSelectorOptions = SelectorOptions{ClassLimit: 50, MaxDepth: 4}

// testAttributes are checked in order after id and name.
var testAttributes = []string{"data-testid", "data-test", "data-qa", "data-cy"}

var (
	cssIdentifier = regexp.MustCompile(`^-?[_a-zA-Z][_a-zA-Z0-9-]*$`)

	// Class names emitted by CSS-in-JS tooling and build hashes change between
	// deploys and make useless selectors.
	generatedClass = []*regexp.Regexp{
		regexp.MustCompile(`^[A-Z][a-z0-9]{15,}`),
		regexp.MustCompile(`^[a-f0-9]{8,}`),
		regexp.MustCompile(`^(css|sc|jsx|emotion)-[a-zA-Z0-9]+$`),
		regexp.MustCompile(`^[A-Za-z]+_[A-Za-z0-9-]+__[A-Za-z0-9_-]{5}$`),
	}
)

// stateClasses toggle with interaction and would not match on replay.
var stateClasses = map[string]bool{
	"active": true, "hover": true, "focus": true, "focused": true,
	"selected": true, "open": true, "show": true, "disabled": true,
}

// ElementToSelector synthesizes a CSS selector with the default options.
func ElementToSelector(attrs ElementAttributes, path []PathSegment) string {
	return DefaultSelectorOptions.Selector(attrs, path)
}

// Selector synthesizes the most stable CSS selector it can for an element:
// id, then name, then a test attribute, then tag plus stable classes when the
// chain is short enough, and finally a structural path.
func (o SelectorOptions) Selector(attrs ElementAttributes, path []PathSegment) string {
	tag := strings.ToLower(attrs.Tag)
	if tag == "" && len(path) > 0 {
		tag = path[0].Tag
	}

	if attrs.ID != "" {
		return idSelector(attrs.ID)
	}
	if attrs.Name != "" {
		return attrSelector("name", attrs.Name)
	}
	for _, name := range testAttributes {
		if v := attrs.Attrs[name]; v != "" {
			return attrSelector(name, v)
		}
	}

	if classes := StableClasses(attrs.Classes); len(classes) > 0 && tag != "" {
		candidate := tag + "." + strings.Join(classes, ".")
		if o.ClassLimit <= 0 || len(candidate) < o.ClassLimit {
			return candidate
		}
	}

	if s := o.pathSelector(path); s != "" {
		return s
	}
	if tag == "" {
		return "*"
	}
	return tag
}

// pathSelector walks up from the element until an ancestor with an id anchors
// the chain or MaxDepth ancestors have been used.
func (o SelectorOptions) pathSelector(path []PathSegment) string {
	if len(path) == 0 {
		return ""
	}
	parts := make([]string, 0, len(path))
	for i, seg := range path {
		if i > o.MaxDepth {
			break
		}
		if i > 0 && seg.ID != "" {
			parts = append(parts, idSelector(seg.ID))
			break
		}
		parts = append(parts, segmentSelector(seg))
	}
	for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
		parts[l], parts[r] = parts[r], parts[l]
	}
	return strings.Join(parts, " > ")
}

func segmentSelector(seg PathSegment) string {
	tag := strings.ToLower(seg.Tag)
	if tag == "" {
		tag = "*"
	}
	if seg.SameTypeCount > 1 && seg.NthOfType > 0 && tag != "html" && tag != "body" {
		return fmt.Sprintf("%s:nth-of-type(%d)", tag, seg.NthOfType)
	}
	return tag
}

// StableClasses drops classes that are unlikely to survive a redeploy or
// that reflect transient UI state.
func StableClasses(classes []string) []string {
	var out []string
	for _, c := range classes {
		if c == "" || len(c) >= 30 || !cssIdentifier.MatchString(c) || stateClasses[strings.ToLower(c)] {
			continue
		}
		if isGeneratedClass(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isGeneratedClass(c string) bool {
	for _, re := range generatedClass {
		if re.MatchString(c) {
			return true
		}
	}
	return false
}

func idSelector(id string) string {
	if cssIdentifier.MatchString(id) {
		return "#" + id
	}
	return attrSelector("id", id)
}

func attrSelector(name, value string) string {
	return fmt.Sprintf(`[%s="%s"]`, name, escapeAttr(value))
}

func escapeAttr(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}
