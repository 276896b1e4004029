package player

import (
	"regexp"
	"sort"
	"strings"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute replaces ${NAME} tokens with values from vars. Tokens without a
// value are left as they are.
func Substitute(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "${") {
		return s
	}
	return variablePattern.ReplaceAllStringFunc(s, func(token string) string {
		if v, ok := vars[token[2:len(token)-1]]; ok {
			return v
		}
		return token
	})
}

// Referenced lists the variable names used by the urls and values of actions.
func Referenced(actions []schemas.Action) []string {
	seen := make(map[string]bool)
	for _, a := range actions {
		for _, s := range []string{a.URL, a.Value} {
			for _, m := range variablePattern.FindAllStringSubmatch(s, -1) {
				seen[m[1]] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Unresolved lists the referenced names missing from vars.
func Unresolved(actions []schemas.Action, vars map[string]string) []string {
	var out []string
	for _, n := range Referenced(actions) {
		if _, ok := vars[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
