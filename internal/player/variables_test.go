package player

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"LANG": "en", "user_1": "ada"}
	tests := []struct {
		in, want string
	}{
		{"https://x.test/${LANG}", "https://x.test/en"},
		{"${user_1}@${LANG}", "ada@en"},
		{"${MISSING}/${LANG}", "${MISSING}/en"},
		{"$LANG and ${ LANG }", "$LANG and ${ LANG }"},
		{"${1BAD}", "${1BAD}"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Substitute(tt.in, vars), tt.in)
	}
	assert.Equal(t, "https://x.test/${LANG}", Substitute("https://x.test/${LANG}", nil))
}

func TestSubstitute_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.StringMatching(`[A-Za-z_][A-Za-z0-9_]{0,8}`).Draw(rt, "name")
		value := rapid.StringMatching(`[a-z0-9/]{0,10}`).Draw(rt, "value")
		prefix := rapid.StringMatching(`[a-z:/.]{0,12}`).Draw(rt, "prefix")
		token := "${" + name + "}"

		if got := Substitute(prefix+token, map[string]string{name: value}); got != prefix+value {
			rt.Fatalf("got %q, want %q", got, prefix+value)
		}
		if got := Substitute(prefix+token, map[string]string{}); got != prefix+token {
			rt.Fatalf("unresolved token changed: %q", got)
		}
		if !strings.Contains(prefix, "${") && Substitute(prefix, map[string]string{name: value}) != prefix {
			rt.Fatalf("text without tokens changed")
		}
	})
}

func TestReferencedAndUnresolved(t *testing.T) {
	actions := []schemas.Action{
		schemas.NewNavigate("https://x.test/${LANG}/${REGION}"),
		schemas.NewFill("#q", "${QUERY}", nil),
		schemas.NewClick("#${IGNORED}", nil),
		schemas.NewFill("#lang", "${LANG}", nil),
	}
	assert.Equal(t, []string{"LANG", "QUERY", "REGION"}, Referenced(actions))
	assert.Equal(t, []string{"REGION"}, Unresolved(actions, map[string]string{"LANG": "en", "QUERY": "q"}))
}
