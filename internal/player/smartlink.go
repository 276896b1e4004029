package player

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

// DefaultLinkThreshold is the minimum score a candidate needs to be clicked.
// Low enough to survive the loss of one signal, high enough that an unrelated
// link sharing a word or two is rejected.
const DefaultLinkThreshold = 50

// LinkWeights are the points each matching signal contributes to a link's
// score. Within a group only the strongest signal counts.
type LinkWeights struct {
	// Text group.
	TextExact     int // Same visible text.
	TextContains  int // Candidate text contains the recorded text.
	TextContained int // Recorded text contains the candidate text.
	SharedWord    int // Per distinct shared word, when nothing above matched.

	// Host group.
	HostExact int // Same host.
	SameSite  int // Same host once a leading "www." is dropped.
	Subdomain int // Same registrable domain.

	// Href group.
	HrefExact   int
	HrefPartial int // One href contains the other.
}

// DefaultLinkWeights are the production weights.
var DefaultLinkWeights = LinkWeights{
	TextExact:     100,
	TextContains:  70,
	TextContained: 50,
	SharedWord:    10,
	HostExact:     100,
	SameSite:      90,
	Subdomain:     50,
	HrefExact:     50,
	HrefPartial:   30,
}

// LinkTarget is what a recording remembers about a clicked link.
type LinkTarget struct {
	Text string
	Href string
}

// Score sums the signals shared by the target and a candidate element.
func (w LinkWeights) Score(target LinkTarget, candidate schemas.ElementInfo) int {
	return w.textScore(normalizeText(target.Text), normalizeText(candidate.Text)) +
		w.hostScore(target.Href, candidate.Href) +
		w.hrefScore(target.Href, candidate.Href)
}

func (w LinkWeights) textScore(want, got string) int {
	if want == "" || got == "" {
		return 0
	}
	switch {
	case want == got:
		return w.TextExact
	case strings.Contains(got, want):
		return w.TextContains
	case strings.Contains(want, got):
		return w.TextContained
	}
	return w.SharedWord * sharedWords(want, got)
}

func (w LinkWeights) hostScore(want, got string) int {
	a, b := hostOf(want), hostOf(got)
	if a == "" || b == "" {
		return 0
	}
	switch {
	case a == b:
		return w.HostExact
	case strings.TrimPrefix(a, "www.") == strings.TrimPrefix(b, "www."):
		return w.SameSite
	case registrableDomain(a) != "" && registrableDomain(a) == registrableDomain(b):
		return w.Subdomain
	}
	return 0
}

func (w LinkWeights) hrefScore(want, got string) int {
	if want == "" || got == "" {
		return 0
	}
	switch {
	case want == got:
		return w.HrefExact
	case strings.Contains(got, want) || strings.Contains(want, got):
		return w.HrefPartial
	}
	return 0
}

// Best returns the highest scoring visible candidate. Ties go to the earlier
// element in document order. ok is false when no candidate reaches threshold.
func (w LinkWeights) Best(target LinkTarget, candidates []schemas.ElementInfo, threshold int) (best schemas.ElementInfo, score int, ok bool) {
	score = -1
	for _, c := range candidates {
		if !c.Visible {
			continue
		}
		if s := w.Score(target, c); s > score {
			best, score = c, s
		}
	}
	if score < threshold {
		return schemas.ElementInfo{}, score, false
	}
	return best, score, true
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// sharedWords counts distinct words present in both.
func sharedWords(a, b string) int {
	split := func(s string) []string {
		return strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	}
	words := make(map[string]bool)
	for _, w := range split(a) {
		words[w] = true
	}
	n := 0
	for _, w := range split(b) {
		if words[w] {
			n++
			delete(words, w)
		}
	}
	return n
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func registrableDomain(host string) string {
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return d
}
