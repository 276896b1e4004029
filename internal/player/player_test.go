package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func intPtr(i int) *int { return &i }

func newTestPlayer(t *testing.T, page *mocks.FakePage, grounder schemas.Grounder, tweak ...func(*config.Config)) *Player {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.PlayerCfg.ActionDelay = 0
	for _, fn := range tweak {
		fn(cfg)
	}
	return New(page, grounder, cfg, zaptest.NewLogger(t), nil)
}

func workflow(actions ...schemas.Action) *schemas.RecordedWorkflow {
	return &schemas.RecordedWorkflow{ID: "wf_test0001", Name: "test", Actions: actions}
}

func strategies(r *schemas.RunReport) []string {
	out := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Strategy
	}
	return out
}

func TestPlay_RecordedWorkflow(t *testing.T) {
	page := mocks.NewFakePage("about:blank")
	page.Pages["https://x.test/"] = []*mocks.FakeElement{
		{Tag: "button", ID: "go", Text: "Go"},
		{Tag: "input", ID: "q"},
	}
	p := newTestPlayer(t, page, nil)

	report, err := p.Play(context.Background(), workflow(
		schemas.NewNavigate("https://x.test/"),
		schemas.NewClick("#go", &schemas.ActionContext{Text: "Go"}),
		schemas.NewFill("#q", "hello", nil),
	), nil)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.False(t, report.Aborted)
	assert.Equal(t, 3, report.ActionsExecuted)
	assert.Zero(t, report.ActionsFailed)
	assert.Empty(t, report.Errors)
	assert.Equal(t, []string{"navigate", StrategySelector, StrategySelector}, strategies(report))
	assert.Equal(t, []string{"click #go[0]"}, page.CallsWith("click"))
	assert.Equal(t, "hello", page.ValueOf("#q"))
	assert.Equal(t, 3, page.QuiescenceWaits())
}

func TestPlay_ClickCascade(t *testing.T) {
	tests := []struct {
		name     string
		elements []*mocks.FakeElement
		action   schemas.Action
		strategy string
		click    string
	}{
		{
			name: "smart link beats a stale selector",
			elements: []*mocks.FakeElement{
				{Tag: "a", Text: "Blog", Attrs: map[string]string{"href": "https://x.test/blog"}},
				{Tag: "a", Text: "About us", Attrs: map[string]string{"href": "https://x.test/about"}},
			},
			action:   schemas.NewClick("#old-about", &schemas.ActionContext{Text: "About us", Href: "https://x.test/about"}),
			strategy: StrategySmartLink,
			click:    `click a[href], [role="link"][1]`,
		},
		{
			name: "selector uses the recorded index among duplicates",
			elements: []*mocks.FakeElement{
				{Tag: "button", Classes: []string{"add"}},
				{Tag: "button", Classes: []string{"add"}},
			},
			action:   schemas.NewClick("button.add", &schemas.ActionContext{Index: intPtr(1)}),
			strategy: StrategySelector,
			click:    "click button.add[1]",
		},
		{
			name: "relative href alone reaches the threshold",
			elements: []*mocks.FakeElement{
				{Tag: "a", Text: "Tarifs", Attrs: map[string]string{"href": "/pricing"}},
			},
			action:   schemas.NewClick("#nav-pricing", &schemas.ActionContext{Href: "/pricing"}),
			strategy: StrategySmartLink,
			click:    `click a[href], [role="link"][0]`,
		},
		{
			name: "aria label",
			elements: []*mocks.FakeElement{
				{Tag: "div", Attrs: map[string]string{"aria-label": "Close dialog"}},
			},
			action:   schemas.NewClick("#x", &schemas.ActionContext{AriaLabel: "Close dialog"}),
			strategy: StrategyAriaLabel,
			click:    "click [aria-label][0]",
		},
		{
			name: "exact text on a button",
			elements: []*mocks.FakeElement{
				{Tag: "button", Text: "Cancel"},
				{Tag: "button", Text: "  Submit   order "},
			},
			action:   schemas.NewClick("#gone", &schemas.ActionContext{Text: "Submit order"}),
			strategy: StrategyTextExact,
			click:    "click " + clickableQuery + "[1]",
		},
		{
			name: "text prefix when the label grew",
			elements: []*mocks.FakeElement{
				{Tag: "button", Text: "Continue to checkout and pay securely (2 items)"},
			},
			action:   schemas.NewClick("#gone", &schemas.ActionContext{Text: "Continue to checkout and pay securely today"}),
			strategy: StrategyTextPrefix,
			click:    "click " + clickableQuery + "[0]",
		},
		{
			name: "role and index",
			elements: []*mocks.FakeElement{
				{Tag: "div", Attrs: map[string]string{"role": "tab"}},
				{Tag: "div", Attrs: map[string]string{"role": "tab"}},
				{Tag: "div", Attrs: map[string]string{"role": "tab"}},
			},
			action:   schemas.NewClick("#tab-3", &schemas.ActionContext{Role: "tab", Index: intPtr(2)}),
			strategy: StrategyRoleIndex,
			click:    `click [role="tab"][2]`,
		},
		{
			name: "tag and index",
			elements: []*mocks.FakeElement{
				{Tag: "li"},
				{Tag: "li"},
			},
			action:   schemas.NewClick("ul > li.item-gone", &schemas.ActionContext{Index: intPtr(1)}),
			strategy: StrategyTagIndex,
			click:    "click li[1]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := mocks.NewFakePage("https://x.test/", tt.elements...)
			grounder := new(mocks.MockGrounder)
			p := newTestPlayer(t, page, grounder)

			report, err := p.Play(context.Background(), workflow(tt.action), nil)
			require.NoError(t, err)
			require.Equal(t, 1, report.ActionsExecuted, "errors: %v", report.Errors)
			assert.Equal(t, []string{tt.strategy}, strategies(report))
			assert.Equal(t, []string{tt.click}, page.CallsWith("click"))
			grounder.AssertNotCalled(t, "Locate", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPlay_HiddenLinksAreNotClicked(t *testing.T) {
	page := mocks.NewFakePage("https://x.test/",
		&mocks.FakeElement{Tag: "a", Text: "Sign in", Hidden: true, Attrs: map[string]string{"href": "/login"}},
		&mocks.FakeElement{Tag: "button", ID: "login", Text: "Sign in"},
	)
	p := newTestPlayer(t, page, nil)

	report, err := p.Play(context.Background(), workflow(
		schemas.NewClick("#login", &schemas.ActionContext{Text: "Sign in", Href: "/login"}),
	), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{StrategySelector}, strategies(report))
}

func TestPlay_VisionFallback(t *testing.T) {
	t.Run("fill", func(t *testing.T) {
		page := mocks.NewFakePage("https://x.test/", &mocks.FakeElement{Tag: "div", ID: "email"})
		grounder := new(mocks.MockGrounder)
		grounder.On("Locate", mock.Anything, mock.Anything, "the input field (CSS selector #email)").Return(schemas.Point{X: 120, Y: 48}, true, nil).Once()
		p := newTestPlayer(t, page, grounder)

		report, err := p.Play(context.Background(), workflow(schemas.NewFill("#email", "a@b.test", nil)), nil)
		require.NoError(t, err)

		assert.Equal(t, []string{StrategyVision}, strategies(report))
		assert.Equal(t, []string{"click_at 120,48"}, page.CallsWith("click_at"))
		assert.Equal(t, []string{"a@b.test"}, page.Typed())
		grounder.AssertExpectations(t)
	})

	t.Run("click not found", func(t *testing.T) {
		page := mocks.NewFakePage("https://x.test/")
		grounder := new(mocks.MockGrounder)
		grounder.On("Locate", mock.Anything, mock.Anything, mock.Anything).Return(schemas.Point{}, false, nil)
		p := newTestPlayer(t, page, grounder)

		report, err := p.Play(context.Background(), workflow(schemas.NewClick("#buy", &schemas.ActionContext{Text: "Buy"})), nil)
		require.NoError(t, err)
		require.Len(t, report.Errors, 1)
		assert.Contains(t, report.Errors[0].Error, schemas.ErrResolutionExhausted.Error())
		assert.Contains(t, report.Errors[0].Error, "vision: grounding service could not find")
		assert.Empty(t, page.CallsWith("click_at"))
	})

	t.Run("disabled", func(t *testing.T) {
		page := mocks.NewFakePage("https://x.test/")
		grounder := new(mocks.MockGrounder)
		p := newTestPlayer(t, page, grounder, func(c *config.Config) { c.SetPlayerVisionFallback(false) })

		report, err := p.Play(context.Background(), workflow(schemas.NewFill("#email", "x", nil)), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, report.ActionsFailed)
		assert.Empty(t, page.CallsWith("screenshot"))
		grounder.AssertNotCalled(t, "Locate", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestPlay_ExhaustedWithoutGrounder(t *testing.T) {
	page := mocks.NewFakePage("https://x.test/")
	p := newTestPlayer(t, page, nil)

	report, err := p.Play(context.Background(), workflow(schemas.NewClick("#nope", nil)), nil)
	require.NoError(t, err)

	// A single failure stays below the abort threshold.
	assert.True(t, report.Success)
	assert.Equal(t, 1, report.ActionsFailed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 0, report.Errors[0].Index)
	assert.Contains(t, report.Errors[0].Error, schemas.ErrResolutionExhausted.Error())
	assert.Contains(t, report.Errors[0].Error, "selector:")
	assert.False(t, report.Steps[0].Success)
	assert.Empty(t, page.CallsWith("screenshot"))
}

func TestPlay_FailureThreshold(t *testing.T) {
	t.Run("aborts on the third failure", func(t *testing.T) {
		page := mocks.NewFakePage("https://x.test/")
		p := newTestPlayer(t, page, nil)

		report, err := p.Play(context.Background(), workflow(
			schemas.NewClick("#a", nil),
			schemas.NewNavigate("https://x.test/one"),
			schemas.NewClick("#b", nil),
			schemas.NewClick("#c", nil),
			schemas.NewNavigate("https://x.test/never"),
		), nil)
		require.NoError(t, err)

		assert.False(t, report.Success)
		assert.True(t, report.Aborted)
		assert.Contains(t, report.AbortReason, schemas.ErrTooManyFailures.Error())
		assert.Equal(t, 1, report.ActionsExecuted)
		assert.Equal(t, 3, report.ActionsFailed)
		require.Len(t, report.Errors, 3)
		assert.Equal(t, []int{0, 2, 3}, []int{report.Errors[0].Index, report.Errors[1].Index, report.Errors[2].Index})
		assert.Equal(t, []string{"navigate https://x.test/one"}, page.CallsWith("navigate"))
		assert.Len(t, report.Steps, 4)
	})

	t.Run("two failures still succeed", func(t *testing.T) {
		page := mocks.NewFakePage("https://x.test/")
		p := newTestPlayer(t, page, nil)

		report, err := p.Play(context.Background(), workflow(
			schemas.NewClick("#a", nil),
			schemas.NewClick("#b", nil),
			schemas.NewNavigate("https://x.test/done"),
		), nil)
		require.NoError(t, err)
		assert.True(t, report.Success)
		assert.False(t, report.Aborted)
		assert.Equal(t, 1, report.ActionsExecuted)
		assert.Equal(t, 2, report.ActionsFailed)
	})

	t.Run("configurable", func(t *testing.T) {
		page := mocks.NewFakePage("https://x.test/")
		p := newTestPlayer(t, page, nil, func(c *config.Config) { c.PlayerCfg.MaxFailures = 1 })

		report, err := p.Play(context.Background(), workflow(
			schemas.NewClick("#a", nil),
			schemas.NewNavigate("https://x.test/never"),
		), nil)
		require.NoError(t, err)
		assert.True(t, report.Aborted)
		assert.Empty(t, page.CallsWith("navigate"))
	})
}

func TestPlay_Idempotent(t *testing.T) {
	page := mocks.NewFakePage("about:blank")
	page.Pages["https://x.test/"] = []*mocks.FakeElement{
		{Tag: "button", ID: "go", Text: "Go"},
		{Tag: "input", ID: "q"},
	}
	p := newTestPlayer(t, page, nil)
	wf := workflow(
		schemas.NewNavigate("https://x.test/"),
		schemas.NewClick("#go", nil),
		schemas.NewClick("#missing", nil),
		schemas.NewFill("#q", "hello", nil),
	)

	first, err := p.Play(context.Background(), wf, nil)
	require.NoError(t, err)
	second, err := p.Play(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, first.ActionsExecuted)
	assert.Equal(t, 1, first.ActionsFailed)
	assert.Equal(t, first.ActionsExecuted, second.ActionsExecuted)
	assert.Equal(t, first.ActionsFailed, second.ActionsFailed)
	assert.Equal(t, first.Success, second.Success)
	assert.Equal(t, strategies(first), strategies(second))
	require.Len(t, second.Errors, 1)
	assert.Equal(t, first.Errors[0].Index, second.Errors[0].Index)
}

// slowNavPage makes navigation take a while and records when actions start
// and finish.
type slowNavPage struct {
	*mocks.FakePage
	navTime time.Duration

	mu         sync.Mutex
	navDone    time.Time
	clickStart time.Time
}

func (s *slowNavPage) Navigate(ctx context.Context, url string, policy schemas.WaitPolicy, timeout time.Duration) error {
	time.Sleep(s.navTime)
	err := s.FakePage.Navigate(ctx, url, policy, timeout)
	s.mu.Lock()
	s.navDone = time.Now()
	s.mu.Unlock()
	return err
}

func (s *slowNavPage) Click(ctx context.Context, selector string, index int, timeout time.Duration) error {
	s.mu.Lock()
	s.clickStart = time.Now()
	s.mu.Unlock()
	return s.FakePage.Click(ctx, selector, index, timeout)
}

func TestPlay_DelayFollowsSlowActions(t *testing.T) {
	const delay = 40 * time.Millisecond
	fake := mocks.NewFakePage("about:blank")
	fake.Pages["https://x.test/"] = []*mocks.FakeElement{{Tag: "button", ID: "go", Text: "Go"}}
	page := &slowNavPage{FakePage: fake, navTime: 3 * delay}

	cfg := config.NewDefaultConfig()
	cfg.PlayerCfg.ActionDelay = delay
	p := New(page, nil, cfg, zaptest.NewLogger(t), nil)

	report, err := p.Play(context.Background(), workflow(
		schemas.NewNavigate("https://x.test/"),
		schemas.NewClick("#go", nil),
	), nil)
	require.NoError(t, err)
	require.Equal(t, 2, report.ActionsExecuted)

	page.mu.Lock()
	defer page.mu.Unlock()
	assert.GreaterOrEqual(t, page.clickStart.Sub(page.navDone), delay,
		"the pause comes after the slow action, not from its start")
}

func TestPause(t *testing.T) {
	assert.NoError(t, pause(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pause(ctx, 0), context.Canceled)
	assert.ErrorIs(t, pause(ctx, time.Hour), context.Canceled)

	start := time.Now()
	require.NoError(t, pause(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPlay_Variables(t *testing.T) {
	wf := workflow(
		schemas.NewNavigate("https://x.test/${LANG}/search"),
		schemas.NewFill("#q", "${QUERY}", nil),
	)
	newPage := func() *mocks.FakePage {
		return mocks.NewFakePage("https://x.test/", &mocks.FakeElement{Tag: "input", ID: "q"})
	}

	t.Run("substituted", func(t *testing.T) {
		page := newPage()
		p := newTestPlayer(t, page, nil)
		_, err := p.Play(context.Background(), wf, map[string]string{"LANG": "en", "QUERY": "go modules"})
		require.NoError(t, err)
		assert.Equal(t, []string{"navigate https://x.test/en/search"}, page.CallsWith("navigate"))
		assert.Equal(t, "go modules", page.ValueOf("#q"))
	})

	t.Run("missing values are used literally", func(t *testing.T) {
		page := newPage()
		p := newTestPlayer(t, page, nil)
		_, err := p.Play(context.Background(), wf, map[string]string{"LANG": "fr"})
		require.NoError(t, err)
		assert.Equal(t, []string{"navigate https://x.test/fr/search"}, page.CallsWith("navigate"))
		assert.Equal(t, "${QUERY}", page.ValueOf("#q"))
	})

	t.Run("workflow is not modified", func(t *testing.T) {
		page := newPage()
		p := newTestPlayer(t, page, nil)
		for i := 0; i < 2; i++ {
			report, err := p.Play(context.Background(), wf, map[string]string{"LANG": "de", "QUERY": "x"})
			require.NoError(t, err)
			assert.Equal(t, 2, report.ActionsExecuted)
		}
		assert.Equal(t, "https://x.test/${LANG}/search", wf.Actions[0].URL)
		assert.Equal(t, "${QUERY}", wf.Actions[1].Value)
		assert.Len(t, page.CallsWith("navigate"), 2)
	})
}

func TestPlay_RedactsSensitiveValues(t *testing.T) {
	page := mocks.NewFakePage("https://x.test/")
	p := newTestPlayer(t, page, nil)
	wf := workflow(schemas.NewFill("#password", "hunter2", nil))

	report, err := p.Play(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "***", report.Errors[0].Action.Value)
	assert.NotContains(t, report.Errors[0].Error, "hunter2")
	assert.Equal(t, "hunter2", wf.Actions[0].Value)
}

func TestPlay_NonBrowserActions(t *testing.T) {
	page := mocks.NewFakePage("https://x.test/")
	page.SetFail("quiescence", errors.New("still loading"))
	p := newTestPlayer(t, page, nil)

	report, err := p.Play(context.Background(), workflow(
		schemas.NewMessage("hello"),
		schemas.NewScroll(0, 900),
		schemas.NewUnknown("teleport"),
		schemas.Action{Type: "hover", Selector: "#x"},
	), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, report.ActionsExecuted)
	assert.Equal(t, 2, report.ActionsFailed)
	x, y := page.ScrollPosition()
	assert.Equal(t, [2]int{0, 900}, [2]int{x, y})
	assert.Contains(t, report.Errors[0].Error, "cannot replay")
	assert.Contains(t, report.Errors[1].Error, "unsupported action type")
}

func TestPlay_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	page := mocks.NewFakePage("https://x.test/",
		&mocks.FakeElement{Tag: "button", ID: "stop", OnClick: func(*mocks.FakePage) { cancel() }},
	)
	p := newTestPlayer(t, page, nil)

	report, err := p.Play(ctx, workflow(
		schemas.NewClick("#stop", nil),
		schemas.NewNavigate("https://x.test/next"),
	), nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.False(t, report.Success)
	assert.True(t, report.Aborted)
	assert.Equal(t, 1, report.ActionsExecuted)
	assert.Empty(t, page.CallsWith("navigate"))
}

func TestPlay_Guards(t *testing.T) {
	p := newTestPlayer(t, nil, nil)
	p.driver = nil
	_, err := p.Play(context.Background(), workflow(), nil)
	assert.ErrorIs(t, err, schemas.ErrNotInitialized)

	p = newTestPlayer(t, mocks.NewFakePage("about:blank"), nil)
	_, err = p.Play(context.Background(), nil, nil)
	assert.ErrorIs(t, err, schemas.ErrActionParse)

	report, err := p.Play(context.Background(), workflow(), nil)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Zero(t, report.ActionsExecuted)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t,
		`the clickable element with text "Buy now" labelled "Purchase" linking to https://x.test/buy (CSS selector a.cta)`,
		Describe(schemas.NewClick("a.cta", &schemas.ActionContext{Text: "Buy now", AriaLabel: "Purchase", Href: "https://x.test/buy"})))
	assert.Equal(t, "the input field (CSS selector #q)", Describe(schemas.NewFill("#q", "secret", nil)))
}

func TestBareTag(t *testing.T) {
	tests := map[string]string{
		"li":                    "li",
		"ul > li.item":          "li",
		"div#main span:hover":   "span",
		"#id":                   "",
		".cls":                  "",
		"[data-x]":              "",
		"  BUTTON[type=submit]": "button",
		"":                      "",
		"a + *":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, BareTag(in), in)
	}
}
