package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
)

const fixturePage = `<!doctype html>
<html><head><title>Fixture</title></head>
<body>
  <a id="go" href="/next">Go</a>
  <a class="nav" href="/about">About us</a>
  <button aria-label="Open menu" onclick="document.title='menu'">=</button>
  <input id="q" name="q" placeholder="Search">
  <div style="display:none"><a href="/hidden">Hidden</a></div>
  <script>
    document.getElementById('q').addEventListener('keydown', function (e) {
      if (e.key === 'Enter') { document.title = 'submitted:' + this.value; }
    });
  </script>
</body></html>`

// chromePath finds a local Chrome; tests needing a browser skip without one.
func chromePath() string {
	if p := os.Getenv("BROWSERUSE_TEST_CHROME"); p != "" {
		return p
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func newTestSession(t *testing.T) (*Session, *httptest.Server) {
	t.Helper()
	path := chromePath()
	if path == "" {
		t.Skip("no Chrome binary found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.URL.Path == "/next" {
			fmt.Fprint(w, `<html><head><title>Next</title></head><body><p>next page</p></body></html>`)
			return
		}
		fmt.Fprint(w, fixturePage)
	}))
	t.Cleanup(srv.Close)

	cfg := config.NewDefaultConfig()
	cfg.BrowserCfg.ExecPath = path
	cfg.NetworkCfg.QuietPeriod = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	s, err := Launch(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Navigate(ctx, srv.URL, schemas.WaitNetworkIdle, 20*time.Second))
	return s, srv
}

func TestExecOptions(t *testing.T) {
	cfg := config.BrowserConfig{
		Headless: false,
		Args:     []string{"--lang=en-US", "--mute-audio"},
		Viewport: map[string]int{"width": 800, "height": 600},
	}
	opts := execOptions(cfg)
	// defaults, sandbox, gpu, shm, headless=false, window size and two args
	assert.Len(t, opts, len(chromedp.DefaultExecAllocatorOptions)+3+1+1+2)
}

func TestCall(t *testing.T) {
	got := call("(function(a,b){})", `a"b`, 3)
	assert.Equal(t, `((function(a,b){}))("a\"b",3)`, got)
}

func TestSession_QueryAndRead(t *testing.T) {
	s, srv := newTestSession(t)
	ctx := context.Background()

	title, err := s.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Fixture", title)

	u, err := s.CurrentURL(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, srv.URL))

	links, err := s.Query(ctx, "a[href]")
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, "Go", links[0].Text)
	assert.Equal(t, srv.URL+"/next", links[0].Href)
	assert.True(t, links[0].Visible)
	assert.False(t, links[2].Visible, "links inside display:none are reported hidden")

	buttons, err := s.Query(ctx, "button")
	require.NoError(t, err)
	require.Len(t, buttons, 1)
	assert.Equal(t, "Open menu", buttons[0].AriaLabel)

	_, err = s.Query(ctx, "a[")
	assert.Error(t, err, "invalid selectors are errors")

	html, err := s.Content(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `id="q"`)
}

func TestSession_ClickFillPress(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.Click(ctx, "button", 0, 2*time.Second))
	title, err := s.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "menu", title)

	require.NoError(t, s.Fill(ctx, "#q", "hello", 2*time.Second))
	var value string
	require.NoError(t, s.Evaluate(ctx, `document.getElementById('q').value`, &value))
	assert.Equal(t, "hello", value)

	require.NoError(t, s.Press(ctx, "#q", "Enter", 2*time.Second))
	title, err = s.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "submitted:hello", title)

	err = s.Click(ctx, "#missing", 0, 300*time.Millisecond)
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
}

func TestSession_RecordingHooks(t *testing.T) {
	s, srv := newTestSession(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		payloads []string
		navs     []string
	)
	remove, err := s.AddBinding(ctx, "__testSink", func(p string) {
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer remove()

	stopNav := s.OnTopLevelNavigation(func(u string) {
		mu.Lock()
		navs = append(navs, u)
		mu.Unlock()
	})
	defer stopNav()

	uninject, err := s.InjectScript(ctx, `window.__marker = 42;`)
	require.NoError(t, err)
	defer uninject()

	var marker int
	require.NoError(t, s.Evaluate(ctx, `window.__marker`, &marker))
	assert.Equal(t, 42, marker, "script runs in the current document")

	require.NoError(t, s.Evaluate(ctx, `window.__testSink("ping")`, nil))
	require.NoError(t, s.Navigate(ctx, srv.URL+"/next", schemas.WaitLoad, 10*time.Second))
	require.NoError(t, s.Evaluate(ctx, `window.__marker`, &marker))
	assert.Equal(t, 42, marker, "script survives navigation")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(payloads) == 1 && len(navs) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "ping", payloads[0])
	assert.Equal(t, srv.URL+"/next", navs[len(navs)-1])
}

func TestSession_ClosedIsNotInitialized(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Close())

	_, err := s.Title(context.Background())
	assert.ErrorIs(t, err, schemas.ErrNotInitialized)
	assert.NoError(t, s.Close(), "close is idempotent")
}
