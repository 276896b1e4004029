package cmd

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/hub"
	"github.com/KASPER94/browser-use-llm/internal/metrics"
	"github.com/KASPER94/browser-use-llm/internal/service"
	"github.com/KASPER94/browser-use-llm/internal/store"
)

func TestServe(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ws, err := store.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)
	id, err := ws.Save(context.Background(), &schemas.RecordedWorkflow{Name: "served", Actions: []schemas.Action{schemas.NewNavigate("https://a.test/")}})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	c := &service.Components{Registry: reg, Metrics: metrics.NewCollector(reg, logger), Workflows: ws}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, lis, config.ServerConfig{MetricsPath: "/metrics"}, c, logger)
	}()
	base := "http://" + lis.Addr().String()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(base + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(base + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		_, err = io.Copy(io.Discard, resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	})

	t.Run("websocket round trip", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial("ws://"+lis.Addr().String()+"/ws", nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(hub.Inbound{Type: hub.TypeListWorkflows, RequestID: "r1"}))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		var reply struct {
			Type      string                    `json:"type"`
			RequestID string                    `json:"request_id"`
			Data      []schemas.WorkflowSummary `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, hub.TypeWorkflowList, reply.Type)
		assert.Equal(t, "r1", reply.RequestID)
		require.Len(t, reply.Data, 1)
		assert.Equal(t, id, reply.Data[0].ID)

		// Without a browser, playback is refused with an error reply.
		require.NoError(t, conn.WriteJSON(hub.Inbound{Type: hub.TypePlayWorkflow, RequestID: "r2", WorkflowID: id}))
		var errReply hub.Outbound
		require.NoError(t, conn.ReadJSON(&errReply))
		assert.Equal(t, hub.TypeError, errReply.Type)
		assert.True(t, strings.Contains(errReply.Content, schemas.ErrNotInitialized.Error()), errReply.Content)
	})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}
