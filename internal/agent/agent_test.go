package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPClient_Process(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/process", r.URL.Path)
		assert.Equal(t, "acme", r.Header.Get("X-Tenant-ID"))
		assert.Equal(t, "Bearer agent-key", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "evt-1", req.Event.ID)
		assert.Equal(t, "support-bot", req.Context.AgentBinding)
		assert.True(t, req.Context.ActAsOwner)

		_, _ = w.Write([]byte(`{"content":"hello back"}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{URL: srv.URL, Token: "agent-key", MaxRetries: -1}, zap.NewNop())
	require.NoError(t, err)

	resp, err := c.Process(context.Background(), model.Event{ID: "evt-1", Content: "hi"}, worker.AgentContext{
		TenantID:     "acme",
		Platform:     "discord",
		AgentBinding: "support-bot",
		ActAsOwner:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Content)
}

func TestHTTPClient_AgentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model unavailable"}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{URL: srv.URL, MaxRetries: -1}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Process(context.Background(), model.Event{ID: "evt-1"}, worker.AgentContext{TenantID: "acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestHTTPClient_RequiresURL(t *testing.T) {
	_, err := NewHTTPClient(HTTPOptions{}, zap.NewNop())
	assert.Error(t, err)
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "agents.support.process", SubjectFor("agents.{binding}.process", "support"))
	assert.Equal(t, "agents.default.process", SubjectFor("agents.{binding}.process", ""))
	assert.Equal(t, "agents.process", SubjectFor("agents.process", "support"))
}

func TestNATSClient_Process(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	conn, err := nats.Connect(url)
	require.NoError(t, err)
	defer conn.Close()

	sub, err := conn.Subscribe("agents.test.process", func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		out, _ := json.Marshal(map[string]string{"content": "echo: " + req.Event.Content})
		_ = msg.Respond(out)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	c, err := NewNATSClient(conn, "agents.{binding}.process", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Process(ctx, model.Event{ID: "evt-1", Content: "ping"}, worker.AgentContext{TenantID: "acme", AgentBinding: "test"})
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", resp.Content)
}
