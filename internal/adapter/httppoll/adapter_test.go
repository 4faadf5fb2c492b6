package httppoll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFeedServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var replies atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"bot-1"}`))
	})
	mux.HandleFunc("/channels/mentions/events", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = w.Write([]byte(`{"events":[{"id":"m1","originator":{"id":"u1"}},{"id":"m2","type":"quote","originator":{"id":"u2"}}],"next_cursor":"c1"}`))
		case "c1":
			_, _ = w.Write([]byte(`{"events":[],"next_cursor":""}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/replies", func(w http.ResponseWriter, r *http.Request) {
		replies.Add(1)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/typing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &replies
}

func TestAdapter_PollAdvancesCursor(t *testing.T) {
	srv, _ := newFeedServer(t)
	a := New(Options{Platform: "x", BaseURL: srv.URL, MaxRetries: -1}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, a.Connect(ctx, model.NewCredential("tok-1"), model.Scope{}))

	events, err := a.Poll(ctx, "mentions")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "mentions", events[0].Type)
	assert.Equal(t, "quote", events[1].Type)
	assert.False(t, events[0].ReceivedAt.IsZero())

	a.CommitPoll("mentions")
	events, err = a.Poll(ctx, "mentions")
	require.NoError(t, err)
	assert.Empty(t, events)

	// an empty next_cursor keeps the previous position
	a.CommitPoll("mentions")
	events, err = a.Poll(ctx, "mentions")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAdapter_UncommittedPageIsFetchedAgain(t *testing.T) {
	srv, _ := newFeedServer(t)
	a := New(Options{Platform: "x", BaseURL: srv.URL, MaxRetries: -1}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, a.Connect(ctx, model.NewCredential("tok-1"), model.Scope{}))

	first, err := a.Poll(ctx, "mentions")
	require.NoError(t, err)
	require.Len(t, first, 2)

	again, err := a.Poll(ctx, "mentions")
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, "m1", again[0].ID)
}

func TestAdapter_PollAssignsMissingIDs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"bot-1"}`))
	})
	mux.HandleFunc("/channels/mentions/events", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"events":[{"content":"first"},{"content":"second"},{"id":"kept"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := New(Options{Platform: "x", BaseURL: srv.URL, MaxRetries: -1}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, a.Connect(ctx, model.NewCredential("tok-1"), model.Scope{}))

	events, err := a.Poll(ctx, "mentions")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEmpty(t, events[1].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Equal(t, "kept", events[2].ID)
}

func TestAdapter_ConnectRejectsBadCredential(t *testing.T) {
	srv, _ := newFeedServer(t)
	a := New(Options{Platform: "x", BaseURL: srv.URL, MaxRetries: -1}, zap.NewNop())

	err := a.Connect(context.Background(), model.NewCredential("wrong"), model.Scope{})
	require.Error(t, err)

	_, err = a.Poll(context.Background(), "mentions")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestAdapter_ReplyAndTyping(t *testing.T) {
	srv, replies := newFeedServer(t)
	a := New(Options{Platform: "x", BaseURL: srv.URL, MaxRetries: -1}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, a.Connect(ctx, model.NewCredential("tok-1"), model.Scope{}))

	event := model.Event{ID: "m1", Target: model.Target{ID: "conv-1"}}
	require.NoError(t, a.SendTyping(ctx, event))
	require.NoError(t, a.SendReply(ctx, event, worker.Response{Content: "hello"}))
	assert.Equal(t, int32(1), replies.Load())

	require.NoError(t, a.Disconnect(ctx))
	assert.ErrorIs(t, a.SendReply(ctx, event, worker.Response{Content: "x"}), ErrNotConnected)
}

func TestAdapter_DefaultChannels(t *testing.T) {
	a := New(Options{Platform: "x"}, zap.NewNop())
	channels := a.Channels()
	require.Len(t, channels, 2)
	assert.Equal(t, "direct_messages", channels[0].Name)
	assert.Equal(t, 30*time.Second, channels[0].Interval)
	assert.Equal(t, "mentions", channels[1].Name)
	assert.Equal(t, 60*time.Second, channels[1].Interval)

	channels[0].Name = "mutated"
	assert.Equal(t, "direct_messages", a.Channels()[0].Name)
}
