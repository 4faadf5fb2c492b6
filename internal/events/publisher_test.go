package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLifecycleEvent_Subject(t *testing.T) {
	e := LifecycleEvent{Kind: WorkerFailed, Platform: "discord", TenantID: "acme"}
	assert.Equal(t, "botsupervisor.discord.worker.failed", e.Subject())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), LifecycleEvent{Kind: WorkerStarted}))
	assert.NoError(t, p.Close())
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	conn, err := Connect(Config{URL: url, Name: "events-test"}, zap.NewNop())
	require.NoError(t, err)
	defer conn.Close()

	sub, err := conn.SubscribeSync("botsupervisor.discord.worker.*")
	require.NoError(t, err)

	p := NewNATSPublisher(conn, zap.NewNop())
	require.NoError(t, p.Health())
	require.NoError(t, p.Publish(context.Background(), LifecycleEvent{
		Kind:     WorkerStarted,
		Platform: "discord",
		TenantID: "acme",
	}))

	var msg *nats.Msg
	msg, err = sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "botsupervisor.discord.worker.started", msg.Subject)

	var got LifecycleEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "acme", got.TenantID)
	assert.False(t, got.Timestamp.IsZero())
}
