package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

type message struct {
	routingKey  string
	body        []byte
	contentType string
}

type fakeBroker struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (b *fakeBroker) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, message{routingKey, body, contentType})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestPublisher_PublishTile(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(broker, testLogger(), true)

	event := &domain.TileEvent{
		RunID:    "run-1",
		Z:        14,
		X:        4823,
		Y:        6158,
		URL:      "https://tiles.test/14/4823/6158.png",
		Path:     "/tiles/14/4823/6158.png",
		Bytes:    1234,
		StoredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, p.PublishTile(context.Background(), event))

	require.Len(t, broker.messages, 1)
	msg := broker.messages[0]
	assert.Equal(t, RoutingKeyTileStored, msg.routingKey)
	assert.Equal(t, "application/json", msg.contentType)

	var got domain.TileEvent
	require.NoError(t, json.Unmarshal(msg.body, &got))
	assert.Equal(t, *event, got)
}

func TestPublisher_TileEventsDisabled(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(broker, testLogger(), false)

	require.NoError(t, p.PublishTile(context.Background(), &domain.TileEvent{RunID: "run-1"}))
	require.NoError(t, p.PublishRun(context.Background(), &domain.Run{RunID: "run-1", Status: domain.RunStatusCompleted}))

	require.Len(t, broker.messages, 1)
	assert.Equal(t, RoutingKeyRunFinished, broker.messages[0].routingKey)
	assert.JSONEq(t, `"COMPLETED"`, mustField(t, broker.messages[0].body, "status"))
}

func TestPublisher_BrokerError(t *testing.T) {
	broker := &fakeBroker{err: errors.New("channel closed")}
	p := NewPublisher(broker, testLogger(), true)

	err := p.PublishRun(context.Background(), &domain.Run{RunID: "run-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run.finished")
	assert.ErrorIs(t, err, broker.err)
}

func TestPublisher_ConcurrentTiles(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(broker, testLogger(), true)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.PublishTile(context.Background(), &domain.TileEvent{RunID: "run-1", X: i}))
		}()
	}
	wg.Wait()

	assert.Len(t, broker.messages, 32)
}

func mustField(t *testing.T, body []byte, key string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return string(m[key])
}
