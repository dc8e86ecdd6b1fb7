package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "alerts", map[string]string{"kind": "price_change"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "alerts", msgs[0].Topic)
	require.Equal(t, []any{"payload"}, pub.Topic("audit"))

	msgs[0].Topic = "modified"
	require.Equal(t, "alerts", pub.Messages()[0].Topic)
}

func TestPublisherFailNext(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailNext(errors.New("unavailable"))
	_, err := pub.Publish(context.Background(), "alerts", 1)
	require.ErrorContains(t, err, "unavailable")
	_, err = pub.Publish(context.Background(), "alerts", 2)
	require.NoError(t, err)
	require.Len(t, pub.Messages(), 1)
}

func TestPublisherCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "alerts", 1)
	require.ErrorIs(t, err, context.Canceled)
}
