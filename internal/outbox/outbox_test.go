package outbox

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueFlushPreservesPerEntityOrder(t *testing.T) {
	q := NewQueue(nil)
	var got []string
	for i := 0; i < 3; i++ {
		i := i
		q.Schedule("pub-1", func(ctx context.Context) error {
			got = append(got, fmt.Sprintf("pub-1/%d", i))
			return nil
		})
	}
	q.Schedule("doc-1", func(ctx context.Context) error {
		got = append(got, "doc-1/0")
		return nil
	})

	require.Equal(t, 4, q.Len())
	q.Flush(context.Background())
	require.Equal(t, []string{"pub-1/0", "pub-1/1", "pub-1/2", "doc-1/0"}, got)
}

func TestQueueFlushContinuesAfterFailure(t *testing.T) {
	q := NewQueue(nil)
	var ran int
	q.Schedule("pub-1", func(ctx context.Context) error {
		return fmt.Errorf("index down")
	})
	q.Schedule("pub-2", func(ctx context.Context) error {
		ran++
		return nil
	})

	q.Flush(context.Background())
	require.Equal(t, 1, ran)
}

func TestQueueFlushIsOneShot(t *testing.T) {
	q := NewQueue(nil)
	var ran int
	q.Schedule("pub-1", func(ctx context.Context) error {
		ran++
		return nil
	})

	q.Flush(context.Background())
	q.Flush(context.Background())
	require.Equal(t, 1, ran)
}

func TestQueueDiscardDropsEffects(t *testing.T) {
	q := NewQueue(nil)
	var ran int
	q.Schedule("pub-1", func(ctx context.Context) error {
		ran++
		return nil
	})

	q.Discard()
	q.Flush(context.Background())
	require.Zero(t, ran)
}

func TestQueueScheduled(t *testing.T) {
	q := NewQueue(nil)
	require.False(t, q.Scheduled("pub-1"))
	q.Schedule("pub-1", func(ctx context.Context) error { return nil })
	require.True(t, q.Scheduled("pub-1"))
	require.False(t, q.Scheduled("pub-2"))
}

func TestQueueDoesNotDeduplicate(t *testing.T) {
	q := NewQueue(nil)
	var ran int
	for i := 0; i < 2; i++ {
		q.Schedule("pub-1", func(ctx context.Context) error {
			ran++
			return nil
		})
	}
	q.Flush(context.Background())
	require.Equal(t, 2, ran)
}
