package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kachi-io/kachi/internal/domain/events"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/types"
)

func eventBatch(n int) []*events.RawEvent {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	batch := make([]*events.RawEvent, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, &events.RawEvent{
			CustomerID: "cust-1",
			TS:         base.Add(time.Duration(i) * time.Second),
			EventType:  types.EventTypeSpanStarted,
		})
	}
	return batch
}

func TestAppendHalvingCommitsWholeBatch(t *testing.T) {
	var sizes []int
	commit := func(ctx context.Context, batch []*events.RawEvent) error {
		sizes = append(sizes, len(batch))
		return nil
	}

	err := appendHalving(context.Background(), eventBatch(8), commit)
	require.NoError(t, err)
	assert.Equal(t, []int{8}, sizes)
}

func TestAppendHalvingEmptyBatch(t *testing.T) {
	called := false
	commit := func(ctx context.Context, batch []*events.RawEvent) error {
		called = true
		return nil
	}

	require.NoError(t, appendHalving(context.Background(), nil, commit))
	assert.False(t, called)
}

func TestAppendHalvingSplitsOnContention(t *testing.T) {
	var sizes []int
	commit := func(ctx context.Context, batch []*events.RawEvent) error {
		sizes = append(sizes, len(batch))
		if len(batch) > 2 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	}

	err := appendHalving(context.Background(), eventBatch(8), commit)
	require.NoError(t, err)
	// 8 and 4 fail, the batch lands as four commits of two
	assert.Equal(t, []int{8, 4, 2, 2, 4, 2, 2}, sizes)
}

func TestAppendHalvingDeadlockIsRetryable(t *testing.T) {
	var sizes []int
	commit := func(ctx context.Context, batch []*events.RawEvent) error {
		sizes = append(sizes, len(batch))
		if len(batch) > 1 {
			return &pq.Error{Code: "40P01"}
		}
		return nil
	}

	err := appendHalving(context.Background(), eventBatch(4), commit)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 1, 1, 2, 1, 1}, sizes)
}

func TestAppendHalvingStopsAtSingleEvent(t *testing.T) {
	attempts := 0
	commit := func(ctx context.Context, batch []*events.RawEvent) error {
		attempts++
		return &pq.Error{Code: "40001"}
	}

	err := appendHalving(context.Background(), eventBatch(2), commit)
	require.Error(t, err)
	// 2, then the first half of one, no retry past single events
	assert.Equal(t, 2, attempts)
}

func TestAppendHalvingNonContentionFailsFast(t *testing.T) {
	attempts := 0
	commit := func(ctx context.Context, batch []*events.RawEvent) error {
		attempts++
		return ierr.NewError("connection refused").Mark(ierr.ErrDatabase)
	}

	err := appendHalving(context.Background(), eventBatch(8), commit)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsContention(t *testing.T) {
	assert.True(t, isContention(&pq.Error{Code: "40001"}))
	assert.True(t, isContention(&pq.Error{Code: "40P01"}))
	assert.False(t, isContention(&pq.Error{Code: "23505"}))
	assert.False(t, isContention(ierr.NewError("boom").Mark(ierr.ErrDatabase)))
	assert.False(t, isContention(nil))
}
