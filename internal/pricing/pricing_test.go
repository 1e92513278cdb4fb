package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type captureEnqueuer struct {
	entries []Entry
	err     error
}

func (c *captureEnqueuer) EnqueuePriceHistory(_ context.Context, e Entry) error {
	c.entries = append(c.entries, e)
	return c.err
}

func entry() Entry {
	return Entry{
		CompanyID: 1,
		ItemID:    7,
		Kind:      KindSale,
		UnitPrice: decimal.RequireFromString("15.50"),
		Quantity:  decimal.NewFromInt(3),
		Date:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestQueueRecorderEnqueues(t *testing.T) {
	q := &captureEnqueuer{}
	NewQueueRecorder(q, nil).RecordPrice(context.Background(), entry())
	require.Len(t, q.entries, 1)
	require.Equal(t, int64(7), q.entries[0].ItemID)
}

func TestQueueRecorderSwallowsFailures(t *testing.T) {
	q := &captureEnqueuer{err: errors.New("redis down")}
	rec := NewQueueRecorder(q, nil)
	require.NotPanics(t, func() { rec.RecordPrice(context.Background(), entry()) })

	bad := entry()
	bad.Kind = ""
	rec.RecordPrice(context.Background(), bad)
	require.Len(t, q.entries, 1)

	var nilRec *QueueRecorder
	require.NotPanics(t, func() { nilRec.RecordPrice(context.Background(), entry()) })
}
