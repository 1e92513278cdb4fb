package numbering

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	require.Equal(t, "RCV/2026/000001", Format(SeriesReceipt, 2026, 1))
	require.Equal(t, "TRF/2025/123456", Format(SeriesTransfer, 2025, 123456))
	require.Equal(t, "CNT/2026/1234567", Format(SeriesCount, 2026, 1234567))
}

func TestNextRequiresSeries(t *testing.T) {
	_, err := Next(context.Background(), nil, 1, "", 2026)
	require.ErrorIs(t, err, ErrInvalidSeries)
}
