package idle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEdgeDeltaNoClearEverSeen(t *testing.T) {
	ed := computeEdgeDelta(Edge{AssertSec: 100, AssertNsec: 123456})
	assert.Equal(t, int64(minEdgeDeltaNS), ed.Delta)
	assert.Equal(t, int64(123456), ed.Nsec)
	assert.False(t, ed.LockLost)
}

func TestComputeEdgeDeltaAssertAfterClearCrossSecond(t *testing.T) {
	// assert at 101.000000200, clear at 100.999999900: borrow needed.
	ed := computeEdgeDelta(Edge{
		AssertSec: 101, AssertNsec: 200,
		ClearSec: 100, ClearNsec: 999_999_900,
		ClearSeq: 7,
	})
	assert.Equal(t, int64(200), ed.Nsec)
	assert.Equal(t, int64(300), ed.Delta)
}

func TestComputeEdgeDeltaAssertAfterClearSameSecond(t *testing.T) {
	ed := computeEdgeDelta(Edge{
		AssertSec: 200, AssertNsec: 500_000_300,
		ClearSec: 200, ClearNsec: 500_000_000,
		ClearSeq: 3,
	})
	assert.Equal(t, int64(300), ed.Delta)
	assert.Equal(t, int64(500_000_300), ed.Nsec)
}

func TestComputeEdgeDeltaClearAfterAssertCrossSecond(t *testing.T) {
	ed := computeEdgeDelta(Edge{
		AssertSec: 300, AssertNsec: 999_999_900,
		ClearSec: 301, ClearNsec: 200,
		ClearSeq: 9,
	})
	assert.Equal(t, int64(300), ed.Delta)
	assert.Equal(t, int64(200), ed.Nsec)
}

func TestComputeEdgeDeltaClearAfterAssertSameSecond(t *testing.T) {
	ed := computeEdgeDelta(Edge{
		AssertSec: 400, AssertNsec: 500_000_000,
		ClearSec: 400, ClearNsec: 500_000_300,
		ClearSeq: 4,
	})
	assert.Equal(t, int64(300), ed.Delta)
	assert.Equal(t, int64(500_000_300), ed.Nsec)
}

func TestComputeEdgeDeltaIdenticalEdgesIsLockLoss(t *testing.T) {
	ed := computeEdgeDelta(Edge{
		AssertSec: 500, AssertNsec: 100,
		ClearSec: 500, ClearNsec: 100,
		ClearSeq: 1,
	})
	assert.True(t, ed.LockLost)
}

func TestNormalizeNsec(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{"passthrough small positive", 300, 300},
		{"passthrough below clamp threshold", 900_000, 900_000},
		{"clamped high side", 1_500_000, 999_999},
		{"borrow across second without clamp", 999_999_900, -100},
		{"borrow across second then clamp low side", 500_000_000, -999_999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeNsec(tt.in))
		})
	}
}

func TestLoopMaybePublishTransitionsOnce(t *testing.T) {
	mgr := singleModeManager(t, 4, 2)
	l := NewLoop(nil, mgr, nil, 0)

	require.Equal(t, 1, l.first)
	require.NoError(t, l.maybePublish())
	assert.Equal(t, 2, l.first)

	// Calling again while already published/awaiting-lock is a no-op.
	require.NoError(t, l.maybePublish())
	assert.Equal(t, 2, l.first)
}
