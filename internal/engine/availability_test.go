package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

func w(startHour, endHour int) model.Window {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	return model.Window{
		Start: base.Add(time.Duration(startHour) * time.Hour),
		End:   base.Add(time.Duration(endHour) * time.Hour),
	}
}

func TestBuildFreeList_NoBusy(t *testing.T) {
	free := buildFreeList(w(9, 17), nil)
	require.Len(t, free, 1)
	assert.Equal(t, w(9, 17), free[0])
}

func TestBuildFreeList_SubtractsMiddle(t *testing.T) {
	free := buildFreeList(w(9, 17), []model.Window{w(12, 13)})
	require.Len(t, free, 2)
	assert.Equal(t, w(9, 12), free[0])
	assert.Equal(t, w(13, 17), free[1])
}

func TestBuildFreeList_SubtractsEdges(t *testing.T) {
	free := buildFreeList(w(9, 17), []model.Window{w(8, 10), w(16, 18)})
	require.Len(t, free, 1)
	assert.Equal(t, w(10, 16), free[0])
}

func TestBuildFreeList_MergesOverlappingBusy(t *testing.T) {
	free := buildFreeList(w(9, 17), []model.Window{w(11, 13), w(12, 14), w(14, 15)})
	require.Len(t, free, 2)
	assert.Equal(t, w(9, 11), free[0])
	assert.Equal(t, w(15, 17), free[1])
}

func TestBuildFreeList_FullyBusy(t *testing.T) {
	free := buildFreeList(w(9, 17), []model.Window{w(8, 18)})
	assert.Empty(t, free)
}

func TestBuildFreeList_IgnoresInvertedBusy(t *testing.T) {
	inverted := model.Window{Start: w(9, 17).End, End: w(9, 17).Start}
	free := buildFreeList(w(9, 17), []model.Window{inverted})
	require.Len(t, free, 1)
}

func TestBuildFreeList_UnorderedInput(t *testing.T) {
	a := buildFreeList(w(0, 24), []model.Window{w(15, 16), w(3, 4), w(9, 10)})
	b := buildFreeList(w(0, 24), []model.Window{w(9, 10), w(15, 16), w(3, 4)})
	assert.Equal(t, a, b, "free list is independent of busy order")
	require.Len(t, a, 4)
}

func TestClipFree(t *testing.T) {
	free := []model.Window{w(9, 10), w(11, 12), w(13, 15)}

	got := clipFree(free, w(9, 17).Start.Add(90*time.Minute), w(9, 17).End, 30*time.Minute)
	// 10:30 earliest: first interval gone, second intact, third intact.
	require.Len(t, got, 2)
	assert.Equal(t, w(11, 12), got[0])

	// minSpan drops slivers.
	got = clipFree(free, w(11, 12).End.Add(-10*time.Minute), w(13, 15).End, 30*time.Minute)
	require.Len(t, got, 1)
	assert.Equal(t, w(13, 15), got[0])
}

func TestTotalSpan(t *testing.T) {
	assert.Equal(t, 3*time.Hour, totalSpan([]model.Window{w(9, 10), w(11, 13)}))
	assert.Equal(t, time.Duration(0), totalSpan(nil))
}
