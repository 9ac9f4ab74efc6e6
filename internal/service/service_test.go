package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzwhatnext/qzwhatnext/internal/calendar"
	"github.com/qzwhatnext/qzwhatnext/internal/config"
	"github.com/qzwhatnext/qzwhatnext/internal/engine"
	"github.com/qzwhatnext/qzwhatnext/internal/infer"
	"github.com/qzwhatnext/qzwhatnext/internal/model"
	"github.com/qzwhatnext/qzwhatnext/internal/store"
	"github.com/qzwhatnext/qzwhatnext/internal/testutil"
)

var svcNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func TestSweep_RebuildsEveryUser(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	for _, id := range []string{"u-1", "u-2"} {
		require.NoError(t, st.CreateUser(ctx, model.User{
			ID: id, Timezone: "UTC", CreatedAt: svcNow, UpdatedAt: svcNow,
		}))
		task := model.NewTask("t-"+id, id, "api", "", "task for "+id, svcNow)
		task.DurationConfidence = 0.9
		require.NoError(t, st.CreateTask(ctx, task))
	}

	cfg := config.Default()
	cfg.RetryMaxAttempts = 1
	cfg.RetryBaseDelay = time.Millisecond
	eng := engine.New(st, calendar.NewFake(), infer.NewFixed(), cfg,
		engine.WithNow(testutil.NewFixedNow(svcNow).Now),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator("id")))

	svc := New(st, eng, "*/15 * * * *")
	svc.Sweep(ctx)

	for _, id := range []string{"u-1", "u-2"} {
		blocks, err := st.ListBlocks(ctx, id, store.BlockFilter{})
		require.NoError(t, err)
		assert.Len(t, blocks, 1, "user %s should have one placed block", id)
		assert.Equal(t, "t-"+id, blocks[0].EntityID)
	}
}

func TestRun_InvalidSchedule(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng := engine.New(st, calendar.NewFake(), nil, config.Default())
	svc := New(st, eng, "not a cron spec")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Error(t, svc.Run(ctx))
}

func TestRun_StopsOnCancel(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng := engine.New(st, calendar.NewFake(), nil, config.Default())
	svc := New(st, eng, "*/15 * * * *")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop on cancellation")
	}
}
