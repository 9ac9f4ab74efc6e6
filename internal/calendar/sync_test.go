package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
	"github.com/qzwhatnext/qzwhatnext/internal/store"
	"github.com/qzwhatnext/qzwhatnext/internal/testutil"
)

var syncNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type syncFixture struct {
	store *store.Store
	fake  *Fake
	sync  *Synchronizer
	now   *testutil.FixedNow
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.CreateUser(context.Background(), model.User{
		ID: "u-1", Timezone: "UTC", CreatedAt: syncNow, UpdatedAt: syncNow,
	}))

	fake := NewFake()
	now := testutil.NewFixedNow(syncNow)
	return &syncFixture{
		store: st,
		fake:  fake,
		sync: NewSynchronizer(st, fake,
			WithNow(now.Now),
			WithRetry(1, time.Millisecond),
			WithCallTimeout(time.Second)),
		now: now,
	}
}

func (f *syncFixture) seedTaskAndBlock(t *testing.T, taskID, blockID string, start, end time.Time) {
	t.Helper()
	ctx := context.Background()
	task := model.NewTask(taskID, "u-1", "api", "", "review budget", syncNow)
	require.NoError(t, f.store.CreateTask(ctx, task))
	require.NoError(t, f.store.CreateBlock(ctx, model.ScheduledBlock{
		ID: blockID, UserID: "u-1", EntityID: taskID,
		StartTime: start, EndTime: end,
		ScheduledBy: model.ScheduledBySystem, SyncState: model.SyncUnsynced,
		CreatedAt: syncNow, UpdatedAt: syncNow,
	}))
}

func TestSync_CreatesManagedEvent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.seedTaskAndBlock(t, "t-1", "b-1", syncNow.Add(time.Hour), syncNow.Add(2*time.Hour))

	stats, err := f.sync.Sync(ctx, "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	events := f.fake.Events("u-1")
	require.Len(t, events, 1)
	assert.True(t, events[0].Managed)
	assert.Equal(t, "b-1", events[0].BlockID)
	assert.Equal(t, "review budget", events[0].Title)

	b, err := f.store.GetBlock(ctx, "u-1", "b-1")
	require.NoError(t, err)
	assert.Equal(t, events[0].ID, b.CalendarEventID)
	assert.Equal(t, events[0].Etag, b.CalendarEtag)
	assert.Equal(t, model.SyncSynced, b.SyncState)
}

func TestSync_SecondPassZeroWrites(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.seedTaskAndBlock(t, "t-1", "b-1", syncNow.Add(time.Hour), syncNow.Add(2*time.Hour))

	_, err := f.sync.Sync(ctx, "u-1", nil)
	require.NoError(t, err)
	writesAfterFirst := f.fake.Writes()

	stats, err := f.sync.Sync(ctx, "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Equal(t, writesAfterFirst, f.fake.Writes(), "idempotent: no external writes on second pass")
}

func TestSync_ImportsUserMove_LocksBlock(t *testing.T) {
	// A user drags the event from [10:00,11:00] to [14:00,15:00]. The next
	// sync imports the new interval and locks the block so rebuilds keep it.
	f := newSyncFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	f.seedTaskAndBlock(t, "t-1", "b-1", start, start.Add(time.Hour))

	_, err := f.sync.Sync(ctx, "u-1", nil)
	require.NoError(t, err)

	b, err := f.store.GetBlock(ctx, "u-1", "b-1")
	require.NoError(t, err)
	moved := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	require.NoError(t, f.fake.UserMove("u-1", b.CalendarEventID, moved, moved.Add(time.Hour)))

	stats, err := f.sync.Sync(ctx, "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Imported)

	b, err = f.store.GetBlock(ctx, "u-1", "b-1")
	require.NoError(t, err)
	assert.True(t, b.Locked, "user move locks the block")
	assert.True(t, b.StartTime.Equal(moved))
	assert.True(t, b.EndTime.Equal(moved.Add(time.Hour)))
	assert.Equal(t, model.SyncSynced, b.SyncState)

	events, err := f.store.ListAudit(ctx, "u-1", store.AuditFilter{EventType: model.AuditRescheduled})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "user_moved_in_calendar", events[0].Details["reason"])
}

func TestSync_ImportsTitleEdit(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.seedTaskAndBlock(t, "t-1", "b-1", syncNow.Add(time.Hour), syncNow.Add(2*time.Hour))

	_, err := f.sync.Sync(ctx, "u-1", nil)
	require.NoError(t, err)

	b, err := f.store.GetBlock(ctx, "u-1", "b-1")
	require.NoError(t, err)
	require.NoError(t, f.fake.UserRetitle("u-1", b.CalendarEventID, "review Q3 budget", "bring printouts"))

	stats, err := f.sync.Sync(ctx, "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Imported)

	task, err := f.store.GetTask(ctx, "u-1", "t-1", false)
	require.NoError(t, err)
	assert.Equal(t, "review Q3 budget", task.Title)
	assert.Equal(t, "bring printouts", task.Notes)

	b, err = f.store.GetBlock(ctx, "u-1", "b-1")
	require.NoError(t, err)
	assert.False(t, b.Locked, "title edits do not lock")

	events, err := f.store.ListAudit(ctx, "u-1", store.AuditFilter{EventType: model.AuditCalendarEditImported})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSync_DeletesDisplacedEvents(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.seedTaskAndBlock(t, "t-1", "b-1", syncNow.Add(time.Hour), syncNow.Add(2*time.Hour))

	_, err := f.sync.Sync(ctx, "u-1", nil)
	require.NoError(t, err)
	b, err := f.store.GetBlock(ctx, "u-1", "b-1")
	require.NoError(t, err)

	// Simulate a rebuild displacing the block.
	removed, err := f.store.ReplaceSchedule(ctx, "u-1", nil)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, b.CalendarEventID, removed[0].CalendarEventID)

	stats, err := f.sync.Sync(ctx, "u-1", removed)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	assert.Empty(t, f.fake.Events("u-1"))
}

func TestSync_NeverTouchesForeignEvents(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// Marker but no linkage: the user copied a managed event somewhere.
	foreignID := f.fake.AddForeignEvent("u-1", Event{
		Start: syncNow, End: syncNow.Add(time.Hour),
		Title: "copied event", Managed: true, BlockID: "b-elsewhere",
	})

	// A displaced block whose stored ID now points at the foreign event.
	f.seedTaskAndBlock(t, "t-1", "b-1", syncNow.Add(time.Hour), syncNow.Add(2*time.Hour))
	b, err := f.store.GetBlock(ctx, "u-1", "b-1")
	require.NoError(t, err)
	b.CalendarEventID = foreignID
	require.NoError(t, f.store.UpdateBlock(ctx, b))

	removed, err := f.store.ReplaceSchedule(ctx, "u-1", nil)
	require.NoError(t, err)

	stats, err := f.sync.Sync(ctx, "u-1", removed)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Deleted)
	assert.Len(t, f.fake.Events("u-1"), 1, "foreign event survives")
}

func TestSync_RecreatesExternallyDeletedEvent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.seedTaskAndBlock(t, "t-1", "b-1", syncNow.Add(time.Hour), syncNow.Add(2*time.Hour))

	_, err := f.sync.Sync(ctx, "u-1", nil)
	require.NoError(t, err)
	b, err := f.store.GetBlock(ctx, "u-1", "b-1")
	require.NoError(t, err)
	f.fake.UserDelete("u-1", b.CalendarEventID)

	stats, err := f.sync.Sync(ctx, "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	b2, err := f.store.GetBlock(ctx, "u-1", "b-1")
	require.NoError(t, err)
	assert.NotEqual(t, b.CalendarEventID, b2.CalendarEventID)
}

func TestSync_UnauthorizedAborts(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.seedTaskAndBlock(t, "t-1", "b-1", syncNow.Add(time.Hour), syncNow.Add(2*time.Hour))

	f.fake.Revoke()
	_, err := f.sync.Sync(ctx, "u-1", nil)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestFake_BusyIntervals(t *testing.T) {
	f := NewFake()
	f.AddBusy("u-1", syncNow, syncNow.Add(time.Hour))

	got, err := f.BusyIntervals(context.Background(), "u-1",
		model.Window{Start: syncNow.Add(-time.Hour), End: syncNow.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Managed)

	// Outside the window: invisible.
	got, err = f.BusyIntervals(context.Background(), "u-1",
		model.Window{Start: syncNow.Add(2 * time.Hour), End: syncNow.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, got)
}
