package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzwhatnext/qzwhatnext/internal/model"
)

var testNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), model.User{
		ID:        id,
		Timezone:  "America/New_York",
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}))
}

func TestOpen_Idempotent(t *testing.T) {
	s := openTestStore(t)
	// Re-applying the schema against the same handle must not error.
	require.NoError(t, applySchema(s.db))
}

func TestUserRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedUser(t, s, "u-1")
	u, err := s.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", u.Timezone)
	assert.Equal(t, 7, u.HorizonDays, "horizon defaults to 7")

	u.HorizonDays = 14
	u.UpdatedAt = testNow.Add(time.Hour)
	require.NoError(t, s.UpdateUser(ctx, u))

	u, err = s.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 14, u.HorizonDays)

	_, err = s.GetUser(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestTaskRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")

	task := model.NewTask("t-1", "u-1", "api", "", "Write report", testNow)
	task.Deadline = testNow.Add(48 * time.Hour)
	task.StartAfter = model.Date{Year: 2025, Month: time.June, Day: 2}
	task.DueBy = model.Date{Year: 2025, Month: time.June, Day: 3}
	task.Dependencies = []string{"t-0"}
	task.FlexibilityWindow = model.Window{
		Start: testNow.Add(-24 * time.Hour),
		End:   testNow.Add(72 * time.Hour),
	}
	require.NoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, "u-1", "t-1", false)
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.True(t, got.Deadline.Equal(task.Deadline))
	assert.Equal(t, task.StartAfter, got.StartAfter)
	assert.Equal(t, task.DueBy, got.DueBy)
	assert.Equal(t, []string{"t-0"}, got.Dependencies)
	assert.True(t, got.FlexibilityWindow.Start.Equal(task.FlexibilityWindow.Start))
}

func TestTaskUserIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")
	seedUser(t, s, "u-2")

	require.NoError(t, s.CreateTask(ctx, model.NewTask("t-1", "u-1", "api", "", "mine", testNow)))

	_, err := s.GetTask(ctx, "u-2", "t-1", true)
	assert.True(t, IsNotFound(err), "cross-user read must not see the task")

	tasks, err := s.ListTasks(ctx, "u-2", TaskFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCreateTask_AuditInSameTx(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")

	task := model.NewTask("t-1", "u-1", "api", "", "x", testNow)
	ev := model.AuditEvent{
		ID: "ev-1", UserID: "u-1", Timestamp: testNow,
		EventType: model.AuditTaskImported, EntityID: "t-1",
		Details: map[string]any{"source_type": "api"},
	}
	require.NoError(t, s.CreateTask(ctx, task, ev))

	events, err := s.ListAudit(ctx, "u-1", AuditFilter{EntityID: "t-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.AuditTaskImported, events[0].EventType)
	assert.Equal(t, "api", events[0].Details["source_type"])
}

func TestDependencyCycleRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")

	a := model.NewTask("t-a", "u-1", "api", "", "a", testNow)
	require.NoError(t, s.CreateTask(ctx, a))

	b := model.NewTask("t-b", "u-1", "api", "", "b", testNow)
	b.Dependencies = []string{"t-a"}
	require.NoError(t, s.CreateTask(ctx, b))

	// Closing the loop a -> b while b -> a exists is a cycle.
	a.Dependencies = []string{"t-b"}
	err := s.UpdateTask(ctx, a)
	require.Error(t, err)
	assert.True(t, IsDependencyCycle(err))
	assert.True(t, IsConstraintViolation(err))

	// Self-dependency is the one-node cycle.
	c := model.NewTask("t-c", "u-1", "api", "", "c", testNow)
	c.Dependencies = []string{"t-c"}
	err = s.CreateTask(ctx, c)
	assert.True(t, IsDependencyCycle(err))
}

func TestCreateOccurrence_Dedupe(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")

	occ := model.NewTask("t-1", "u-1", "recurrence", "s-1", "stretch", testNow)
	occ.RecurrenceSeriesID = "s-1"
	occ.RecurrenceOccurrenceStart = testNow.Truncate(24 * time.Hour)

	created, err := s.CreateOccurrence(ctx, occ)
	require.NoError(t, err)
	assert.True(t, created)

	// Same dedupe key under a different ID: silent no-op.
	dup := occ
	dup.ID = "t-2"
	created, err = s.CreateOccurrence(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	tasks, err := s.ListTasks(ctx, "u-1", TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	// Only the real insert audited.
	events, err := s.ListAudit(ctx, "u-1", AuditFilter{EventType: model.AuditTaskImported})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSoftDeleteRestorePurge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")

	require.NoError(t, s.CreateTask(ctx, model.NewTask("t-1", "u-1", "api", "", "x", testNow)))
	require.NoError(t, s.CreateBlock(ctx, model.ScheduledBlock{
		ID: "b-1", UserID: "u-1", EntityID: "t-1",
		StartTime: testNow, EndTime: testNow.Add(30 * time.Minute),
		ScheduledBy: model.ScheduledBySystem, SyncState: model.SyncUnsynced,
		CreatedAt: testNow, UpdatedAt: testNow,
	}))

	require.NoError(t, s.SoftDeleteTask(ctx, "u-1", "t-1", testNow))

	// Invisible by default, visible with the flag.
	_, err := s.GetTask(ctx, "u-1", "t-1", false)
	assert.True(t, IsNotFound(err))
	got, err := s.GetTask(ctx, "u-1", "t-1", true)
	require.NoError(t, err)
	assert.True(t, got.Deleted())

	// Cascade removed the block.
	blocks, err := s.ListBlocks(ctx, "u-1", BlockFilter{})
	require.NoError(t, err)
	assert.Empty(t, blocks)

	require.NoError(t, s.RestoreTask(ctx, "u-1", "t-1", testNow))
	_, err = s.GetTask(ctx, "u-1", "t-1", false)
	require.NoError(t, err)

	require.NoError(t, s.PurgeTask(ctx, "u-1", "t-1"))
	_, err = s.GetTask(ctx, "u-1", "t-1", true)
	assert.True(t, IsNotFound(err))
}

func TestMarkOccurrenceMissed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")

	occ := model.NewTask("t-1", "u-1", "recurrence", "s-1", "stretch", testNow)
	occ.RecurrenceSeriesID = "s-1"
	occ.RecurrenceOccurrenceStart = testNow
	_, err := s.CreateOccurrence(ctx, occ)
	require.NoError(t, err)

	require.NoError(t, s.MarkOccurrenceMissed(ctx, "u-1", "t-1", "rb-1", testNow.Add(time.Hour)))

	got, err := s.GetTask(ctx, "u-1", "t-1", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMissed, got.Status)

	events, err := s.ListAudit(ctx, "u-1", AuditFilter{EventType: model.AuditScheduleUpdated})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "occurrence_missed", events[0].Details["reason"])

	// Already missed: second call is a not-found on the open row.
	err = s.MarkOccurrenceMissed(ctx, "u-1", "t-1", "rb-2", testNow.Add(2*time.Hour))
	assert.True(t, IsNotFound(err))
}

func TestReplaceSchedule(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")
	require.NoError(t, s.CreateTask(ctx, model.NewTask("t-1", "u-1", "api", "", "x", testNow)))

	system := model.ScheduledBlock{
		ID: "b-old", UserID: "u-1", EntityID: "t-1",
		StartTime: testNow, EndTime: testNow.Add(time.Hour),
		ScheduledBy: model.ScheduledBySystem, SyncState: model.SyncSynced,
		CalendarEventID: "ev-1",
		CreatedAt:       testNow, UpdatedAt: testNow,
	}
	locked := model.ScheduledBlock{
		ID: "b-locked", UserID: "u-1", EntityID: "t-1",
		StartTime: testNow.Add(2 * time.Hour), EndTime: testNow.Add(3 * time.Hour),
		ScheduledBy: model.ScheduledBySystem, Locked: true, SyncState: model.SyncSynced,
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, s.CreateBlock(ctx, system))
	require.NoError(t, s.CreateBlock(ctx, locked))

	fresh := model.ScheduledBlock{
		ID: "b-new", UserID: "u-1", EntityID: "t-1",
		StartTime: testNow.Add(4 * time.Hour), EndTime: testNow.Add(5 * time.Hour),
		ScheduledBy: model.ScheduledBySystem, SyncState: model.SyncUnsynced,
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	removed, err := s.ReplaceSchedule(ctx, "u-1", []model.ScheduledBlock{fresh})
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "b-old", removed[0].ID)
	assert.Equal(t, "ev-1", removed[0].CalendarEventID)

	blocks, err := s.ListBlocks(ctx, "u-1", BlockFilter{})
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	ids := []string{blocks[0].ID, blocks[1].ID}
	assert.Contains(t, ids, "b-locked", "locked blocks survive rebuilds")
	assert.Contains(t, ids, "b-new")
}

func TestListBlocks_WindowQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")
	require.NoError(t, s.CreateTask(ctx, model.NewTask("t-1", "u-1", "api", "", "x", testNow)))

	mk := func(id string, start, end time.Time) model.ScheduledBlock {
		return model.ScheduledBlock{
			ID: id, UserID: "u-1", EntityID: "t-1",
			StartTime: start, EndTime: end,
			ScheduledBy: model.ScheduledBySystem, SyncState: model.SyncUnsynced,
			CreatedAt: testNow, UpdatedAt: testNow,
		}
	}
	require.NoError(t, s.CreateBlock(ctx, mk("b-1", testNow, testNow.Add(time.Hour))))
	require.NoError(t, s.CreateBlock(ctx, mk("b-2", testNow.Add(2*time.Hour), testNow.Add(3*time.Hour))))
	require.NoError(t, s.CreateBlock(ctx, mk("b-3", testNow.Add(26*time.Hour), testNow.Add(27*time.Hour))))

	got, err := s.ListBlocks(ctx, "u-1", BlockFilter{
		Window: model.Window{Start: testNow, End: testNow.Add(24 * time.Hour)},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b-1", got[0].ID)
	assert.Equal(t, "b-2", got[1].ID)
}

func TestSeriesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")

	series := model.RecurringTaskSeries{
		ID: "s-1", UserID: "u-1", TitleTemplate: "stretch",
		Preset:    model.RecurrencePresetJSON(`{"frequency":"daily","interval":1}`),
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, s.CreateSeries(ctx, series))

	active, err := s.ListActiveSeries(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, s.SoftDeleteSeries(ctx, "u-1", "s-1", testNow))
	active, err = s.ListActiveSeries(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	// Still readable directly.
	got, err := s.GetSeries(ctx, "u-1", "s-1")
	require.NoError(t, err)
	assert.True(t, got.Deleted())
}

func TestTokens(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")

	tok := model.AutomationToken{
		ID: "tok-1", UserID: "u-1", TokenHash: "abc123", Prefix: "qz_12ab",
		Label: "shortcuts", CreatedAt: testNow,
	}
	require.NoError(t, s.CreateToken(ctx, tok))

	got, err := s.TokenByHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)

	require.NoError(t, s.RevokeToken(ctx, "u-1", "tok-1", testNow))
	_, err = s.TokenByHash(ctx, "abc123")
	assert.True(t, IsNotFound(err), "revoked tokens are invisible to lookup")

	all, err := s.ListTokens(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Revoked())
}

func TestRebuildLock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")

	ok, err := s.AcquireRebuildLock(ctx, "u-1", "rb-1", testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second rebuild cannot steal a fresh lock.
	ok, err = s.AcquireRebuildLock(ctx, "u-1", "rb-2", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseRebuildLock(ctx, "u-1", "rb-1"))
	ok, err = s.AcquireRebuildLock(ctx, "u-1", "rb-2", testNow.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	// A stale lock is stolen.
	ok, err = s.AcquireRebuildLock(ctx, "u-1", "rb-3", testNow.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuditAppendOnlyOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u-1")

	for i, et := range []model.AuditEventType{
		model.AuditScheduleBuilt, model.AuditOverflowFlagged, model.AuditTierChanged,
	} {
		require.NoError(t, s.AppendAudit(ctx, model.AuditEvent{
			ID: "ev-" + string(rune('a'+i)), UserID: "u-1", RebuildID: "rb-1",
			Seq: int64(i + 1), Timestamp: testNow, EventType: et, EntityID: "t-1",
		}))
	}

	events, err := s.ListAudit(ctx, "u-1", AuditFilter{RebuildID: "rb-1"})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, model.AuditScheduleBuilt, events[0].EventType)
	assert.Equal(t, model.AuditTierChanged, events[2].EventType)

	// Duplicate IDs are skipped, not duplicated.
	require.NoError(t, s.AppendAudit(ctx, model.AuditEvent{
		ID: "ev-a", UserID: "u-1", RebuildID: "rb-1", Seq: 9,
		Timestamp: testNow, EventType: model.AuditScheduleBuilt,
	}))
	events, err = s.ListAudit(ctx, "u-1", AuditFilter{RebuildID: "rb-1"})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
