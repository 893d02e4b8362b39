package resultdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxeltest.ai/internal/gametest"
	"voxeltest.ai/internal/sim/structures"
	"voxeltest.ai/internal/sim/voxel"
)

func openTemp(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "results.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestFailedTestsUsesLatestRunAndLastAttempt(t *testing.T) {
	ctx := context.Background()
	db, _ := openTemp(t)
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, db.SaveRun(Run{ID: "old", StartedAt: t0}))
	require.NoError(t, db.Record(Outcome{RunID: "old", Test: "a.stale", Attempt: 1, State: "FAILED", FinishedAt: t0}))

	require.NoError(t, db.SaveRun(Run{ID: "new", StartedAt: t0.Add(time.Hour)}))
	for _, o := range []Outcome{
		{Test: "b.fail", Attempt: 1, State: "FAILED", Code: gametest.CodeTimeout},
		{Test: "c.retried", Attempt: 1, State: "FAILED"},
		{Test: "c.retried", Attempt: 2, State: "PASSED"},
		{Test: "d.flaky_end", Attempt: 1, State: "PASSED"},
		{Test: "d.flaky_end", Attempt: 2, State: "FAILED"},
		{Test: "e.ok", Attempt: 1, State: "PASSED"},
	} {
		o.RunID = "new"
		o.FinishedAt = t0.Add(time.Hour)
		require.NoError(t, db.Record(o))
	}

	failed, err := db.FailedTests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.fail", "d.flaky_end"}, failed)

	outs, err := db.Outcomes(ctx, "new")
	require.NoError(t, err)
	require.Len(t, outs, 6)
	assert.Equal(t, gametest.CodeTimeout, outs[0].Code)
	assert.True(t, outs[0].FinishedAt.Equal(t0.Add(time.Hour)))
}

func TestSaveRunUpdatesTotals(t *testing.T) {
	ctx := context.Background()
	db, _ := openTemp(t)
	start := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, db.SaveRun(Run{ID: "r1", StartedAt: start}))
	require.NoError(t, db.SaveRun(Run{ID: "r1", StartedAt: start, FinishedAt: start.Add(time.Minute), Total: 4, Passed: 3, FailedRequired: 1, Halted: true}))
	require.NoError(t, db.SaveRun(Run{ID: "r2", StartedAt: start.Add(time.Hour)}))

	runs, err := db.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.True(t, runs[0].FinishedAt.IsZero())
	assert.Equal(t, Run{
		ID: "r1", StartedAt: start, FinishedAt: start.Add(time.Minute),
		Total: 4, Passed: 3, FailedRequired: 1, Halted: true,
	}, runs[1])
}

func TestCloseFlushesAndRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.SaveRun(Run{ID: "r", StartedAt: time.Now()}))
	require.NoError(t, db.Record(Outcome{RunID: "r", Test: "x.y", Attempt: 1, State: "FAILED", FinishedAt: time.Now()}))
	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Record(Outcome{}), ErrClosed)

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	failed, err := reopened.FailedTests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x.y"}, failed)
	assert.Zero(t, reopened.WriteErrors())
}

func TestListenerRecordsAttempts(t *testing.T) {
	ctx := context.Background()
	db, _ := openTemp(t)
	require.NoError(t, db.SaveRun(Run{ID: "live", StartedAt: time.Now()}))

	cats := &structures.Catalog{}
	require.NoError(t, cats.Add(structures.Def{ID: "pad", Size: [3]int{1, 1, 1}}))
	world, err := voxel.New(voxel.Config{Structures: cats})
	require.NoError(t, err)

	d := gametest.Definition{Name: "db.retry", Structure: "pad", Fn: func(h *gametest.Helper) {
		if h.Instance().Attempt() == 1 {
			h.Failf("first")
			return
		}
		h.Succeed()
	}}
	inst := gametest.NewInstance(d)
	r := gametest.NewRunner(gametest.RunnerConfig{
		World:     world,
		Retry:     gametest.NewRetryPolicy(2, false),
		Listeners: []gametest.Listener{db.Listener("live")},
	}, []*gametest.Batch{{Name: "b", Instances: []*gametest.Instance{inst}}})
	require.NoError(t, r.Start())
	require.True(t, r.Idle())

	outs, err := db.Outcomes(ctx, "live")
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, "FAILED", outs[0].State)
	assert.Equal(t, gametest.CodeAssertion, outs[0].Code)
	assert.Equal(t, "PASSED", outs[1].State)

	failed, err := db.FailedTests(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestListenerCountsOutcomesAfterClose(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	l := db.Listener("late")
	inst := gametest.NewInstance(gametest.Definition{Name: "late.write", Structure: "pad"})
	l.OnFailed(inst, nil)
	l.OnPassed(inst, nil)

	assert.Equal(t, uint64(2), db.WriteErrors())
}

func TestListenerRecordsExhaustedFlaky(t *testing.T) {
	ctx := context.Background()
	db, _ := openTemp(t)

	cats := &structures.Catalog{}
	require.NoError(t, cats.Add(structures.Def{ID: "pad", Size: [3]int{1, 1, 1}}))
	world, err := voxel.New(voxel.Config{Structures: cats})
	require.NoError(t, err)

	d := gametest.Definition{Name: "db.flaky", Structure: "pad", MaxAttempts: 2, Fn: func(h *gametest.Helper) {
		h.Failf("attempt %d", h.Instance().Attempt())
	}}
	r := gametest.NewRunner(gametest.RunnerConfig{
		World:     world,
		Listeners: []gametest.Listener{db.Listener("flaky")},
	}, []*gametest.Batch{{Name: "b", Instances: []*gametest.Instance{gametest.NewInstance(d)}}})
	require.NoError(t, r.Start())
	require.True(t, r.Idle())
	require.NoError(t, db.Sync(ctx))

	outs, err := db.Outcomes(ctx, "flaky")
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, gametest.CodeAssertion, outs[0].Code)
	assert.Equal(t, gametest.CodeExhausted, outs[1].Code)
	assert.Contains(t, outs[1].Error, "attempt 2")
}
