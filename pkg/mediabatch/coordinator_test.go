package mediabatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/seafloor/asyncjobs/pkg/backend"
	"github.com/seafloor/asyncjobs/pkg/core"
	"github.com/seafloor/asyncjobs/pkg/registry"
	"github.com/seafloor/asyncjobs/pkg/runner"
	"github.com/seafloor/asyncjobs/pkg/storage"
)

// newTestCoordinator wires a coordinator over a memory cache and an
// immediate scheduler. The thumbnail handler succeeds with a derived URL;
// the point patch handler fails, exercising the placeholder path.
func newTestCoordinator(t *testing.T) (*Coordinator, *storage.GormStorage) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))

	reg := registry.New()
	reg.Register(JobNameThumbnail, func(ctx context.Context, args []string) (string, error) {
		return fmt.Sprintf("/media/thumbs/%s__%sx%s.jpg", args[0], args[1], args[2]), nil
	}, registry.Queue(registry.QueueRealtime))
	reg.Register(JobNamePointPatch, func(ctx context.Context, args []string) (string, error) {
		return "", core.Failf("point %s has no image", args[0])
	}, registry.Queue(registry.QueueRealtime))

	local := backend.NewLocal(reg, backend.Immediate())
	sched := runner.New(store, reg, local,
		runner.WithImmediate(),
		runner.WithJitter(func() time.Duration { return -time.Second }))
	local.Bind(sched)

	return New(NewMemoryCache(), sched, store), store
}

// ──────────────────────────────────────────────────────────────────────────────
// Batch lifecycle
// ──────────────────────────────────────────────────────────────────────────────

func TestCreate_DistinctKeys(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	a, err := c.Create(ctx, "user-1")
	require.NoError(t, err)
	b, err := c.Create(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}

func TestAddItem_Idempotent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	key, err := c.Create(ctx, "user-1")
	require.NoError(t, err)

	thumb := Thumbnail{Path: "a.jpg", Width: 100, Height: 100}
	require.NoError(t, c.AddItem(ctx, key, thumb))
	require.NoError(t, c.AddItem(ctx, key, thumb))

	entry, err := c.readEntry(ctx, key)
	require.NoError(t, err)
	assert.Len(t, entry.Items, 1)
	assert.Equal(t, ItemPending, entry.Items[thumb.Key()].Status)
}

func TestAddItem_UnknownBatch(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	err := c.AddItem(ctx, "no-such-batch", Thumbnail{Path: "a.jpg", Width: 1, Height: 1})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStartGeneration_BindsJobs(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t)

	key, err := c.Create(ctx, "user-1")
	require.NoError(t, err)
	thumb := Thumbnail{Path: "a.jpg", Width: 100, Height: 100}
	require.NoError(t, c.AddItem(ctx, key, thumb))

	started, err := c.HasStartedGeneration(ctx, key)
	require.NoError(t, err)
	assert.False(t, started)

	require.NoError(t, c.StartGeneration(ctx, key, "user-1"))

	started, err = c.HasStartedGeneration(ctx, key)
	require.NoError(t, err)
	assert.True(t, started)

	entry, err := c.readEntry(ctx, key)
	require.NoError(t, err)
	item := entry.Items[thumb.Key()]
	assert.Equal(t, ItemInProgress, item.Status)
	require.NotEmpty(t, item.JobID)

	job, err := store.GetJob(ctx, item.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobNameThumbnail, job.Name)
	assert.True(t, job.Hidden)
}

func TestStartGeneration_SharesJobsAcrossBatches(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	thumb := Thumbnail{Path: "shared.jpg", Width: 100, Height: 100}

	// Two batches needing the same rendition converge on one job via the
	// scheduler's dedup. GetOrCreate in the second batch sees a completed
	// job only if the first already ran; with the immediate backend the
	// first StartGeneration runs it, so the second creates a fresh one.
	// Either way both batches resolve.
	keyA, err := c.Create(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, c.AddItem(ctx, keyA, thumb))
	require.NoError(t, c.StartGeneration(ctx, keyA, "user-1"))

	keyB, err := c.Create(ctx, "user-2")
	require.NoError(t, err)
	require.NoError(t, c.AddItem(ctx, keyB, thumb))
	require.NoError(t, c.StartGeneration(ctx, keyB, "user-2"))

	for _, key := range []string{keyA, keyB} {
		completed, err := c.CheckJobs(ctx, key)
		require.NoError(t, err)
		require.Len(t, completed, 1, key)
	}
}

func TestStartGeneration_OnlyStartsPendingItems(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	key, err := c.Create(ctx, "user-1")
	require.NoError(t, err)
	first := Thumbnail{Path: "a.jpg", Width: 100, Height: 100}
	require.NoError(t, c.AddItem(ctx, key, first))
	require.NoError(t, c.StartGeneration(ctx, key, "user-1"))

	entry, err := c.readEntry(ctx, key)
	require.NoError(t, err)
	firstJobID := entry.Items[first.Key()].JobID

	// Add another item later; a second call starts only the new one.
	second := Thumbnail{Path: "b.jpg", Width: 100, Height: 100}
	require.NoError(t, c.AddItem(ctx, key, second))
	require.NoError(t, c.StartGeneration(ctx, key, "user-1"))

	entry, err = c.readEntry(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, firstJobID, entry.Items[first.Key()].JobID)
	assert.Equal(t, ItemInProgress, entry.Items[second.Key()].Status)
}

func TestStartGeneration_OwnerMismatch(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	key, err := c.Create(ctx, "session-token-a")
	require.NoError(t, err)

	// Anonymous sessions carry distinct tokens; another session's token
	// reads as not-found, never as a distinguishable denial.
	err = c.StartGeneration(ctx, key, "session-token-b")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// ──────────────────────────────────────────────────────────────────────────────
// Polling
// ──────────────────────────────────────────────────────────────────────────────

func TestCheckJobs_SuccessAndFailure(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	key, err := c.Create(ctx, "user-1")
	require.NoError(t, err)
	thumb := Thumbnail{Path: "a.jpg", Width: 100, Height: 100}
	patch := PointPatch{PointID: "42"}
	require.NoError(t, c.AddItem(ctx, key, thumb))
	require.NoError(t, c.AddItem(ctx, key, patch))
	require.NoError(t, c.StartGeneration(ctx, key, "user-1"))

	completed, err := c.CheckJobs(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{patch.Key(), thumb.Key()}, completed)

	ok, err := c.GetExisting(ctx, key, thumb.Key(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, ItemCompleted, ok.Status)
	assert.Equal(t, "/media/thumbs/a.jpg__100x100.jpg", ok.URL)

	failed, err := c.GetExisting(ctx, key, patch.Key(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, ItemCompleted, failed.Status)
	assert.Equal(t, patch.PlaceholderURL(), failed.URL,
		"failed generation resolves to the sized placeholder")
}

func TestCheckJobs_ReportsEachItemOnce(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	key, err := c.Create(ctx, "user-1")
	require.NoError(t, err)
	thumb := Thumbnail{Path: "a.jpg", Width: 100, Height: 100}
	require.NoError(t, c.AddItem(ctx, key, thumb))
	require.NoError(t, c.StartGeneration(ctx, key, "user-1"))

	completed, err := c.CheckJobs(ctx, key)
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	// Completed items stay in the ledger but are no longer "newly done".
	completed, err = c.CheckJobs(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, completed)

	item, err := c.GetExisting(ctx, key, thumb.Key(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, ItemCompleted, item.Status)
	assert.NotEmpty(t, item.URL)
}

func TestCheckJobs_VanishedJobGetsPlaceholder(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t)

	key, err := c.Create(ctx, "user-1")
	require.NoError(t, err)
	thumb := Thumbnail{Path: "a.jpg", Width: 100, Height: 100}
	require.NoError(t, c.AddItem(ctx, key, thumb))
	require.NoError(t, c.StartGeneration(ctx, key, "user-1"))

	entry, err := c.readEntry(ctx, key)
	require.NoError(t, err)
	jobID := entry.Items[thumb.Key()].JobID
	require.NoError(t, store.DB().Where("id = ?", jobID).Delete(&core.Job{}).Error)

	completed, err := c.CheckJobs(ctx, key)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	item, err := c.GetExisting(ctx, key, thumb.Key(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, thumb.PlaceholderURL(), item.URL)
}

func TestCheckJobs_IgnoresForeignJobTypes(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t)

	key, err := c.Create(ctx, "user-1")
	require.NoError(t, err)
	thumb := Thumbnail{Path: "a.jpg", Width: 100, Height: 100}
	require.NoError(t, c.AddItem(ctx, key, thumb))
	require.NoError(t, c.StartGeneration(ctx, key, "user-1"))

	// A tampered ledger pointing at a non-media job must not leak that
	// job's result message; it resolves to the placeholder instead.
	foreign := &core.Job{Name: "classify", ArgIdentifier: "secret",
		Status: core.StatusSuccess, ResultMessage: "s3://secret-location"}
	require.NoError(t, store.CreateJob(ctx, foreign))

	entry, err := c.readEntry(ctx, key)
	require.NoError(t, err)
	item := entry.Items[thumb.Key()]
	item.Status = ItemInProgress
	item.JobID = foreign.ID
	item.URL = ""
	entry.Items[thumb.Key()] = item
	require.NoError(t, c.writeEntry(ctx, key, entry))

	_, err = c.CheckJobs(ctx, key)
	require.NoError(t, err)

	got, err := c.GetExisting(ctx, key, thumb.Key(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, thumb.PlaceholderURL(), got.URL)
}

// ──────────────────────────────────────────────────────────────────────────────
// GetExisting
// ──────────────────────────────────────────────────────────────────────────────

func TestGetExisting_NotFoundShapes(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	key, err := c.Create(ctx, "user-1")
	require.NoError(t, err)
	thumb := Thumbnail{Path: "a.jpg", Width: 100, Height: 100}
	require.NoError(t, c.AddItem(ctx, key, thumb))

	// Missing batch, missing item, and wrong owner are indistinguishable.
	_, errBatch := c.GetExisting(ctx, "no-such-batch", thumb.Key(), "user-1")
	_, errItem := c.GetExisting(ctx, key, "thumb:other.jpg:1:1", "user-1")
	_, errOwner := c.GetExisting(ctx, key, thumb.Key(), "user-2")

	assert.ErrorIs(t, errBatch, core.ErrNotFound)
	assert.ErrorIs(t, errItem, core.ErrNotFound)
	assert.ErrorIs(t, errOwner, core.ErrNotFound)
	assert.Equal(t, errBatch.Error(), errOwner.Error())
}
