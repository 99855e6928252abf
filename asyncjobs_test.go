package asyncjobs_test

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

	asyncjobs "github.com/seafloor/asyncjobs"
	"github.com/seafloor/asyncjobs/pkg/backend"
	"github.com/seafloor/asyncjobs/pkg/group"
	"github.com/seafloor/asyncjobs/pkg/mediabatch"
	"github.com/seafloor/asyncjobs/pkg/runner"
)

// newTestStack wires the whole library against in-memory sqlite and an
// immediate backend, the way the facade documentation shows.
func newTestStack(t *testing.T) (*asyncjobs.Scheduler, *asyncjobs.GormStorage, *asyncjobs.Registry) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	store := asyncjobs.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))

	reg := asyncjobs.NewRegistry()
	local := asyncjobs.NewLocalBackend(reg, backend.Immediate())
	sched := asyncjobs.NewScheduler(store, reg, local,
		runner.WithImmediate(),
		runner.WithJitter(func() time.Duration { return -time.Second }))
	local.Bind(sched)
	return sched, store, reg
}

func TestEndToEnd_GroupOfUnits(t *testing.T) {
	ctx := context.Background()
	sched, store, reg := newTestStack(t)
	agg := asyncjobs.NewAggregator(store, sched, group.WithChunkSize(4))

	reg.Register("classify", func(ctx context.Context, args []string) (string, error) {
		return "classified " + args[0], nil
	})

	// 14 units with chunk size 4: the bulk insert spans four batches.
	specs := make([]group.UnitSpec, 14)
	for i := range specs {
		specs[i] = group.UnitSpec{
			JobName:        "classify",
			Args:           []string{fmt.Sprintf("img-%d", i)},
			RequestPayload: []byte(fmt.Sprintf(`{"image":%d}`, i)),
		}
	}
	g, err := agg.Create(ctx, "deploy", "user-1", specs)
	require.NoError(t, err)

	status, err := agg.FullStatus(ctx, g.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, asyncjobs.GroupPending, status.Overall)

	require.NoError(t, sched.RunScheduledJobsUntilEmpty(ctx))

	status, err = agg.FullStatus(ctx, g.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, asyncjobs.GroupDone, status.Overall)
	assert.Equal(t, 14, status.Counts.SuccessCount)

	results, err := agg.Results(ctx, g.ID, "user-1")
	require.NoError(t, err)
	require.Len(t, results, 14)
	for i, res := range results {
		assert.Equal(t, i+1, res.OrderInParent)
	}
}

func TestEndToEnd_DedupAcrossRepeatedCreation(t *testing.T) {
	ctx := context.Background()
	sched, store, reg := newTestStack(t)
	reg.Register("classify", func(ctx context.Context, args []string) (string, error) {
		return "ok", nil
	})

	// Repeated submissions of one identity converge on a single job.
	first, created, err := sched.GetOrCreateJob(ctx, "classify", []string{"img-1"})
	require.NoError(t, err)
	assert.True(t, created)

	for i := 0; i < 5; i++ {
		job, created, err := sched.GetOrCreateJob(ctx, "classify", []string{"img-1"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, job.ID)
	}

	job, err := store.FindIncompleteJob(ctx, "classify", "img-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, asyncjobs.StatusPending, job.Status)
}

func TestEndToEnd_MediaBatch(t *testing.T) {
	ctx := context.Background()
	sched, store, reg := newTestStack(t)

	reg.Register(mediabatch.JobNameThumbnail, func(ctx context.Context, args []string) (string, error) {
		return "/media/thumbs/" + args[0], nil
	})

	batches := asyncjobs.NewMediaBatch(mediabatch.NewMemoryCache(), sched, store)
	key, err := batches.Create(ctx, "owner-1")
	require.NoError(t, err)

	thumb := mediabatch.Thumbnail{Path: "a.jpg", Width: 64, Height: 64}
	require.NoError(t, batches.AddItem(ctx, key, thumb))
	require.NoError(t, batches.StartGeneration(ctx, key, "owner-1"))

	completed, err := batches.CheckJobs(ctx, key)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	item, err := batches.GetExisting(ctx, key, thumb.Key(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "/media/thumbs/a.jpg", item.URL)

	// Another owner's token reads as not-found.
	_, err = batches.GetExisting(ctx, key, thumb.Key(), "owner-2")
	assert.ErrorIs(t, err, asyncjobs.ErrNotFound)
}
