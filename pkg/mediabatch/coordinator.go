// Package mediabatch coordinates on-demand media generation: a page
// request opens a batch, registers the media it needs, and then polls
// while generation jobs fill in URLs. Batch state lives in an expiring
// cache ledger, not in the database; an abandoned batch simply ages out.
package mediabatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/seafloor/asyncjobs/pkg/core"
)

// DefaultTTL is how long a batch ledger survives between touches.
const DefaultTTL = 1800 * time.Second

// ItemStatus tracks one media item through its batch.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
)

// Item is one media item's ledger record. Completed items keep their URL
// for the remainder of the batch's TTL so late polls still resolve.
type Item struct {
	Status ItemStatus `json:"status"`
	JobID  string     `json:"job_id,omitempty"`
	URL    string     `json:"url,omitempty"`
}

// Entry is a batch's full ledger: who opened it and every item keyed by
// its media key.
type Entry struct {
	OwnerID string          `json:"owner_id"`
	Items   map[string]Item `json:"items"`
}

// JobStarter is the slice of the runner the coordinator needs.
type JobStarter interface {
	GetOrCreateJob(ctx context.Context, name string, args []string, opts ...func(*core.Job)) (*core.Job, bool, error)
	StartJob(ctx context.Context, job *core.Job) error
}

// JobReader batch-fetches jobs by ID. core.Storage satisfies it.
type JobReader interface {
	GetJobsByID(ctx context.Context, ids []string, names []string) ([]*core.Job, error)
}

// mediaJobNames restricts CheckJobs lookups: a ledger key can only ever
// resolve to a media generation job, whatever its JobID field says.
var mediaJobNames = []string{JobNameThumbnail, JobNamePointPatch}

// Coordinator manages media batches over a Cache, a JobStarter, and a
// JobReader.
type Coordinator struct {
	cache   Cache
	starter JobStarter
	jobs    JobReader
	logger  *slog.Logger
	ttl     time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTTL overrides the batch ledger's expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.ttl = ttl }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New creates a Coordinator.
func New(cache Cache, starter JobStarter, jobs JobReader, opts ...Option) *Coordinator {
	c := &Coordinator{
		cache:   cache,
		starter: starter,
		jobs:    jobs,
		logger:  slog.Default(),
		ttl:     DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create opens an empty batch for ownerID and returns its key. Owner IDs
// are opaque: authenticated users pass a stable ID, anonymous sessions
// pass a per-session token, so two anonymous visitors never share a batch.
func (c *Coordinator) Create(ctx context.Context, ownerID string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mediabatch: generate batch key: %w", err)
	}
	key := hex.EncodeToString(buf)

	entry := &Entry{OwnerID: ownerID, Items: make(map[string]Item)}
	if err := c.writeEntry(ctx, key, entry); err != nil {
		return "", err
	}
	return key, nil
}

// AddItem registers a media item with the batch. Adding the same item
// twice is a no-op; an item added after generation started stays pending
// until the next StartGeneration call.
func (c *Coordinator) AddItem(ctx context.Context, batchKey string, item MediaItem) error {
	entry, err := c.readEntry(ctx, batchKey)
	if err != nil {
		return err
	}
	if _, exists := entry.Items[item.Key()]; exists {
		return nil
	}
	entry.Items[item.Key()] = Item{Status: ItemPending}
	return c.writeEntry(ctx, batchKey, entry)
}

// HasStartedGeneration reports whether any of the batch's items have been
// handed to a generation job.
func (c *Coordinator) HasStartedGeneration(ctx context.Context, batchKey string) (bool, error) {
	entry, err := c.readEntry(ctx, batchKey)
	if err != nil {
		return false, err
	}
	for _, item := range entry.Items {
		if item.Status != ItemPending {
			return true, nil
		}
	}
	return false, nil
}

// StartGeneration schedules a generation job for every pending item and
// binds the resulting job IDs into the ledger. Items already in progress
// or completed are untouched, so calling again after adding more items
// only starts the new ones. When triggered from a request that also wrote
// database rows, route the call through oncommit.Do so workers never see
// the batch before its rows.
func (c *Coordinator) StartGeneration(ctx context.Context, batchKey, ownerID string) error {
	entry, err := c.readOwned(ctx, batchKey, ownerID)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(entry.Items))
	for key, item := range entry.Items {
		if item.Status == ItemPending {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	changed := false
	for _, key := range keys {
		mediaItem, err := ItemFromKey(key)
		if err != nil {
			c.logger.Error("unparseable media key in ledger",
				"batch", batchKey, "key", key)
			continue
		}
		job, created, err := c.starter.GetOrCreateJob(ctx, mediaItem.JobName(), mediaItem.JobArgs(), func(j *core.Job) {
			j.Hidden = true
		})
		if err != nil {
			return err
		}
		if created {
			if err := c.starter.StartJob(ctx, job); err != nil {
				return err
			}
		}
		item := entry.Items[key]
		item.Status = ItemInProgress
		item.JobID = job.ID
		entry.Items[key] = item
		changed = true
	}
	if !changed {
		return nil
	}
	return c.writeEntry(ctx, batchKey, entry)
}

// CheckJobs polls the generation jobs behind the batch's in-progress
// items and returns the keys that completed on this call, sorted. A
// successful job's result message is the media URL; failed or vanished
// jobs resolve to the item's placeholder. All outcomes are folded into
// the ledger in a single write.
func (c *Coordinator) CheckJobs(ctx context.Context, batchKey string) ([]string, error) {
	entry, err := c.readEntry(ctx, batchKey)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, item := range entry.Items {
		if item.Status == ItemInProgress && item.JobID != "" {
			ids = append(ids, item.JobID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	jobs, err := c.jobs.GetJobsByID(ctx, ids, mediaJobNames)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*core.Job, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
	}

	var completed []string
	for key, item := range entry.Items {
		if item.Status != ItemInProgress {
			continue
		}
		job := byID[item.JobID]
		switch {
		case job == nil:
			// Deleted, or not a media job at all. Either way it will
			// never produce a URL.
			item.URL = placeholderFor(key)
		case job.Status == core.StatusSuccess:
			item.URL = job.ResultMessage
		case job.Status == core.StatusFailure:
			item.URL = placeholderFor(key)
		default:
			continue
		}
		item.Status = ItemCompleted
		entry.Items[key] = item
		completed = append(completed, key)
	}
	if len(completed) == 0 {
		return nil, nil
	}
	sort.Strings(completed)
	if err := c.writeEntry(ctx, batchKey, entry); err != nil {
		return nil, err
	}
	return completed, nil
}

// GetExisting returns one item's ledger record, owner-checked. A missing
// batch, a missing item, and an owner mismatch all report the same
// not-found, so batch keys can't be probed.
func (c *Coordinator) GetExisting(ctx context.Context, batchKey, itemKey, ownerID string) (*Item, error) {
	entry, err := c.readOwned(ctx, batchKey, ownerID)
	if err != nil {
		return nil, err
	}
	item, ok := entry.Items[itemKey]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &item, nil
}

func placeholderFor(key string) string {
	item, err := ItemFromKey(key)
	if err != nil {
		return fmt.Sprintf(notFoundURLPattern, PointPatchSize, PointPatchSize)
	}
	return item.PlaceholderURL()
}

// readEntry loads and decodes a ledger, treating expiry as not-found.
func (c *Coordinator) readEntry(ctx context.Context, batchKey string) (*Entry, error) {
	raw, err := c.cache.Get(ctx, batchKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, core.ErrNotFound
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("mediabatch: corrupt ledger %s: %w", batchKey, err)
	}
	if entry.Items == nil {
		entry.Items = make(map[string]Item)
	}
	return &entry, nil
}

func (c *Coordinator) readOwned(ctx context.Context, batchKey, ownerID string) (*Entry, error) {
	entry, err := c.readEntry(ctx, batchKey)
	if err != nil {
		return nil, err
	}
	if entry.OwnerID != ownerID {
		return nil, core.ErrNotFound
	}
	return entry, nil
}

// writeEntry stores the ledger and renews its TTL. Concurrent writers of
// one batch are last-writer-wins; pollers tolerate a lost update because
// CheckJobs re-derives completion from the jobs table every call.
func (c *Coordinator) writeEntry(ctx context.Context, batchKey string, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("mediabatch: encode ledger %s: %w", batchKey, err)
	}
	return c.cache.Set(ctx, batchKey, raw, c.ttl)
}
