package mediabatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/seafloor/asyncjobs/pkg/core"
)

// Job names the coordinator schedules for its media kinds. Applications
// register handlers under these names; the handler's result message is the
// generated asset's URL.
const (
	JobNameThumbnail  = "generate_thumbnail"
	JobNamePointPatch = "generate_point_patch"
)

// PointPatchSize is the square pixel size of generated point patches.
const PointPatchSize = 150

// notFoundURLPattern renders the placeholder shown for media that failed
// to generate, sized to the item so the page layout holds.
const notFoundURLPattern = "/static/img/media-image-not-found__%dx%d.png"

// MediaItem is one piece of media a batch can generate. The key doubles
// as the ledger map key and as a token the item can be rebuilt from.
type MediaItem interface {
	// Key uniquely identifies the item within a batch.
	Key() string

	// JobName and JobArgs identify the generation job.
	JobName() string
	JobArgs() []string

	// PlaceholderURL is shown when generation failed or the job vanished.
	PlaceholderURL() string
}

// Thumbnail is a resized rendition of a stored image.
type Thumbnail struct {
	Path   string
	Width  int
	Height int
}

var _ MediaItem = Thumbnail{}

func (t Thumbnail) Key() string {
	return fmt.Sprintf("thumb:%s:%d:%d", t.Path, t.Width, t.Height)
}

func (t Thumbnail) JobName() string { return JobNameThumbnail }

func (t Thumbnail) JobArgs() []string {
	return []string{t.Path, strconv.Itoa(t.Width), strconv.Itoa(t.Height)}
}

func (t Thumbnail) PlaceholderURL() string {
	return fmt.Sprintf(notFoundURLPattern, t.Width, t.Height)
}

// PointPatch is a cropped patch around an annotation point.
type PointPatch struct {
	PointID string
}

var _ MediaItem = PointPatch{}

func (p PointPatch) Key() string { return "point:" + p.PointID }

func (p PointPatch) JobName() string { return JobNamePointPatch }

func (p PointPatch) JobArgs() []string { return []string{p.PointID} }

func (p PointPatch) PlaceholderURL() string {
	return fmt.Sprintf(notFoundURLPattern, PointPatchSize, PointPatchSize)
}

// ItemFromKey rebuilds a MediaItem from its ledger key. Thumbnail paths
// may themselves contain colons, so the dimensions parse from the right.
func ItemFromKey(key string) (MediaItem, error) {
	switch {
	case strings.HasPrefix(key, "thumb:"):
		rest := strings.TrimPrefix(key, "thumb:")
		hIdx := strings.LastIndex(rest, ":")
		if hIdx <= 0 {
			return nil, fmt.Errorf("media key %q: %w", key, core.ErrNotFound)
		}
		wIdx := strings.LastIndex(rest[:hIdx], ":")
		if wIdx <= 0 {
			return nil, fmt.Errorf("media key %q: %w", key, core.ErrNotFound)
		}
		width, err := strconv.Atoi(rest[wIdx+1 : hIdx])
		if err != nil {
			return nil, fmt.Errorf("media key %q: %w", key, core.ErrNotFound)
		}
		height, err := strconv.Atoi(rest[hIdx+1:])
		if err != nil {
			return nil, fmt.Errorf("media key %q: %w", key, core.ErrNotFound)
		}
		return Thumbnail{Path: rest[:wIdx], Width: width, Height: height}, nil
	case strings.HasPrefix(key, "point:"):
		id := strings.TrimPrefix(key, "point:")
		if id == "" {
			return nil, fmt.Errorf("media key %q: %w", key, core.ErrNotFound)
		}
		return PointPatch{PointID: id}, nil
	}
	return nil, fmt.Errorf("media key %q: %w", key, core.ErrNotFound)
}
