package core

import "time"

// GroupStatus is the derived overall status of a JobGroup. It is computed
// from the group's unit jobs, never stored.
type GroupStatus string

const (
	GroupPending    GroupStatus = "pending"
	GroupInProgress GroupStatus = "in_progress"
	GroupDone       GroupStatus = "done"
)

// JobGroup is an externally addressable composite of jobs requested together,
// e.g. one API call spanning many images.
type JobGroup struct {
	ID string `gorm:"primaryKey;size:36"`

	// Type of work the group represents, e.g. "deploy".
	Type string `gorm:"size:30;not null"`

	// RequesterID identifies who submitted the group. Used for listing
	// and for the active-groups throttle at the boundary.
	RequesterID string `gorm:"index;size:255;not null"`

	CreateDate time.Time `gorm:"autoCreateTime"`
	ModifyDate time.Time `gorm:"autoUpdateTime"`

	// FinishDate is stamped by whichever status poll first observes every
	// unit done. Redundant with the units' statuses, but listing views
	// filter on it instead of aggregating every group's units per request.
	FinishDate *time.Time `gorm:"index"`

	Units []JobGroupUnit `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
}

// JobGroupUnit binds one JobGroup to exactly one Job, with the unit's
// request and result payloads.
type JobGroupUnit struct {
	ID      string `gorm:"primaryKey;size:36"`
	GroupID string `gorm:"size:36;not null;uniqueIndex:ux_unit_order_in_group"`

	// OrderInParent is the 1-based submission position, unique within the
	// group. Preserved for display/result ordering only; execution order
	// is not guaranteed.
	OrderInParent int `gorm:"not null;uniqueIndex:ux_unit_order_in_group"`

	JobID string `gorm:"index;size:36;not null"`

	// RequestPayload and ResultPayload are opaque JSON whose schema depends
	// on the group type. The aggregator does not validate them.
	RequestPayload []byte `gorm:"type:bytes"`
	ResultPayload  []byte `gorm:"type:bytes"`

	// Size is an opaque cost metric for profiling; interpretation depends
	// on the job type.
	Size int `gorm:"default:0"`

	CreateDate time.Time `gorm:"autoCreateTime"`
	ModifyDate time.Time `gorm:"autoUpdateTime"`
}

// GroupStatusCounts is the full derived status of a group: the overall
// tri-state classification plus per-status unit counts.
type GroupStatusCounts struct {
	Overall         GroupStatus
	PendingCount    int
	InProgressCount int
	SuccessCount    int
	FailureCount    int
	Total           int
}

// Classify derives the overall status from the counts. All units pending
// means the group hasn't started; no unit pending or in-progress means it is
// done; anything else is in progress. The tri-state matters because a
// partially started group must be distinguishable from a fully queued one.
func (c *GroupStatusCounts) Classify() GroupStatus {
	switch {
	case c.Total == 0:
		// No units, nothing left to run. Unreachable through the
		// aggregator, which rejects empty groups, but raw storage rows
		// can get here.
		return GroupDone
	case c.PendingCount == c.Total:
		return GroupPending
	case c.PendingCount == 0 && c.InProgressCount == 0:
		return GroupDone
	default:
		return GroupInProgress
	}
}
