package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/seafloor/asyncjobs/pkg/core"
)

// CreateGroup inserts a new job group.
func (s *GormStorage) CreateGroup(ctx context.Context, group *core.JobGroup) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Omit("Units").Create(group).Error
}

// GetGroup retrieves a group by ID. Returns nil, nil when absent.
func (s *GormStorage) GetGroup(ctx context.Context, id string) (*core.JobGroup, error) {
	var group core.JobGroup
	err := s.db.WithContext(ctx).First(&group, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// DeleteGroup removes a group and any of its units in one transaction.
// The unit jobs survive; they are ordinary jobs other callers may share.
func (s *GormStorage) DeleteGroup(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", id).Delete(&core.JobGroupUnit{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&core.JobGroup{}).Error
	})
}

// CreateUnits bulk-inserts units in submission order, chunkSize rows per
// INSERT statement.
func (s *GormStorage) CreateUnits(ctx context.Context, units []*core.JobGroupUnit, chunkSize int) error {
	if len(units) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = len(units)
	}
	for _, unit := range units {
		if unit.ID == "" {
			unit.ID = uuid.New().String()
		}
	}
	return s.db.WithContext(ctx).CreateInBatches(units, chunkSize).Error
}

// UnitsInOrder returns a group's units ordered by their position in the
// parent.
func (s *GormStorage) UnitsInOrder(ctx context.Context, groupID string) ([]*core.JobGroupUnit, error) {
	var units []*core.JobGroupUnit
	err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("order_in_parent ASC").
		Find(&units).Error
	return units, err
}

// UnitForJob returns the unit bound to the given job, or nil, nil.
func (s *GormStorage) UnitForJob(ctx context.Context, jobID string) (*core.JobGroupUnit, error) {
	var unit core.JobGroupUnit
	err := s.db.WithContext(ctx).First(&unit, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// SaveUnitResult stores a unit's result payload.
func (s *GormStorage) SaveUnitResult(ctx context.Context, unitID string, payload []byte) error {
	result := s.db.WithContext(ctx).
		Model(&core.JobGroupUnit{}).
		Where("id = ?", unitID).
		Updates(map[string]any{
			"result_payload": payload,
			"modify_date":    time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// GroupStatusCounts aggregates the group's unit-job statuses with a single
// GROUP BY query, so the cost of a status poll doesn't scale with the number
// of units.
func (s *GormStorage) GroupStatusCounts(ctx context.Context, groupID string) (*core.GroupStatusCounts, error) {
	var rows []struct {
		Status core.JobStatus
		N      int
	}
	err := s.db.WithContext(ctx).
		Table("job_group_units").
		Select("jobs.status AS status, COUNT(*) AS n").
		Joins("JOIN jobs ON jobs.id = job_group_units.job_id").
		Where("job_group_units.group_id = ?", groupID).
		Group("jobs.status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := &core.GroupStatusCounts{}
	for _, row := range rows {
		switch row.Status {
		case core.StatusPending:
			counts.PendingCount = row.N
		case core.StatusInProgress:
			counts.InProgressCount = row.N
		case core.StatusSuccess:
			counts.SuccessCount = row.N
		case core.StatusFailure:
			counts.FailureCount = row.N
		}
		counts.Total += row.N
	}
	counts.Overall = counts.Classify()
	return counts, nil
}

// SetGroupFinishDate stamps the group's finish date if not already set, so
// concurrent polls that both observe completion don't fight over the value.
func (s *GormStorage) SetGroupFinishDate(ctx context.Context, groupID string, t time.Time) error {
	return s.db.WithContext(ctx).
		Model(&core.JobGroup{}).
		Where("id = ? AND finish_date IS NULL", groupID).
		Update("finish_date", t).Error
}

// ActiveGroupsForRequester lists the requester's unfinished groups, newest
// first. Filtering on FinishDate keeps listings cheap: no per-group unit
// aggregation.
func (s *GormStorage) ActiveGroupsForRequester(ctx context.Context, requester string) ([]*core.JobGroup, error) {
	var groups []*core.JobGroup
	err := s.db.WithContext(ctx).
		Where("requester_id = ? AND finish_date IS NULL", requester).
		Order("create_date DESC").
		Find(&groups).Error
	return groups, err
}

// CompletedGroupsForRequester lists the requester's finished groups, most
// recently finished first.
func (s *GormStorage) CompletedGroupsForRequester(ctx context.Context, requester string, limit int) ([]*core.JobGroup, error) {
	q := s.db.WithContext(ctx).
		Where("requester_id = ? AND finish_date IS NOT NULL", requester).
		Order("finish_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var groups []*core.JobGroup
	err := q.Find(&groups).Error
	return groups, err
}

// ActiveGroupCount supports the per-requester submission throttle enforced
// at the boundary.
func (s *GormStorage) ActiveGroupCount(ctx context.Context, requester string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.JobGroup{}).
		Where("requester_id = ? AND finish_date IS NULL", requester).
		Count(&count).Error
	return count, err
}

// DeleteOldGroups removes groups old enough that every one of their unit
// jobs has been quiet since before cutoff, cascading to units and their
// jobs. The group's own dates don't matter beyond its creation being old
// enough; activity is judged by the latest unit-job modification.
func (s *GormStorage) DeleteOldGroups(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	var groupsDeleted, jobsDeleted int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var groupIDs []string
		err := tx.Model(&core.JobGroup{}).
			Where("create_date < ?", cutoff).
			Where(`NOT EXISTS (
				SELECT 1 FROM job_group_units u
				JOIN jobs j ON j.id = u.job_id
				WHERE u.group_id = job_groups.id AND j.modify_date >= ?)`, cutoff).
			Pluck("id", &groupIDs).Error
		if err != nil {
			return err
		}
		if len(groupIDs) == 0 {
			return nil
		}

		var jobIDs []string
		err = tx.Model(&core.JobGroupUnit{}).
			Where("group_id IN ?", groupIDs).
			Pluck("job_id", &jobIDs).Error
		if err != nil {
			return err
		}

		if result := tx.Where("group_id IN ?", groupIDs).Delete(&core.JobGroupUnit{}); result.Error != nil {
			return result.Error
		}
		if len(jobIDs) > 0 {
			result := tx.Where("id IN ?", jobIDs).Delete(&core.Job{})
			if result.Error != nil {
				return result.Error
			}
			jobsDeleted = result.RowsAffected
		}
		result := tx.Where("id IN ?", groupIDs).Delete(&core.JobGroup{})
		if result.Error != nil {
			return result.Error
		}
		groupsDeleted = result.RowsAffected
		return nil
	})

	return groupsDeleted, jobsDeleted, err
}
