package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/petri-split/internal/retry"
)

// ErrObservationNotFound is returned when a split references an unknown observation.
var ErrObservationNotFound = errors.New("observation not found")

// Observation is a photographed sample tracked by the service.
type Observation struct {
	ID        string    `gorm:"primaryKey;size:64"`
	ImageURL  string    `gorm:"column:image_url;type:text;index"`
	ParentID  string    `gorm:"column:parent_id;size:64;index"`
	Processed bool      `gorm:"column:processed"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (Observation) TableName() string {
	return "observations"
}

// SplitEvent archives a completed split.
type SplitEvent struct {
	ID                  uint      `gorm:"primaryKey"`
	RequestID           string    `gorm:"column:request_id;uniqueIndex;size:64"`
	ParentObservationID string    `gorm:"column:parent_observation_id;size:64;index"`
	ParentImageURL      string    `gorm:"column:parent_image_url;type:text;index"`
	LeftObservationID   string    `gorm:"column:left_observation_id;size:64"`
	RightObservationID  string    `gorm:"column:right_observation_id;size:64"`
	LeftImageURL        string    `gorm:"column:left_image_url;type:text"`
	RightImageURL       string    `gorm:"column:right_image_url;type:text"`
	SplitMethod         string    `gorm:"column:split_method;size:32;index"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (SplitEvent) TableName() string {
	return "split_events"
}

// MethodCount is the number of splits recorded for one split method.
type MethodCount struct {
	SplitMethod string `gorm:"column:split_method"`
	Count       int64  `gorm:"column:count"`
}

// SplitAggregation summarises recorded splits.
type SplitAggregation struct {
	TotalCount int64
	ByMethod   []MethodCount
}

// SplitRepository persists split events and observation state.
type SplitRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSplitRepository creates a new repository instance.
func NewSplitRepository(db *gorm.DB, logger *zap.Logger) *SplitRepository {
	policy := retry.DefaultPolicy()
	return &SplitRepository{
		db:             db,
		logger:         logger.Named("split_repository"),
		retryAttempts:  policy.Attempts,
		initialBackoff: policy.InitialBackoff,
		maxBackoff:     policy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *SplitRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Observation{}, &SplitEvent{})
}

// RecordSplit archives event and marks the left, right and parent observations
// as processed. All writes share one transaction.
func (r *SplitRepository) RecordSplit(ctx context.Context, event *SplitEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return r.executeWithRetry(ctx, "repository.record_split", event.RequestID, nil, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(event).Error; err != nil {
				return err
			}
			if err := markChild(tx, event.LeftObservationID, event.LeftImageURL, parentKey(event), event.CreatedAt); err != nil {
				return err
			}
			if err := markChild(tx, event.RightObservationID, event.RightImageURL, parentKey(event), event.CreatedAt); err != nil {
				return err
			}
			return markParent(tx, event)
		})
	})
}

// FindLatestByParent returns the most recent split of a parent observation or image.
func (r *SplitRepository) FindLatestByParent(ctx context.Context, parent string) (*SplitEvent, error) {
	var event SplitEvent
	err := r.executeWithRetry(ctx, "repository.find_latest_by_parent", "", []error{gorm.ErrRecordNotFound}, func() error {
		return r.db.WithContext(ctx).
			Where("parent_observation_id = ? OR parent_image_url = ?", parent, parent).
			Order("created_at DESC").
			First(&event).Error
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// AggregateMetrics counts recorded splits per split method.
func (r *SplitRepository) AggregateMetrics(ctx context.Context) (*SplitAggregation, error) {
	var rows []MethodCount
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", nil, func() error {
		rows = rows[:0]
		return r.db.WithContext(ctx).
			Model(&SplitEvent{}).
			Select("split_method, COUNT(*) AS count").
			Group("split_method").
			Order("split_method").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &SplitAggregation{ByMethod: rows}
	for _, row := range rows {
		agg.TotalCount += row.Count
	}
	return agg, nil
}

// executeWithRetry runs fn under the repository retry policy. Errors matching
// expected are returned without retrying or error logging.
func (r *SplitRepository) executeWithRetry(ctx context.Context, operation, requestID string, expected []error, fn func() error) error {
	policy := retry.Policy{Attempts: r.retryAttempts, InitialBackoff: r.initialBackoff, MaxBackoff: r.maxBackoff}
	if len(expected) > 0 {
		policy = policy.Expecting(expected...)
	}
	return policy.Do(ctx, r.logger, operation, requestID, fn)
}

func parentKey(event *SplitEvent) string {
	if event.ParentObservationID != "" {
		return event.ParentObservationID
	}
	return event.ParentImageURL
}

func markChild(tx *gorm.DB, id, imageURL, parent string, at time.Time) error {
	res := tx.Model(&Observation{}).Where("id = ?", id).Updates(map[string]interface{}{
		"image_url":  imageURL,
		"parent_id":  parent,
		"processed":  true,
		"updated_at": at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrObservationNotFound, id)
	}
	return nil
}

func markParent(tx *gorm.DB, event *SplitEvent) error {
	query := tx.Model(&Observation{})
	if event.ParentObservationID != "" {
		query = query.Where("id = ?", event.ParentObservationID)
	} else {
		query = query.Where("image_url = ?", event.ParentImageURL)
	}
	res := query.Updates(map[string]interface{}{"processed": true, "updated_at": event.CreatedAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: parent %s", ErrObservationNotFound, parentKey(event))
	}
	return nil
}
