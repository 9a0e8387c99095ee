package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/example/petri-split/internal/logging"
	"github.com/example/petri-split/internal/repository"
	"github.com/example/petri-split/internal/retry"
	"github.com/example/petri-split/internal/splitter"
)

// observationIDPattern limits ids to characters that are safe in object keys and
// URLs, within the width of the observation id column.
var observationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._:-]{0,63}$`)

const (
	statusProcessing = "processing"
	processingTTL    = time.Minute
	resultTTL        = 10 * time.Minute
)

var (
	// ErrInvalidRequest is returned for requests that fail validation.
	ErrInvalidRequest = errors.New("invalid split request")
	// ErrNotFound is returned when no split exists for a parent.
	ErrNotFound = errors.New("split not found")
	// ErrInProgress is returned while a split for the parent is still running.
	ErrInProgress = errors.New("split in progress")
)

// FetchError marks a failure to download the source image.
type FetchError struct {
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch source image: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ImageFetcher resolves an image reference to raw bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// ImageSplitter cuts a two-dish photograph into two encoded halves.
type ImageSplitter interface {
	Split(data []byte) (*splitter.SplitResult, error)
}

// ObjectUploader persists encoded bytes and returns a retrieval URL.
type ObjectUploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// SplitRepository defines the persistence operations needed by the use case.
type SplitRepository interface {
	RecordSplit(ctx context.Context, event *repository.SplitEvent) error
	FindLatestByParent(ctx context.Context, parent string) (*repository.SplitEvent, error)
	AggregateMetrics(ctx context.Context) (*repository.SplitAggregation, error)
}

// MetricsRecorder receives split outcomes.
type MetricsRecorder interface {
	ObserveSplit(method string)
	ObserveFailure(stage string)
	ObserveStage(stage string, start time.Time)
}

// SplitRequest identifies the parent image and the two child observations.
type SplitRequest struct {
	ParentImageURL      string
	ParentObservationID string
	LeftObservationID   string
	RightObservationID  string
}

// SplitOutcome is returned to the caller after a successful split.
type SplitOutcome struct {
	RequestID           string               `json:"request_id"`
	ParentImageURL      string               `json:"parent_image_url"`
	ParentObservationID string               `json:"parent_obs_id,omitempty"`
	LeftObservationID   string               `json:"left_obs_id"`
	RightObservationID  string               `json:"right_obs_id"`
	LeftImageURL        string               `json:"left_image_url"`
	RightImageURL       string               `json:"right_image_url"`
	SplitMethod         splitter.SplitMethod `json:"split_method"`
	CreatedAt           time.Time            `json:"created_at"`
}

// SplitUseCase encapsulates the fetch, split, upload and record flow.
type SplitUseCase struct {
	fetcher  ImageFetcher
	splitter ImageSplitter
	uploader ObjectUploader
	repo     SplitRepository
	cache    Cache
	metrics  MetricsRecorder
	logger   *zap.Logger
	retry    retry.Policy
}

// NewSplitUseCase constructs a new use case instance. metrics may be nil.
func NewSplitUseCase(fetcher ImageFetcher, imageSplitter ImageSplitter, uploader ObjectUploader, repo SplitRepository, cache Cache, metrics MetricsRecorder, logger *zap.Logger) *SplitUseCase {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &SplitUseCase{
		fetcher:  fetcher,
		splitter: imageSplitter,
		uploader: uploader,
		repo:     repo,
		cache:    cache,
		metrics:  metrics,
		logger:   logger.Named("split_usecase"),
		retry:    retry.DefaultPolicy(),
	}
}

// Validate checks the request identifiers.
func (r SplitRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.ParentImageURL) == "":
		return fmt.Errorf("%w: parent_image_url is required", ErrInvalidRequest)
	case strings.TrimSpace(r.LeftObservationID) == "" || strings.TrimSpace(r.RightObservationID) == "":
		return fmt.Errorf("%w: left_obs_id and right_obs_id are required", ErrInvalidRequest)
	case !observationIDPattern.MatchString(r.LeftObservationID) || !observationIDPattern.MatchString(r.RightObservationID):
		return fmt.Errorf("%w: observation ids may only contain letters, digits, '.', '_', ':' and '-'", ErrInvalidRequest)
	case r.ParentObservationID != "" && !observationIDPattern.MatchString(r.ParentObservationID):
		return fmt.Errorf("%w: parent_obs_id may only contain letters, digits, '.', '_', ':' and '-'", ErrInvalidRequest)
	case r.LeftObservationID == r.RightObservationID:
		return fmt.Errorf("%w: left_obs_id and right_obs_id must differ", ErrInvalidRequest)
	case r.ParentObservationID != "" && (r.ParentObservationID == r.LeftObservationID || r.ParentObservationID == r.RightObservationID):
		return fmt.Errorf("%w: parent_obs_id must differ from the child ids", ErrInvalidRequest)
	}
	return nil
}

func (r SplitRequest) parentKey() string {
	if r.ParentObservationID != "" {
		return r.ParentObservationID
	}
	return r.ParentImageURL
}

// SplitImage downloads the parent image, splits it, uploads both halves and
// records the split. Metadata is only written after both uploads succeed.
func (uc *SplitUseCase) SplitImage(ctx context.Context, req SplitRequest) (*SplitOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.split_image", requestID)
	cacheKey := splitCacheKey(req.parentKey())

	if err := uc.retry.Do(ctx, uc.logger, "cache.set.processing", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, statusProcessing, processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		uc.metrics.ObserveFailure("cache")
		return nil, err
	}

	outcome, err := uc.run(ctx, requestID, req)
	if err != nil {
		opLogger.Warn("split request failed", zap.String("failed_operation", logging.OperationOf(err)), zap.Error(err))
		if delErr := uc.cache.Del(ctx, cacheKey); delErr != nil {
			opLogger.Warn("failed to clear processing flag", zap.Error(delErr))
		}
		return nil, err
	}

	serialized, err := json.Marshal(outcome)
	if err != nil {
		opLogger.Error("failed to serialize split outcome", zap.Error(err))
		return nil, err
	}
	if err := uc.retry.Do(ctx, uc.logger, "cache.set.result", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		// The split is durable in the database; a stale cache only costs a lookup.
		opLogger.Warn("failed to cache split outcome", zap.Error(err))
	}

	uc.metrics.ObserveSplit(string(outcome.SplitMethod))
	opLogger.Info("split completed",
		zap.String("split_method", string(outcome.SplitMethod)),
		zap.String("left_image_url", outcome.LeftImageURL),
		zap.String("right_image_url", outcome.RightImageURL),
	)
	return outcome, nil
}

func (uc *SplitUseCase) run(ctx context.Context, requestID string, req SplitRequest) (*SplitOutcome, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.split_image", requestID)

	start := time.Now()
	source, err := uc.fetcher.Fetch(ctx, req.ParentImageURL)
	uc.metrics.ObserveStage("fetch", start)
	if err != nil {
		opLogger.Error("failed to fetch parent image", zap.Error(err), zap.String("parent_image_url", req.ParentImageURL))
		uc.metrics.ObserveFailure("fetch")
		return nil, &FetchError{Err: err}
	}

	start = time.Now()
	result, err := uc.splitter.Split(source)
	uc.metrics.ObserveStage("split", start)
	if err != nil {
		opLogger.Warn("failed to split parent image", zap.Error(err))
		uc.metrics.ObserveFailure("split")
		return nil, err
	}

	start = time.Now()
	var leftURL, rightURL string
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		url, err := uc.uploader.Upload(groupCtx, objectName(req.LeftObservationID), result.Left)
		leftURL = url
		return err
	})
	group.Go(func() error {
		url, err := uc.uploader.Upload(groupCtx, objectName(req.RightObservationID), result.Right)
		rightURL = url
		return err
	})
	err = group.Wait()
	uc.metrics.ObserveStage("upload", start)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.upload_halves", requestID, err)
		opLogger.Error("failed to upload split halves", zap.Error(wrapped))
		uc.metrics.ObserveFailure("upload")
		return nil, wrapped
	}

	event := &repository.SplitEvent{
		RequestID:           requestID,
		ParentObservationID: req.ParentObservationID,
		ParentImageURL:      req.ParentImageURL,
		LeftObservationID:   req.LeftObservationID,
		RightObservationID:  req.RightObservationID,
		LeftImageURL:        leftURL,
		RightImageURL:       rightURL,
		SplitMethod:         string(result.Method),
		CreatedAt:           time.Now().UTC(),
	}
	start = time.Now()
	err = uc.repo.RecordSplit(ctx, event)
	uc.metrics.ObserveStage("record", start)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.record_split", requestID, err)
		opLogger.Error("failed to record split", zap.Error(wrapped))
		uc.metrics.ObserveFailure("record")
		return nil, wrapped
	}

	return outcomeFromEvent(event), nil
}

// GetSplit returns the latest split of a parent observation id or image URL,
// served from cache when possible.
func (uc *SplitUseCase) GetSplit(ctx context.Context, parent string) (*SplitOutcome, error) {
	cacheKey := splitCacheKey(parent)
	var cached string
	err := uc.retry.Expecting(redis.Nil).Do(ctx, uc.logger, "cache.get.result", "", func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		cached = value
		return err
	})
	switch {
	case err == nil && cached == statusProcessing:
		return nil, ErrInProgress
	case err == nil:
		var outcome SplitOutcome
		jsonErr := json.Unmarshal([]byte(cached), &outcome)
		if jsonErr == nil {
			return &outcome, nil
		}
		logging.WithOperation(uc.logger, "usecase.get_split", "").Warn("failed to decode cached split", zap.Error(jsonErr))
	case !errors.Is(err, redis.Nil):
		logging.WithOperation(uc.logger, "usecase.get_split", "").Warn("failed to read cache", zap.Error(err))
	}

	event, err := uc.repo.FindLatestByParent(ctx, parent)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return outcomeFromEvent(event), nil
}

func outcomeFromEvent(event *repository.SplitEvent) *SplitOutcome {
	return &SplitOutcome{
		RequestID:           event.RequestID,
		ParentImageURL:      event.ParentImageURL,
		ParentObservationID: event.ParentObservationID,
		LeftObservationID:   event.LeftObservationID,
		RightObservationID:  event.RightObservationID,
		LeftImageURL:        event.LeftImageURL,
		RightImageURL:       event.RightImageURL,
		SplitMethod:         splitter.SplitMethod(event.SplitMethod),
		CreatedAt:           event.CreatedAt,
	}
}

func splitCacheKey(parent string) string {
	return fmt.Sprintf("split:%s", parent)
}

func objectName(observationID string) string {
	return observationID + ".jpg"
}

type nopMetrics struct{}

func (nopMetrics) ObserveSplit(string)            {}
func (nopMetrics) ObserveFailure(string)          {}
func (nopMetrics) ObserveStage(string, time.Time) {}
