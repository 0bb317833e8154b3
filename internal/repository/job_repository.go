package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/cutout/internal/logging"
)

// Job is one persisted background-removal request. Image bytes stay on disk
// and are garbage collected by the storage cleanup; only metadata lives here.
type Job struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Mode       string    `gorm:"column:mode;size:16"`
	Provider   string    `gorm:"column:provider;size:64"`
	Model      string    `gorm:"column:model;size:128"`
	Engine     string    `gorm:"column:engine;size:32"`
	SHA1Hash   string    `gorm:"column:sha1_hash;index;size:40"`
	SourceName string    `gorm:"column:source_name;size:255"`
	BeforeURL  string    `gorm:"column:before_url;size:255"`
	AfterURL   string    `gorm:"column:after_url;size:255"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	Success    bool      `gorm:"column:success"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (Job) TableName() string {
	return "jobs"
}

// MetricsAggregation holds the raw aggregates used by the metrics summary.
type MetricsAggregation struct {
	TotalCount       int64   `gorm:"column:total_count"`
	SuccessCount     int64   `gorm:"column:success_count"`
	FallbackCount    int64   `gorm:"column:fallback_count"`
	AverageLatencyMs float64 `gorm:"column:average_latency_ms"`
}

// JobRepository provides persistence APIs for job records.
type JobRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewJobRepository creates a new repository instance.
func NewJobRepository(db *gorm.DB, logger *zap.Logger) *JobRepository {
	return &JobRepository{
		db:             db,
		logger:         logger.Named("job_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *JobRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Job{})
}

// Save persists a job record, retrying transient failures.
func (r *JobRepository) Save(ctx context.Context, job *Job) error {
	return r.executeWithRetry(ctx, "repository.save_job", job.RequestID, func() error {
		return r.db.WithContext(ctx).Create(job).Error
	})
}

// FindByRequestID retrieves a job by its request identifier.
func (r *JobRepository) FindByRequestID(ctx context.Context, requestID string) (*Job, error) {
	var job Job
	if err := r.db.WithContext(ctx).First(&job, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// FindDuplicatesByHash lists other jobs that processed the same image bytes.
func (r *JobRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*Job, error) {
	var jobs []*Job
	err := r.db.WithContext(ctx).
		Where("sha1_hash = ? AND request_id <> ?", hash, excludeRequestID).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// AggregateMetrics computes totals across all persisted jobs.
func (r *JobRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).Model(&Job{}).
		Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count, " +
				"COALESCE(SUM(CASE WHEN engine = 'heuristic' THEN 1 ELSE 0 END), 0) AS fallback_count, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *JobRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
