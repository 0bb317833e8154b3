package usecase

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	// Registered decoders for the supported upload formats.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/cutout/internal/logging"
	"github.com/example/cutout/internal/provider"
	"github.com/example/cutout/internal/repository"
	"github.com/example/cutout/internal/segmentation"
)

// Engines record which path actually produced a result.
const (
	EngineProvider  = "provider"
	EngineModel     = "model"
	EngineHeuristic = "heuristic"
)

// Modes are the two processing endpoints.
const (
	ModeAPI   = "api"
	ModeLocal = "local"
)

// ErrUndecodableImage marks uploads that cannot be decoded as an image in a
// supported format. No partial output is produced for them.
var ErrUndecodableImage = errors.New("usecase: image cannot be decoded")

// JobRepository defines the persistence operations needed by the use case.
type JobRepository interface {
	Save(ctx context.Context, job *repository.Job) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.Job, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.Job, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ObjectStore defines the file operations needed by the use case.
type ObjectStore interface {
	SaveUpload(originalName string, data []byte) (string, error)
	SaveResult(data []byte) (string, error)
	SaveThumbnail(img image.Image, resultName string) (string, error)
	UploadURL(name string) string
	ResultURL(name string) string
}

// ModelStore resolves named segmentation models.
type ModelStore interface {
	Load(name string) (segmentation.Segmenter, error)
}

// Upload is one incoming image file.
type Upload struct {
	Filename string
	Data     []byte
}

// Result is the response payload for a processed image.
type Result struct {
	RequestID string `json:"request_id"`
	Before    string `json:"before"`
	After     string `json:"after"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Engine    string `json:"engine"`
	Cached    bool   `json:"cached,omitempty"`
}

// DuplicateReport lists jobs that processed the same image bytes.
type DuplicateReport struct {
	Request    *repository.Job
	Duplicates []*repository.Job
}

// Options carries the tunables of the processing flow.
type Options struct {
	// Threshold is the color-distance cutoff of the fallback heuristic.
	Threshold float64
	// BlurRadius smooths the mask before it becomes the alpha channel.
	BlurRadius float64
	// CacheTTL bounds how long results stay in Redis.
	CacheTTL time.Duration
}

// ProcessUseCase orchestrates storage, the provider call, the local
// segmentation pipeline, persistence and caching.
type ProcessUseCase struct {
	repo           JobRepository
	cache          Cache
	store          ObjectStore
	providers      provider.Client
	models         ModelStore
	fallback       segmentation.Segmenter
	blurRadius     float64
	cacheTTL       time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// cachedJob mirrors the persisted job for the Redis fast path.
type cachedJob struct {
	RequestID string    `json:"request_id"`
	Mode      string    `json:"mode"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	Engine    string    `json:"engine"`
	Hash      string    `json:"sha1_hash"`
	BeforeURL string    `json:"before_url"`
	AfterURL  string    `json:"after_url"`
	LatencyMs int64     `json:"latency_ms"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}

// NewProcessUseCase constructs a new use case instance.
func NewProcessUseCase(repo JobRepository, cache Cache, store ObjectStore, providers provider.Client, models ModelStore, opts Options, logger *zap.Logger) *ProcessUseCase {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.BlurRadius < 0 {
		opts.BlurRadius = segmentation.DefaultBlurRadius
	}
	return &ProcessUseCase{
		repo:           repo,
		cache:          cache,
		store:          store,
		providers:      providers,
		models:         models,
		fallback:       segmentation.NewHeuristic(opts.Threshold),
		blurRadius:     opts.BlurRadius,
		cacheTTL:       opts.CacheTTL,
		logger:         logger.Named("process_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// ProcessRemote sends the upload to the named provider and falls back to the
// local heuristic pipeline when the provider call fails or times out.
func (uc *ProcessUseCase) ProcessRemote(ctx context.Context, upload Upload, providerName string) (*Result, error) {
	img, hash, err := uc.decodeUpload(upload)
	if err != nil {
		return nil, err
	}

	dedupeKey := fmt.Sprintf("result:%s:%s:%s", ModeAPI, providerName, hash)
	if cached := uc.lookupResult(ctx, dedupeKey); cached != nil {
		return cached, nil
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.process_remote", requestID)

	uploadName, err := uc.store.SaveUpload(upload.Filename, upload.Data)
	if err != nil {
		opLogger.Error("failed to store upload", zap.Error(err))
		return nil, logging.NewOperationError("usecase.save_upload", requestID, err)
	}

	start := time.Now()
	engine := EngineProvider
	outPNG, err := uc.providers.Remove(ctx, providerName, upload.Data)
	var outImg image.Image
	if err != nil {
		opLogger.Warn("provider failed, using local fallback",
			zap.String("provider", providerName), zap.Error(err))
		engine = EngineHeuristic
		outPNG, outImg, err = uc.renderLocal(ctx, img, uc.fallback)
		if err != nil {
			opLogger.Error("fallback pipeline failed", zap.Error(err))
			return nil, logging.NewOperationError("usecase.fallback_pipeline", requestID, err)
		}
	}

	return uc.finish(ctx, opLogger, &repository.Job{
		RequestID:  requestID,
		Mode:       ModeAPI,
		Provider:   providerName,
		Engine:     engine,
		SHA1Hash:   hash,
		SourceName: upload.Filename,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, uploadName, outPNG, outImg, dedupeKey)
}

// ProcessLocal runs the in-process pipeline: the named model when it loads
// and produces a usable mask, the corner heuristic otherwise. Model problems
// never surface to the caller.
func (uc *ProcessUseCase) ProcessLocal(ctx context.Context, upload Upload, modelName string) (*Result, error) {
	img, hash, err := uc.decodeUpload(upload)
	if err != nil {
		return nil, err
	}

	dedupeKey := fmt.Sprintf("result:%s:%s:%s", ModeLocal, modelName, hash)
	if cached := uc.lookupResult(ctx, dedupeKey); cached != nil {
		return cached, nil
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.process_local", requestID)

	uploadName, err := uc.store.SaveUpload(upload.Filename, upload.Data)
	if err != nil {
		opLogger.Error("failed to store upload", zap.Error(err))
		return nil, logging.NewOperationError("usecase.save_upload", requestID, err)
	}

	start := time.Now()
	segmenter := segmentation.Segmenter(uc.fallback)
	engine := EngineHeuristic
	if modelName != "" {
		if loaded, err := uc.models.Load(modelName); err != nil {
			opLogger.Warn("model unavailable, using heuristic",
				zap.String("model", modelName), zap.Error(err))
		} else {
			segmenter = loaded
			engine = EngineModel
		}
	}

	outPNG, outImg, err := uc.renderLocal(ctx, img, segmenter)
	if err != nil && engine == EngineModel {
		opLogger.Warn("model inference failed, using heuristic",
			zap.String("model", modelName), zap.Error(err))
		engine = EngineHeuristic
		outPNG, outImg, err = uc.renderLocal(ctx, img, uc.fallback)
	}
	if err != nil {
		opLogger.Error("local pipeline failed", zap.Error(err))
		return nil, logging.NewOperationError("usecase.local_pipeline", requestID, err)
	}

	return uc.finish(ctx, opLogger, &repository.Job{
		RequestID:  requestID,
		Mode:       ModeLocal,
		Model:      modelName,
		Engine:     engine,
		SHA1Hash:   hash,
		SourceName: upload.Filename,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, uploadName, outPNG, outImg, dedupeKey)
}

// GetJob retrieves a job from cache or persistence.
func (uc *ProcessUseCase) GetJob(ctx context.Context, requestID string) (*repository.Job, error) {
	cacheKey := "job:" + requestID
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.job", cacheKey); err == nil {
		var payload cachedJob
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_job", requestID).Warn("failed to decode cached job", zap.Error(err))
		} else {
			return &repository.Job{
				RequestID: payload.RequestID,
				Mode:      payload.Mode,
				Provider:  payload.Provider,
				Model:     payload.Model,
				Engine:    payload.Engine,
				SHA1Hash:  payload.Hash,
				BeforeURL: payload.BeforeURL,
				AfterURL:  payload.AfterURL,
				LatencyMs: payload.LatencyMs,
				Success:   payload.Success,
				CreatedAt: payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_job", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestID(ctx, requestID)
}

// GetDuplicateReport lists other jobs that processed identical image bytes.
func (uc *ProcessUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	job, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, job.SHA1Hash, job.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{Request: job, Duplicates: duplicates}, nil
}

// decodeUpload validates the upload by decoding it and hashes the raw bytes.
func (uc *ProcessUseCase) decodeUpload(upload Upload) (image.Image, string, error) {
	img, _, err := image.Decode(bytes.NewReader(upload.Data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	if img.Bounds().Dx() <= 0 || img.Bounds().Dy() <= 0 {
		return nil, "", fmt.Errorf("%w: zero-sized image", ErrUndecodableImage)
	}

	hash := sha1.Sum(upload.Data)
	return img, hex.EncodeToString(hash[:]), nil
}

// renderLocal runs segment → composite → encode for one image.
func (uc *ProcessUseCase) renderLocal(ctx context.Context, img image.Image, segmenter segmentation.Segmenter) ([]byte, *image.NRGBA, error) {
	mask, err := segmenter.Segment(ctx, img)
	if err != nil {
		return nil, nil, err
	}

	out, err := segmentation.Composite(img, mask, uc.blurRadius)
	if err != nil {
		return nil, nil, err
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, out, imaging.PNG); err != nil {
		return nil, nil, fmt.Errorf("encode result png: %w", err)
	}
	return buf.Bytes(), out, nil
}

// finish stores the result, persists the job and fills the caches. outImg may
// be nil (provider results); then the thumbnail is decoded from outPNG on a
// best-effort basis.
func (uc *ProcessUseCase) finish(ctx context.Context, opLogger *zap.Logger, job *repository.Job, uploadName string, outPNG []byte, outImg image.Image, dedupeKey string) (*Result, error) {
	resultName, err := uc.store.SaveResult(outPNG)
	if err != nil {
		opLogger.Error("failed to store result", zap.Error(err))
		return nil, logging.NewOperationError("usecase.save_result", job.RequestID, err)
	}

	thumbName := uc.saveThumbnail(opLogger, outPNG, outImg, resultName)

	job.BeforeURL = uc.store.UploadURL(uploadName)
	job.AfterURL = uc.store.ResultURL(resultName)
	job.Success = true
	job.CreatedAt = time.Now().UTC()
	if err := uc.repo.Save(ctx, job); err != nil {
		wrapped := logging.NewOperationError("usecase.save_job", job.RequestID, err)
		opLogger.Error("failed to persist job", zap.Error(wrapped))
		return nil, wrapped
	}

	result := &Result{
		RequestID: job.RequestID,
		Before:    job.BeforeURL,
		After:     job.AfterURL,
		Engine:    job.Engine,
	}
	if thumbName != "" {
		result.Thumbnail = uc.store.ResultURL(thumbName)
	}

	cached := cachedJob{
		RequestID: job.RequestID,
		Mode:      job.Mode,
		Provider:  job.Provider,
		Model:     job.Model,
		Engine:    job.Engine,
		Hash:      job.SHA1Hash,
		BeforeURL: job.BeforeURL,
		AfterURL:  job.AfterURL,
		LatencyMs: job.LatencyMs,
		Success:   job.Success,
		CreatedAt: job.CreatedAt,
	}
	serializedJob, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize job for cache", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, job.RequestID, "cache.set.job", func() error {
		return uc.cache.Set(ctx, "job:"+job.RequestID, string(serializedJob), uc.cacheTTL)
	}); err != nil {
		opLogger.Error("failed to cache job", zap.Error(err))
		return nil, err
	}

	// Content dedupe is opportunistic; a failed write only costs a recompute.
	if serializedResult, err := json.Marshal(result); err == nil {
		if err := uc.cache.Set(ctx, dedupeKey, string(serializedResult), uc.cacheTTL); err != nil {
			opLogger.Warn("failed to cache dedupe entry", zap.Error(err))
		}
	}

	return result, nil
}

// saveThumbnail is best-effort; it returns the stored name or "".
func (uc *ProcessUseCase) saveThumbnail(opLogger *zap.Logger, outPNG []byte, outImg image.Image, resultName string) string {
	if outImg == nil {
		decoded, _, err := image.Decode(bytes.NewReader(outPNG))
		if err != nil {
			opLogger.Warn("result not decodable, skipping thumbnail", zap.Error(err))
			return ""
		}
		outImg = decoded
	}
	name, err := uc.store.SaveThumbnail(outImg, resultName)
	if err != nil {
		opLogger.Warn("failed to store thumbnail", zap.Error(err))
		return ""
	}
	return name
}

// lookupResult checks the content-dedupe cache. Any miss or error means a
// fresh computation.
func (uc *ProcessUseCase) lookupResult(ctx context.Context, key string) *Result {
	cached, err := uc.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			uc.logger.Warn("dedupe cache read failed", zap.Error(err))
		}
		return nil
	}
	var result Result
	if err := json.Unmarshal([]byte(cached), &result); err != nil {
		uc.logger.Warn("failed to decode dedupe entry", zap.Error(err))
		return nil
	}
	result.Cached = true
	return &result
}

func (uc *ProcessUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			// A miss is a normal outcome, not a failure.
			return logging.NewOperationError(operation, requestID, err)
		}
		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *ProcessUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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
