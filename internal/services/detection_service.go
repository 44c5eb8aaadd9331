package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-changepoint/internal/api"
	"github.com/miradorstack/mirador-changepoint/internal/cache"
	"github.com/miradorstack/mirador-changepoint/internal/config"
	"github.com/miradorstack/mirador-changepoint/internal/engine"
	"github.com/miradorstack/mirador-changepoint/internal/extractors"
	cpv1 "github.com/miradorstack/mirador-changepoint/internal/grpc/changepointv1"
	"github.com/miradorstack/mirador-changepoint/internal/metrics"
	"github.com/miradorstack/mirador-changepoint/internal/models"
	"github.com/miradorstack/mirador-changepoint/internal/utils"
)

// Detector runs a detection for one series.
type Detector interface {
	Run(ctx context.Context, series models.TimeSeries, cfg models.ModelConfig) (models.DetectionResult, error)
}

// RunStore persists detection runs.
type RunStore interface {
	SaveRun(ctx context.Context, result models.DetectionResult) error
	GetRun(ctx context.Context, runID string) (models.DetectionResult, error)
	Ping(ctx context.Context) error
}

// Options carries the request defaults and limits applied by DetectionService.
type Options struct {
	Defaults models.ModelConfig
	Limits   config.LimitsConfig
	CacheTTL time.Duration
	// OutlierThreshold is the robust z-score above which spikes are reported.
	// Zero disables outlier reporting.
	OutlierThreshold float64
}

// DetectionService implements the gRPC Detector service.
type DetectionService struct {
	cpv1.UnimplementedDetectorServer

	logger    *slog.Logger
	detector  Detector
	cache     cache.Provider
	store     RunStore
	limiter   *rate.Limiter
	opts      Options
	latencies *utils.LatencyTracker
	features  *extractors.FeatureExtractor
	outliers  *extractors.OutlierDetector
}

// NewDetectionService constructs the detection service facade. cacheProvider and store
// may be nil.
func NewDetectionService(logger *slog.Logger, detector Detector, cacheProvider cache.Provider, store RunStore, opts Options) *DetectionService {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Limits.RequestsPerSecond > 0 {
		burst := opts.Limits.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Limits.RequestsPerSecond), burst)
	}
	var outliers *extractors.OutlierDetector
	if opts.OutlierThreshold > 0 {
		outliers = extractors.NewOutlierDetector(opts.OutlierThreshold)
	}
	return &DetectionService{
		logger:    logger,
		detector:  detector,
		cache:     cacheProvider,
		store:     store,
		limiter:   limiter,
		opts:      opts,
		latencies: utils.NewLatencyTracker(1024),
		features:  extractors.NewFeatureExtractor(),
		outliers:  outliers,
	}
}

// Detect decodes the request, runs the detector and returns the DetectionResult.
func (s *DetectionService) Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.detector == nil {
		return nil, status.Error(codes.FailedPrecondition, "detector not configured")
	}

	domainReq, err := api.FromProtoDetectRequest(req, s.opts.Defaults)
	if err != nil {
		metrics.ObserveDetection(0, metrics.OutcomeInvalid)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.DetectSeries(ctx, domainReq)
	if err != nil {
		return nil, toStatus(err)
	}

	resp, err := api.ToProtoDetectionResult(result)
	if err != nil {
		s.logger.Error("encode detection result", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode result")
	}
	return resp, nil
}

// DetectSeries is the transport-independent detection path shared by gRPC and the CLI.
func (s *DetectionService) DetectSeries(ctx context.Context, req models.DetectRequest) (models.DetectionResult, error) {
	if !s.limiter.Allow() {
		return models.DetectionResult{}, utils.NewKindError(utils.KindRateLimited, "detect", "request rate limit exceeded", nil)
	}
	if err := s.applyLimits(&req); err != nil {
		metrics.ObserveDetection(0, metrics.OutcomeInvalid)
		return models.DetectionResult{}, err
	}
	transform, err := extractors.ParseTransform(req.Transform)
	if err != nil {
		metrics.ObserveDetection(0, metrics.OutcomeInvalid)
		return models.DetectionResult{}, utils.NewKindError(utils.KindInvalid, "detect", err.Error(), err)
	}
	req.Transform = string(transform)

	key, err := cacheKey(req)
	if err != nil {
		return models.DetectionResult{}, utils.NewAppError("detect", "derive cache key", err)
	}
	if cached, ok := s.lookup(ctx, key); ok {
		metrics.ObserveDetection(0, metrics.OutcomeCached)
		s.logger.Debug("detection served from cache", slog.String("run_id", cached.RunID))
		if req.Persist {
			if err := s.persistCached(ctx, cached); err != nil {
				return models.DetectionResult{}, err
			}
		}
		return cached, nil
	}

	series, err := s.features.Apply(req.TimeSeries(), transform)
	if err != nil {
		metrics.ObserveDetection(0, metrics.OutcomeInvalid)
		return models.DetectionResult{}, utils.NewKindError(utils.KindInvalid, "detect", err.Error(), err)
	}

	runCtx := ctx
	if s.opts.Limits.MaxRunTime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.Limits.MaxRunTime)
		defer cancel()
	}

	s.logger.Debug("detection started",
		slog.Int("observations", series.Len()),
		slog.String("transform", req.Transform),
		slog.Int("change_points", req.Config.NumChangePoints),
		slog.Int("chains", req.Config.Chains))

	start := time.Now()
	result, err := s.detector.Run(runCtx, series, req.Config)
	duration := time.Since(start)
	if err != nil {
		var invalid *engine.InvalidConfigError
		if errors.As(err, &invalid) {
			metrics.ObserveDetection(duration, metrics.OutcomeInvalid)
			return models.DetectionResult{}, err
		}
		metrics.ObserveDetection(duration, metrics.OutcomeError)
		s.logger.Error("detection failed", slog.Duration("duration", duration), slog.Any("error", err))
		return models.DetectionResult{}, err
	}

	result.Transform = req.Transform
	s.flagOutliers(&result, series)
	s.observe(result, duration)

	if req.Persist {
		if err := s.persist(ctx, result); err != nil {
			return models.DetectionResult{}, err
		}
	}

	s.remember(ctx, key, result)
	return result, nil
}

func (s *DetectionService) persist(ctx context.Context, result models.DetectionResult) error {
	if s.store == nil {
		return utils.NewKindError(utils.KindUnavailable, "detect", "persistence requested but no run store is configured", nil)
	}
	if err := s.store.SaveRun(ctx, result); err != nil {
		s.logger.Error("persist detection run", slog.String("run_id", result.RunID), slog.Any("error", err))
		return err
	}
	return nil
}

// persistCached stores a cached result unless its run id is already in the store.
// The cached entry may come from a request that did not ask for persistence.
func (s *DetectionService) persistCached(ctx context.Context, result models.DetectionResult) error {
	if s.store == nil {
		return s.persist(ctx, result)
	}
	_, err := s.store.GetRun(ctx, result.RunID)
	switch {
	case err == nil:
		return nil
	case utils.KindOf(err) == utils.KindNotFound:
		return s.persist(ctx, result)
	default:
		s.logger.Error("look up cached detection run", slog.String("run_id", result.RunID), slog.Any("error", err))
		return err
	}
}

// GetRun returns a stored run by id.
func (s *DetectionService) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "run store not configured")
	}
	runID, err := api.FromProtoRunID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := api.ToProtoDetectionResult(result)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode result")
	}
	return resp, nil
}

// Health reports the state of the service and its dependencies.
func (s *DetectionService) Health(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp, err := api.ToProtoHealth(s.HealthReport(ctx))
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode health")
	}
	return resp, nil
}

// HealthReport gathers the values returned by Health.
func (s *DetectionService) HealthReport(ctx context.Context) models.HealthReport {
	report := models.HealthReport{
		Status:       "SERVING",
		Cache:        "disabled",
		Store:        "disabled",
		Detections:   s.latencies.Count(),
		LatencyP95MS: float64(s.LatencyP95()) / float64(time.Millisecond),
	}
	if _, isNoop := s.cache.(cache.NoopProvider); !isNoop {
		report.Cache = "enabled"
	}
	if s.store != nil {
		report.Store = "ok"
		if err := s.store.Ping(ctx); err != nil {
			report.Store = "unavailable"
			report.Status = "DEGRADED"
		}
	}
	return report
}

// LatencyP95 returns the current p95 detection latency.
func (s *DetectionService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

// applyLimits rejects oversized requests and caps chain parallelism.
func (s *DetectionService) applyLimits(req *models.DetectRequest) error {
	limits := s.opts.Limits
	switch {
	case limits.MaxObservations > 0 && len(req.Series) > limits.MaxObservations:
		return utils.NewKindError(utils.KindInvalid, "detect",
			fmt.Sprintf("series has %d observations, limit is %d", len(req.Series), limits.MaxObservations), nil)
	case limits.MaxDraws > 0 && req.Config.Draws+req.Config.TuningIterations > limits.MaxDraws:
		return utils.NewKindError(utils.KindInvalid, "detect",
			fmt.Sprintf("draws plus tuning iterations exceed limit %d", limits.MaxDraws), nil)
	case limits.MaxChains > 0 && req.Config.Chains > limits.MaxChains:
		return utils.NewKindError(utils.KindInvalid, "detect",
			fmt.Sprintf("chains %d exceed limit %d", req.Config.Chains, limits.MaxChains), nil)
	}
	if limits.MaxParallelChains > 0 && (req.Config.MaxParallel == 0 || req.Config.MaxParallel > limits.MaxParallelChains) {
		req.Config.MaxParallel = limits.MaxParallelChains
	}
	return nil
}

func (s *DetectionService) observe(result models.DetectionResult, duration time.Duration) {
	metrics.ObserveDetection(duration, metrics.OutcomeSuccess)
	metrics.ObserveConvergence(result.Diagnostics.MaxRHat, result.Diagnostics.Converged)
	for _, c := range result.Chains {
		metrics.ObserveChain(string(c.Status), c.AcceptanceRate)
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		snap := s.latencies.Snapshot()
		s.logger.Info("detection latency", slog.Duration("p50", snap.P50), slog.Duration("p95", snap.P95), slog.Int("samples", snap.Count))
	}
	if !result.Diagnostics.Converged {
		s.logger.Warn("detection finished without convergence",
			slog.String("run_id", result.RunID),
			slog.Float64("max_rhat", result.Diagnostics.MaxRHat),
			slog.Int("warnings", len(result.Diagnostics.Warnings)))
	}
}

func (s *DetectionService) flagOutliers(result *models.DetectionResult, series models.TimeSeries) {
	if s.outliers == nil {
		return
	}
	found := s.outliers.Detect(series)
	if len(found) == 0 {
		return
	}
	result.Diagnostics.Outliers = make([]int, len(found))
	for i, o := range found {
		result.Diagnostics.Outliers[i] = o.Index
	}
	s.logger.Warn("series contains isolated spikes",
		slog.String("run_id", result.RunID),
		slog.Int("outliers", len(found)),
		slog.Time("first", found[0].Timestamp))
}

func (s *DetectionService) lookup(ctx context.Context, key string) (models.DetectionResult, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("result cache get failed", slog.Any("error", err))
		}
		return models.DetectionResult{}, false
	}
	var result models.DetectionResult
	if err := json.Unmarshal(data, &result); err != nil {
		s.logger.Warn("result cache entry unreadable", slog.Any("error", err))
		_ = s.cache.Del(ctx, key)
		return models.DetectionResult{}, false
	}
	return result, true
}

func (s *DetectionService) remember(ctx context.Context, key string, result models.DetectionResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("result cache encode failed", slog.Any("error", err))
		return
	}
	if err := s.cache.Set(ctx, key, data, s.opts.CacheTTL); err != nil {
		s.logger.Warn("result cache set failed", slog.Any("error", err))
	}
}

// cacheKey hashes the series, config and transform. Persist and MaxParallel are
// excluded: neither changes the result.
func cacheKey(req models.DetectRequest) (string, error) {
	cfg := req.Config
	cfg.MaxParallel = 0
	payload, err := json.Marshal(struct {
		Series    []models.Observation `json:"series"`
		Config    models.ModelConfig   `json:"config"`
		Transform string               `json:"transform"`
	}{req.Series, cfg, req.Transform})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return "result:" + hex.EncodeToString(sum[:]), nil
}

// toStatus maps domain and infrastructure errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var invalid *engine.InvalidConfigError
	var failure *engine.SamplerFailure
	switch {
	case errors.As(err, &invalid):
		return status.Error(codes.InvalidArgument, invalid.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.As(err, &failure):
		return status.Error(codes.Aborted, failure.Error())
	}

	switch utils.KindOf(err) {
	case utils.KindInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	case utils.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case utils.KindUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	case utils.KindRateLimited:
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, "detection failed")
	}
}
