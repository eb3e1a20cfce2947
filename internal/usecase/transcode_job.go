package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/metalalive/transcoder-core/internal/domain"
	"github.com/metalalive/transcoder-core/internal/domain/ports"
	"github.com/metalalive/transcoder-core/internal/hls"
	"github.com/metalalive/transcoder-core/internal/metrics"
	"github.com/metalalive/transcoder-core/internal/mp4"
	"github.com/metalalive/transcoder-core/internal/processor"
	"github.com/metalalive/transcoder-core/internal/storagemap"
)

// ProgressBroadcaster pushes a job's phase transitions to the admin
// WebSocket feed. Satisfied by *apihttp.Server; kept local so usecase does
// not import the HTTP layer.
type ProgressBroadcaster interface {
	BroadcastJobProgress(event domain.JobProgressEvent)
}

// TranscodeJob drives one decoded TranscodeRequest from admission to
// terminal reply: it builds a storagemap.Map over processors resolved from
// Registry, ticks the fan-out/fan-in coordinator to completion, and keeps
// the durable JobRecord, the RPC reply stream, Prometheus metrics and the
// admin WebSocket feed in step with the map's phase.
type TranscodeJob struct {
	Registry    *processor.Registry
	Repo        ports.JobRepository
	Replies     ports.ReplyPublisher
	Broadcaster ProgressBroadcaster
	Logger      *slog.Logger

	// ResolveBackend looks up the configured storage backend for a storage
	// alias named in the request or one of its output version specs.
	ResolveBackend func(alias string) (ports.StorageBackend, error)

	PreloadBufSize int

	// TickInterval is the pause after every round that does not finish the
	// job; zero disables the pause.
	TickInterval time.Duration

	// MaskIndex resolves an image destination's MaskPattern to a mask file
	// path; nil disables image destinations (buildMap fails them). Built
	// from the mask index file named in config, per spec.md §4.5.
	MaskIndex hls.MaskIndex
	// FilterGraphBase carries the fixed scale/crop/overlay geometry every
	// image destination shares; only MaskPath varies per request.
	FilterGraphBase hls.FilterGraphSpec
}

// Run validates req, drives it to completion, and always emits exactly one
// terminal RPC reply (success or error) before returning. The returned
// error is non-nil only for failures the caller should log; the terminal
// reply itself has already been published either way.
func (j *TranscodeJob) Run(ctx context.Context, correlationID string, req domain.TranscodeRequest) error {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := req.Validate(); err != nil {
		errInfo := domain.NewErrorInfo()
		errInfo.Set(classifyKind(err), err.Error())
		_ = j.Replies.PublishError(ctx, correlationID, errInfo)
		metrics.JobsFailedTotal.WithLabelValues(string(classifyKind(err))).Inc()
		return err
	}

	jobID := fmt.Sprintf("%s:%s", req.ResourceID, correlationID)
	now := time.Now()
	record := domain.JobRecord{
		ID:            jobID,
		ResourceID:    req.ResourceID,
		UserID:        req.UserID,
		LastUploadReq: req.LastUploadReq,
		CorrelationID: correlationID,
		Status:        domain.JobStatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if j.Repo != nil {
		if err := j.Repo.Create(ctx, record); err != nil {
			logger.Warn("transcode_job: failed to persist job record, continuing without durable tracking",
				slog.String("jobID", jobID), slog.String("error", err.Error()))
		}
	}

	metrics.JobsActive.Inc()
	metrics.JobsStartedTotal.Inc()
	start := time.Now()
	defer func() {
		metrics.JobsActive.Dec()
		metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	j.broadcast(jobID, req.ResourceID, storagemap.PhaseInit.String(), domain.JobStatusRunning)

	m, localBuf, srcProc, err := j.buildMap(ctx, req)
	if err != nil {
		return j.fail(ctx, correlationID, jobID, req.ResourceID, record, domain.ErrKindService, err)
	}

	if err := j.initAll(ctx, m); err != nil {
		return j.fail(ctx, correlationID, jobID, req.ResourceID, record, domain.ErrKindService, err)
	}
	m.SetPhase(storagemap.PhaseSrcProcess)
	j.broadcast(jobID, req.ResourceID, storagemap.PhaseSrcProcess.String(), domain.JobStatusRunning)

	containers := make(map[domain.VersionLabel]string, len(req.Outputs))
	for label, spec := range req.Outputs {
		containers[label] = spec.Container
	}
	results, runErr := j.drive(ctx, m, srcProc, localBuf, correlationID, containers)
	if runErr != nil {
		return j.fail(ctx, correlationID, jobID, req.ResourceID, record, domain.ErrKindTranscoder, runErr)
	}

	m.SetPhase(storagemap.PhaseFinalize)
	j.broadcast(jobID, req.ResourceID, storagemap.PhaseFinalize.String(), domain.JobStatusRunning)
	j.deinitAll(ctx, m)
	m.SetPhase(storagemap.PhaseDone)

	record.Status = domain.JobStatusSucceeded
	record.Versions = results
	record.UpdatedAt = time.Now()
	if j.Repo != nil {
		if err := j.Repo.Update(ctx, record); err != nil {
			logger.Warn("transcode_job: failed to persist terminal state",
				slog.String("jobID", jobID), slog.String("error", err.Error()))
		}
	}
	if err := j.Replies.PublishSuccess(ctx, correlationID, req, results); err != nil {
		logger.Error("transcode_job: publish success reply failed",
			slog.String("jobID", jobID), slog.String("error", err.Error()))
	}
	metrics.RPCRepliesTotal.WithLabelValues("success").Inc()
	metrics.JobsSucceededTotal.Inc()
	j.broadcast(jobID, req.ResourceID, storagemap.PhaseDone.String(), domain.JobStatusSucceeded)
	return nil
}

// buildMap resolves the source and every destination processor for req and
// assembles them into a storagemap.Map, without starting any of them. The
// source container is chosen by MIME-sniffing the first 64 bytes of the
// first chunk rather than assumed, per spec.md §2.
func (j *TranscodeJob) buildMap(ctx context.Context, req domain.TranscodeRequest) (*storagemap.Map, *mp4.LocalBuffer, ports.Processor, error) {
	srcBackend, err := j.ResolveBackend(req.StorageAlias)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve source backend %q: %w", req.StorageAlias, err)
	}

	sourceLabel, err := j.sniffSourceLabel(ctx, srcBackend)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sniff source container: %w", err)
	}

	localBuf := mp4.NewLocalBuffer()
	srcProc, err := j.Registry.Instantiate(ports.RoleSource, sourceLabel, processor.Options{
		Backend:        srcBackend,
		PartsSize:      req.PartsSize,
		LocalWriter:    localBuf,
		PreloadBufSize: j.PreloadBufSize,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("instantiate source processor: %w", err)
	}

	m := storagemap.New(len(req.Outputs))
	m.SetSource(&storagemap.Endpoint{Backend: srcBackend, Processor: srcProc})

	for label, spec := range req.Outputs {
		destBackend, err := j.ResolveBackend(spec.StorageAlias)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolve destination backend for %q: %w", label, err)
		}

		var filterGraph *hls.FilterGraphSpec
		if isImageContainer(spec.Container) {
			resolved, err := j.MaskIndex.Resolve(spec.MaskPattern, j.FilterGraphBase)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("resolve filter graph for %q: %w", label, err)
			}
			filterGraph = &resolved
		}

		reader := localBuf.Reader()
		destProc, err := j.Registry.Instantiate(ports.RoleDestination, spec.Container, processor.Options{
			Backend:      destBackend,
			VersionLabel: string(label),
			DestKey:      fmt.Sprintf("%s/%s", req.ResourceID, label),
			ReadLocal:    reader.Drain,
			SourceDone:   reader.IsDrained,
			FilterGraph:  filterGraph,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("instantiate destination processor for %q: %w", label, err)
		}
		if err := m.AddDestination(&storagemap.Endpoint{Backend: destBackend, Processor: destProc, Label: label}); err != nil {
			return nil, nil, nil, err
		}
	}
	return m, localBuf, srcProc, nil
}

// sniffSourceLabel reads the first 64 bytes of the first source chunk
// (key "1", matching the default SourceKeyFn the mp4 source constructor
// falls back to) and returns the container label the registry should
// instantiate, per spec.md §2's MIME-sniff requirement.
func (j *TranscodeJob) sniffSourceLabel(ctx context.Context, backend ports.StorageBackend) (string, error) {
	head := make([]byte, 64)
	n, err := backend.ReadChunk(ctx, "1", 0, head)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read first chunk header: %w", err)
	}
	return processor.SniffSourceLabel(head[:n]), nil
}

// initAll runs every endpoint's Init concurrently and waits for the map's
// startup fan-in barrier to clear: one BeginAsync per endpoint, one OnReady
// callback fired by the last EndAsync, matching the app_sync_cnt protocol
// spec.md §4.1 describes for bringing up the source folder, the local-temp
// buffer and every destination folder in parallel rather than in sequence.
func (j *TranscodeJob) initAll(ctx context.Context, m *storagemap.Map) error {
	endpoints := make([]*storagemap.Endpoint, 0, 1+len(m.Destinations()))
	endpoints = append(endpoints, m.Source())
	endpoints = append(endpoints, m.Destinations()...)

	ready := make(chan struct{})
	m.OnReady(func() { close(ready) })

	errs := make(chan error, len(endpoints))
	for range endpoints {
		m.BeginAsync()
	}
	for _, ep := range endpoints {
		go func(ep *storagemap.Endpoint) {
			defer m.EndAsync()
			if err := ep.Processor.Init(ctx); err != nil {
				errs <- fmt.Errorf("init processor %s: %w", endpointName(ep), err)
			}
		}(ep)
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func endpointName(ep *storagemap.Endpoint) string {
	if ep.Label != "" {
		return string(ep.Label)
	}
	return "source"
}

// isImageContainer reports whether label names one of the registered
// image-destination containers (builtin.go's "image"/"image/jpeg"/
// "image/png"), the only destinations that require a filter graph.
func isImageContainer(label string) bool {
	switch strings.ToLower(label) {
	case "image", "image/jpeg", "image/png":
		return true
	default:
		return false
	}
}

func (j *TranscodeJob) deinitAll(ctx context.Context, m *storagemap.Map) {
	deinitOne := func(ep *storagemap.Endpoint) (bool, error) {
		if err := ep.Processor.Deinit(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	for {
		remaining, err := m.Deinit(deinitOne)
		if err != nil {
			j.logger().Error("transcode_job: deinit failed", slog.String("error", err.Error()))
			return
		}
		if len(remaining) == 0 {
			return
		}
	}
}

func (j *TranscodeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// drive ticks the source and every destination processor in lockstep
// rounds until the source has finished and every destination reports
// HasDoneProcessing. Each round walks destinations through the map's own
// restartable cursor (IterateDestination/ResetIterator) instead of a plain
// slice range, and the fan-in check at the bottom of the round defers to
// the map's own AllDstStopped/AllDstDone predicates rather than a
// hand-rolled bool, per the fan-out/fan-in contract storagemap.Map
// describes. Each round also refreshes the metrics gauge for active
// destinations, and every 20th round pushes a progress reply.
func (j *TranscodeJob) drive(ctx context.Context, m *storagemap.Map, srcProc ports.Processor, localBuf *mp4.LocalBuffer, correlationID string, containers map[domain.VersionLabel]string) ([]domain.VersionResult, error) {
	destinations := m.Destinations()
	round := 0

	for {
		round++
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !srcProc.HasDoneProcessing() {
			if _, err := srcProc.Processing(ctx); err != nil {
				return nil, fmt.Errorf("source processing: %w", err)
			}
			if srcProc.HasDoneProcessing() {
				localBuf.MarkDone()
			}
		}

		activeCount := 0
		m.ResetIterator()
		for {
			ep, ok := m.IterateDestination()
			if !ok {
				break
			}
			if ep.Processor.HasDoneProcessing() {
				continue
			}
			if !ep.StartWorking() {
				continue
			}
			activeCount++
			if _, err := ep.Processor.Processing(ctx); err != nil {
				ep.StopWorking()
				return nil, fmt.Errorf("destination %s processing: %w", ep.Label, err)
			}
			ep.StopWorking()
		}
		metrics.DestinationsActive.Set(float64(activeCount))

		if round%20 == 0 {
			fraction := estimateFraction(srcProc, destinations)
			if err := j.Replies.PublishProgress(ctx, correlationID, fraction); err == nil {
				metrics.RPCRepliesTotal.WithLabelValues("progress").Inc()
			}
		}

		if srcProc.HasDoneProcessing() && m.AllDstStopped() && m.AllDstDone() {
			break
		}
		if j.TickInterval > 0 {
			time.Sleep(j.TickInterval)
		}
	}

	results := make([]domain.VersionResult, 0, len(destinations))
	for _, ep := range destinations {
		results = append(results, domain.VersionResult{
			Label:     ep.Label,
			Container: containers[ep.Label],
			Succeeded: ep.Processor.HasDoneProcessing(),
		})
	}
	return results, nil
}

func estimateFraction(srcProc ports.Processor, destinations []*storagemap.Endpoint) float64 {
	if len(destinations) == 0 {
		if srcProc.HasDoneProcessing() {
			return 1
		}
		return 0
	}
	done := 0
	for _, ep := range destinations {
		if ep.Processor.HasDoneProcessing() {
			done++
		}
	}
	return float64(done) / float64(len(destinations))
}

func (j *TranscodeJob) fail(ctx context.Context, correlationID, jobID, resourceID string, record domain.JobRecord, kind domain.ErrorKind, cause error) error {
	errInfo := domain.NewErrorInfo()
	errInfo.Set(kind, cause.Error())

	record.Status = domain.JobStatusFailed
	record.ErrorMessage = cause.Error()
	record.UpdatedAt = time.Now()
	if j.Repo != nil {
		if err := j.Repo.Update(ctx, record); err != nil {
			j.logger().Warn("transcode_job: failed to persist failure state", slog.String("jobID", jobID), slog.String("error", err.Error()))
		}
	}
	if err := j.Replies.PublishError(ctx, correlationID, errInfo); err != nil {
		j.logger().Error("transcode_job: publish error reply failed", slog.String("jobID", jobID), slog.String("error", err.Error()))
	}
	metrics.RPCRepliesTotal.WithLabelValues("error").Inc()
	metrics.JobsFailedTotal.WithLabelValues(string(kind)).Inc()
	j.broadcast(jobID, resourceID, storagemap.PhaseDone.String(), domain.JobStatusFailed)
	return cause
}

func (j *TranscodeJob) broadcast(jobID, resourceID, phase string, status domain.JobStatus) {
	if j.Broadcaster == nil {
		return
	}
	j.Broadcaster.BroadcastJobProgress(domain.JobProgressEvent{
		JobID:      jobID,
		ResourceID: resourceID,
		Phase:      phase,
		Status:     status,
		UpdatedAt:  time.Now(),
	})
}

func classifyKind(err error) domain.ErrorKind {
	if kerr, ok := err.(*domain.KindError); ok {
		return kerr.Kind
	}
	return domain.ErrKindService
}
