// FILE: internal/service/labeler_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"image-labeler-be/internal/dto"
	"image-labeler-be/internal/pkg/logger"
	"image-labeler-be/internal/repository/memory"
	"image-labeler-be/pkg/events"
	"image-labeler-be/pkg/export"
	"image-labeler-be/pkg/feedback"
	"image-labeler-be/pkg/imageio"
	"image-labeler-be/pkg/labels"
	"image-labeler-be/pkg/oracle"
	"image-labeler-be/pkg/results"
	"image-labeler-be/pkg/store"
)

// ErrNoAnalysis is returned by Export before the session has analyzed anything.
var ErrNoAnalysis = errors.New("no analysis to export in this session")

const (
	matchedMessage   = "Image analyzed successfully"
	noMatchMessage   = "No confident match: none of the labels scored above the confidence threshold"
	defaultAuditPage = 50
)

type ILabelerService interface {
	GetPresets(ctx context.Context) *dto.GetPresetsResponse
	Analyze(ctx context.Context, sessionId string, req *dto.AnalyzeRequest, upload *dto.ImageUpload) (*dto.AnalyzeResponse, error)
	Vote(ctx context.Context, sessionId string, req *dto.VoteRequest) (*dto.VoteResponse, error)
	GetFeedback(ctx context.Context, sessionId string) (*dto.GetFeedbackResponse, error)
	Export(ctx context.Context, sessionId string, w io.Writer) error
	EndSession(ctx context.Context, sessionId string) error
	GetAuditLogs(ctx context.Context, level string, limit, offset int) ([]*dto.AuditEntryDTO, error)
}

// AuditReader reads back the audit trail written by the consumer.
type AuditReader interface {
	GetLogs(level string, limit, offset int) ([]logger.LogEntry, error)
}

type LabelerOptions struct {
	Threshold      float64
	OracleTimeout  time.Duration
	MaxImagePixels int
}

type labelerService struct {
	oracle           oracle.Oracle
	sessionRepo      *memory.SessionRepository
	publisherService IPublisherService
	audit            AuditReader
	logger           logger.ILogger
	opts             LabelerOptions
}

func NewLabelerService(
	o oracle.Oracle,
	sessionRepo *memory.SessionRepository,
	publisherService IPublisherService,
	audit AuditReader,
	log logger.ILogger,
	opts LabelerOptions,
) ILabelerService {
	if !results.ValidThreshold(opts.Threshold) {
		log.Warn("LABELER", "Invalid confidence threshold, using default", map[string]interface{}{
			"configured": opts.Threshold,
			"default":    results.DefaultThreshold,
		})
		opts.Threshold = results.DefaultThreshold
	}
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = 60 * time.Second
	}
	return &labelerService{
		oracle:           o,
		sessionRepo:      sessionRepo,
		publisherService: publisherService,
		audit:            audit,
		logger:           log,
		opts:             opts,
	}
}

func (s *labelerService) GetPresets(ctx context.Context) *dto.GetPresetsResponse {
	presets := labels.Presets()
	res := &dto.GetPresetsResponse{
		Presets:   make([]dto.PresetDTO, 0, len(presets)),
		Modes:     labels.Modes(),
		Threshold: s.opts.Threshold,
		Formats:   imageio.Extensions,
	}
	for _, p := range presets {
		res.Presets = append(res.Presets, dto.PresetDTO{
			Name:   p.Name,
			Raw:    p.Labels,
			Labels: labels.Split(p.Labels),
		})
	}
	return res
}

func (s *labelerService) Analyze(ctx context.Context, sessionId string, req *dto.AnalyzeRequest, upload *dto.ImageUpload) (*dto.AnalyzeResponse, error) {
	// 1. Resolve the label set; an empty set never reaches the oracle
	set, err := labels.Build(req.Preset, req.Labels)
	if err != nil {
		return nil, err
	}
	if err := labels.Require(set); err != nil {
		return nil, err
	}

	// 2. Decode the upload
	img, err := imageio.Decode(upload.Data, upload.Filename, imageio.Options{MaxPixels: s.opts.MaxImagePixels})
	if err != nil {
		return nil, err
	}

	// 3. One oracle call at a time per session. Waiting for the slot and
	// the oracle call each get their own OracleTimeout.
	session, _ := s.sessionRepo.GetOrCreate(sessionId)
	waitCtx, cancelWait := context.WithTimeout(ctx, s.opts.OracleTimeout)
	release, err := session.Acquire(waitCtx)
	cancelWait()
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.opts.OracleTimeout)
	defer cancel()

	// 4. Classify
	start := time.Now()
	raw, err := s.classify(ctx, img, set)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Warn("LABELER", "Classification failed", map[string]interface{}{
			"session_id": sessionId,
			"mode":       req.Preset,
			"labels":     len(set),
			"error":      err.Error(),
		})
		s.publish(events.TypeAnalysisFailed, map[string]interface{}{
			"session_id": sessionId,
			"mode":       req.Preset,
			"labels":     len(set),
			"error":      err.Error(),
		})
		return nil, err
	}

	// 5. Filter and remember for export
	filtered := results.Filter(raw, s.opts.Threshold)
	outcome := results.OutcomeOf(filtered)
	analysis := &store.Analysis{
		Mode:       req.Preset,
		Labels:     set,
		Filtered:   filtered,
		Threshold:  s.opts.Threshold,
		ModelID:    s.oracle.ModelID(),
		AnalyzedAt: time.Now().UTC(),
	}
	session.SetLast(analysis)

	s.publish(events.TypeAnalysisCompleted, map[string]interface{}{
		"session_id":  sessionId,
		"mode":        req.Preset,
		"labels":      len(set),
		"matches":     len(filtered),
		"outcome":     string(outcome),
		"model_id":    analysis.ModelID,
		"duration_ms": elapsed.Milliseconds(),
	})

	res := &dto.AnalyzeResponse{
		SessionId: sessionId,
		Mode:      req.Preset,
		Labels:    set,
		Outcome:   string(outcome),
		Message:   matchedMessage,
		Matches:   make([]dto.MatchDTO, 0, len(filtered)),
		Threshold: s.opts.Threshold,
		ModelId:   analysis.ModelID,
		Image: dto.ImageInfoDTO{
			MIMEType: img.MIMEType,
			Width:    img.Width,
			Height:   img.Height,
			Bytes:    len(img.Data),
		},
		DurationMs: elapsed.Milliseconds(),
		AnalyzedAt: analysis.AnalyzedAt,
	}
	if outcome == results.OutcomeNoConfidentMatch {
		res.Message = noMatchMessage
	}
	for _, r := range filtered {
		res.Matches = append(res.Matches, dto.MatchDTO{
			Label:    r.Label,
			Score:    r.Score,
			Tag:      results.Tag(r),
			Feedback: session.Feedback.Counts(r.Label),
		})
	}
	return res, nil
}

func (s *labelerService) classify(ctx context.Context, img *oracle.Image, set []string) ([]oracle.Result, error) {
	ctx, span := otel.Tracer("labeler").Start(ctx, "oracle.classify")
	defer span.End()
	span.SetAttributes(
		attribute.Int("labeler.labels", len(set)),
		attribute.String("labeler.image.mime", img.MIMEType),
	)

	raw, err := s.oracle.Classify(ctx, img, set)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("labeler.model", s.oracle.ModelID()))
	return raw, nil
}

func (s *labelerService) Vote(ctx context.Context, sessionId string, req *dto.VoteRequest) (*dto.VoteResponse, error) {
	dir, err := feedback.ParseDirection(req.Direction)
	if err != nil {
		return nil, err
	}
	label := labels.Normalize(req.Label)
	if label == "" {
		return nil, labels.ErrEmptyLabel
	}

	session, _ := s.sessionRepo.GetOrCreate(sessionId)
	counter, err := session.Feedback.RecordVote(label, dir)
	if err != nil {
		return nil, err
	}

	s.publish(events.TypeFeedbackVoted, map[string]interface{}{
		"session_id": sessionId,
		"label":      label,
		"direction":  string(dir),
		"up":         counter.Up,
		"down":       counter.Down,
	})

	return &dto.VoteResponse{
		Label: label,
		Up:    counter.Up,
		Down:  counter.Down,
	}, nil
}

func (s *labelerService) GetFeedback(ctx context.Context, sessionId string) (*dto.GetFeedbackResponse, error) {
	res := &dto.GetFeedbackResponse{
		SessionId: sessionId,
		Counts:    []feedback.LabelCount{},
	}
	if session, ok := s.sessionRepo.Get(sessionId); ok {
		res.Counts = session.Feedback.Snapshot()
	}
	return res, nil
}

func (s *labelerService) Export(ctx context.Context, sessionId string, w io.Writer) error {
	session, ok := s.sessionRepo.Get(sessionId)
	if !ok {
		return ErrNoAnalysis
	}
	last := session.Last()
	if last == nil {
		return ErrNoAnalysis
	}
	if err := export.WriteCSV(w, last.Filtered); err != nil {
		return fmt.Errorf("export session %s: %w", sessionId, err)
	}
	return nil
}

func (s *labelerService) EndSession(ctx context.Context, sessionId string) error {
	session, ok := s.sessionRepo.Get(sessionId)
	if !ok {
		return nil
	}
	s.sessionRepo.Delete(sessionId)
	s.publish(events.TypeSessionEnded, map[string]interface{}{
		"session_id":   sessionId,
		"labels_voted": len(session.Feedback.Snapshot()),
		"age_ms":       time.Since(session.CreatedAt).Milliseconds(),
	})
	return nil
}

func (s *labelerService) GetAuditLogs(ctx context.Context, level string, limit, offset int) ([]*dto.AuditEntryDTO, error) {
	if limit <= 0 {
		limit = defaultAuditPage
	}
	if offset < 0 {
		offset = 0
	}
	if s.audit == nil {
		return []*dto.AuditEntryDTO{}, nil
	}
	entries, err := s.audit.GetLogs(level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	res := make([]*dto.AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		res = append(res, &dto.AuditEntryDTO{
			Id:        e.Id,
			Timestamp: e.Timestamp,
			Level:     e.Level,
			Event:     e.Message,
			Details:   e.Details,
		})
	}
	return res, nil
}

// publish is best effort: a broken event bus never fails a request.
func (s *labelerService) publish(eventType string, data map[string]interface{}) {
	if s.publisherService == nil {
		return
	}
	if err := s.publisherService.Publish(events.New(eventType, data)); err != nil {
		s.logger.Error("EVENTS", "Failed to publish event", map[string]interface{}{
			"event_type": eventType,
			"error":      err.Error(),
		})
	}
}
