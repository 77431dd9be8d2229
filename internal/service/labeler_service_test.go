package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-labeler-be/internal/dto"
	"image-labeler-be/internal/pkg/logger"
	"image-labeler-be/internal/repository/memory"
	"image-labeler-be/pkg/events"
	"image-labeler-be/pkg/export"
	"image-labeler-be/pkg/imageio"
	"image-labeler-be/pkg/labels"
	"image-labeler-be/pkg/oracle"
	"image-labeler-be/pkg/results"
	"image-labeler-be/pkg/store"
)

type fakeOracle struct {
	mu        sync.Mutex
	scores    map[string]float64
	err       error
	calls     int
	block     chan struct{}
	remaining []time.Duration
}

func (f *fakeOracle) Classify(ctx context.Context, img *oracle.Image, set []string) ([]oracle.Result, error) {
	f.mu.Lock()
	f.calls++
	if dl, ok := ctx.Deadline(); ok {
		f.remaining = append(f.remaining, time.Until(dl))
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]oracle.Result, 0, len(set))
	for _, l := range set {
		out = append(out, oracle.Result{Label: l, Score: f.scores[l]})
	}
	return out, nil
}

func (f *fakeOracle) ModelID() string { return "fake/clip" }

func (f *fakeOracle) Remaining() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.remaining...)
}

func (f *fakeOracle) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturePublisher) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType())
	}
	return out
}

type staticAudit struct {
	entries []logger.LogEntry
}

func (a *staticAudit) GetLogs(level string, limit, offset int) ([]logger.LogEntry, error) {
	return a.entries, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func foodScores() map[string]float64 {
	return map[string]float64{
		"pizza": 0.91, "cake": 0.02, "salad": 0.01, "burger": 0.03,
		"fruit": 0.01, "coffee": 0.005, "bread": 0.01, "juice": 0.005,
	}
}

func newTestLabeler(o oracle.Oracle, pub IPublisherService) (ILabelerService, *memory.SessionRepository) {
	repo := memory.NewSessionRepository(time.Hour)
	svc := NewLabelerService(o, repo, pub, &staticAudit{}, logger.NewNopLogger(), LabelerOptions{
		Threshold:     results.DefaultThreshold,
		OracleTimeout: 5 * time.Second,
	})
	return svc, repo
}

func TestAnalyzeFoodPresetKeepsOnlyConfidentLabels(t *testing.T) {
	o := &fakeOracle{scores: foodScores()}
	pub := &capturePublisher{}
	svc, _ := newTestLabeler(o, pub)

	res, err := svc.Analyze(context.Background(), "s1",
		&dto.AnalyzeRequest{Preset: "Food"},
		&dto.ImageUpload{Filename: "pizza.png", Data: pngBytes(t)})
	require.NoError(t, err)

	assert.Equal(t, string(results.OutcomeMatched), res.Outcome)
	assert.Equal(t, []string{"pizza", "cake", "salad", "burger", "fruit", "coffee", "bread", "juice"}, res.Labels)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "pizza", res.Matches[0].Label)
	assert.Equal(t, "pizza (91%)", res.Matches[0].Tag)
	assert.Equal(t, "fake/clip", res.ModelId)
	assert.Equal(t, "image/png", res.Image.MIMEType)
	assert.Equal(t, 8, res.Image.Width)
	assert.Equal(t, []string{events.TypeAnalysisCompleted}, pub.Types())

	var csv bytes.Buffer
	require.NoError(t, svc.Export(context.Background(), "s1", &csv))
	assert.Equal(t, "label,score\npizza,0.91\n", csv.String())
}

func TestAnalyzeNoConfidentMatchIsNotAnError(t *testing.T) {
	o := &fakeOracle{scores: map[string]float64{"dog": 0.30, "cat": 0.29}}
	svc, _ := newTestLabeler(o, &capturePublisher{})

	res, err := svc.Analyze(context.Background(), "s1",
		&dto.AnalyzeRequest{Preset: labels.CustomMode, Labels: "dog, cat"},
		&dto.ImageUpload{Data: pngBytes(t)})
	require.NoError(t, err)

	assert.Equal(t, string(results.OutcomeNoConfidentMatch), res.Outcome)
	assert.Empty(t, res.Matches)
	assert.NotNil(t, res.Matches)
	assert.Equal(t, noMatchMessage, res.Message)
}

func TestAnalyzeEmptyCustomLabelsNeverCallsOracle(t *testing.T) {
	o := &fakeOracle{}
	svc, _ := newTestLabeler(o, &capturePublisher{})

	_, err := svc.Analyze(context.Background(), "s1",
		&dto.AnalyzeRequest{Preset: labels.CustomMode, Labels: " , ,  "},
		&dto.ImageUpload{Data: pngBytes(t)})
	assert.ErrorIs(t, err, labels.ErrEmptyLabelSet)
	assert.Zero(t, o.Calls())
}

func TestAnalyzeRejectsUnknownPresetAndBadImage(t *testing.T) {
	o := &fakeOracle{}
	svc, _ := newTestLabeler(o, &capturePublisher{})

	_, err := svc.Analyze(context.Background(), "s1",
		&dto.AnalyzeRequest{Preset: "Cars"},
		&dto.ImageUpload{Data: pngBytes(t)})
	assert.ErrorIs(t, err, labels.ErrUnknownPreset)

	_, err = svc.Analyze(context.Background(), "s1",
		&dto.AnalyzeRequest{Preset: "General"},
		&dto.ImageUpload{Filename: "notes.txt", Data: []byte("plain text")})
	assert.ErrorIs(t, err, imageio.ErrImageDecode)
	assert.Zero(t, o.Calls())
}

func TestAnalyzeOracleFailurePublishesFailedEvent(t *testing.T) {
	o := &fakeOracle{err: oracle.ErrOracleUnavailable}
	pub := &capturePublisher{}
	svc, repo := newTestLabeler(o, pub)

	_, err := svc.Analyze(context.Background(), "s1",
		&dto.AnalyzeRequest{Preset: "Tech"},
		&dto.ImageUpload{Data: pngBytes(t)})
	assert.ErrorIs(t, err, oracle.ErrOracleUnavailable)
	assert.Equal(t, []string{events.TypeAnalysisFailed}, pub.Types())

	// A failed call leaves nothing to export.
	sess, ok := repo.Get("s1")
	require.True(t, ok)
	assert.Nil(t, sess.Last())
	assert.ErrorIs(t, svc.Export(context.Background(), "s1", &bytes.Buffer{}), ErrNoAnalysis)
}

func TestAnalyzeSerializesPerSession(t *testing.T) {
	o := &fakeOracle{scores: foodScores(), block: make(chan struct{})}
	repo := memory.NewSessionRepository(time.Hour)
	svc := NewLabelerService(o, repo, nil, nil, logger.NewNopLogger(), LabelerOptions{
		Threshold:     results.DefaultThreshold,
		OracleTimeout: 200 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Analyze(context.Background(), "s1",
			&dto.AnalyzeRequest{Preset: "Food"},
			&dto.ImageUpload{Data: pngBytes(t)})
		done <- err
	}()

	require.Eventually(t, func() bool { return o.Calls() == 1 }, time.Second, 5*time.Millisecond)

	_, err := svc.Analyze(context.Background(), "s1",
		&dto.AnalyzeRequest{Preset: "Food"},
		&dto.ImageUpload{Data: pngBytes(t)})
	assert.ErrorIs(t, err, store.ErrSessionBusy)
	assert.Equal(t, 1, o.Calls())

	close(o.block)
	assert.NoError(t, <-done)
}

func TestAnalyzeQueuedCallGetsFullOracleBudget(t *testing.T) {
	o := &fakeOracle{scores: foodScores(), block: make(chan struct{})}
	repo := memory.NewSessionRepository(time.Hour)
	svc := NewLabelerService(o, repo, nil, nil, logger.NewNopLogger(), LabelerOptions{
		Threshold:     results.DefaultThreshold,
		OracleTimeout: 400 * time.Millisecond,
	})

	analyze := func(done chan<- error) {
		_, err := svc.Analyze(context.Background(), "s1",
			&dto.AnalyzeRequest{Preset: "Food"},
			&dto.ImageUpload{Data: pngBytes(t)})
		done <- err
	}

	first := make(chan error, 1)
	go analyze(first)
	require.Eventually(t, func() bool { return o.Calls() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go analyze(second)

	// The second call waits on the slot for part of its budget.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, o.Calls())
	close(o.block)

	require.NoError(t, <-first)
	require.NoError(t, <-second)

	remaining := o.Remaining()
	require.Len(t, remaining, 2)
	assert.Greater(t, remaining[1], 300*time.Millisecond, "oracle budget starts after the slot is acquired")
}

func TestVoteNormalizesLabel(t *testing.T) {
	svc, _ := newTestLabeler(&fakeOracle{}, nil)
	ctx := context.Background()

	res, err := svc.Vote(ctx, "s1", &dto.VoteRequest{Label: "caf\u00e9", Direction: "up"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Up)

	res, err = svc.Vote(ctx, "s1", &dto.VoteRequest{Label: "  cafe\u0301 ", Direction: "up"})
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", res.Label)
	assert.Equal(t, 2, res.Up)

	fb, err := svc.GetFeedback(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, fb.Counts, 1)
	assert.Equal(t, "caf\u00e9", fb.Counts[0].Label)

	_, err = svc.Vote(ctx, "s1", &dto.VoteRequest{Label: "   ", Direction: "up"})
	assert.ErrorIs(t, err, labels.ErrEmptyLabel)
}

func TestVoteAndFeedback(t *testing.T) {
	pub := &capturePublisher{}
	svc, _ := newTestLabeler(&fakeOracle{}, pub)
	ctx := context.Background()

	res, err := svc.Vote(ctx, "s1", &dto.VoteRequest{Label: "pizza", Direction: "up"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Up)

	res, err = svc.Vote(ctx, "s1", &dto.VoteRequest{Label: "pizza", Direction: "DOWN"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Up)
	assert.Equal(t, 1, res.Down)

	_, err = svc.Vote(ctx, "s1", &dto.VoteRequest{Label: "pizza", Direction: "sideways"})
	assert.Error(t, err)

	fb, err := svc.GetFeedback(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, fb.Counts, 1)
	assert.Equal(t, "pizza", fb.Counts[0].Label)

	other, err := svc.GetFeedback(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, other.Counts)

	assert.Equal(t, []string{events.TypeFeedbackVoted, events.TypeFeedbackVoted}, pub.Types())
}

func TestEndSessionDiscardsState(t *testing.T) {
	pub := &capturePublisher{}
	svc, repo := newTestLabeler(&fakeOracle{scores: foodScores()}, pub)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, "s1", &dto.AnalyzeRequest{Preset: "Food"}, &dto.ImageUpload{Data: pngBytes(t)})
	require.NoError(t, err)
	_, err = svc.Vote(ctx, "s1", &dto.VoteRequest{Label: "pizza", Direction: "up"})
	require.NoError(t, err)

	require.NoError(t, svc.EndSession(ctx, "s1"))
	_, ok := repo.Get("s1")
	assert.False(t, ok)
	assert.ErrorIs(t, svc.Export(ctx, "s1", &bytes.Buffer{}), ErrNoAnalysis)
	assert.Contains(t, pub.Types(), events.TypeSessionEnded)

	// Ending an unknown session is a no-op.
	assert.NoError(t, svc.EndSession(ctx, "missing"))
}

func TestExportRoundTripsFilteredScores(t *testing.T) {
	o := &fakeOracle{scores: map[string]float64{"dog": 0.62, "cat": 0.3100000001, "car": 0.05}}
	svc, _ := newTestLabeler(o, nil)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, "s1", &dto.AnalyzeRequest{Preset: labels.CustomMode, Labels: "dog,cat,car"}, &dto.ImageUpload{Data: pngBytes(t)})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, "s1", &buf))
	rows, err := export.ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, []oracle.Result{{Label: "dog", Score: 0.62}, {Label: "cat", Score: 0.3100000001}}, rows)
}

func TestGetPresetsListsCatalogAndCustom(t *testing.T) {
	svc, _ := newTestLabeler(&fakeOracle{}, nil)
	res := svc.GetPresets(context.Background())

	require.Len(t, res.Presets, 5)
	assert.Equal(t, "General", res.Presets[0].Name)
	assert.Equal(t, labels.CustomMode, res.Modes[len(res.Modes)-1])
	assert.Equal(t, results.DefaultThreshold, res.Threshold)
}

func TestInvalidThresholdFallsBackToDefault(t *testing.T) {
	repo := memory.NewSessionRepository(time.Hour)
	svc := NewLabelerService(&fakeOracle{}, repo, nil, nil, logger.NewNopLogger(), LabelerOptions{Threshold: 1.5})
	assert.Equal(t, results.DefaultThreshold, svc.GetPresets(context.Background()).Threshold)
}

func TestGetAuditLogsMapsEntries(t *testing.T) {
	repo := memory.NewSessionRepository(time.Hour)
	audit := &staticAudit{entries: []logger.LogEntry{{
		Id: "a1", Level: "info", Message: events.TypeFeedbackVoted,
		Details: map[string]interface{}{"label": "pizza"},
	}}}
	svc := NewLabelerService(&fakeOracle{}, repo, nil, audit, logger.NewNopLogger(), LabelerOptions{})

	got, err := svc.GetAuditLogs(context.Background(), "", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeFeedbackVoted, got[0].Event)
	assert.Equal(t, "pizza", got[0].Details["label"])
}

func TestPublishErrorsDoNotFailRequests(t *testing.T) {
	svc, _ := newTestLabeler(&fakeOracle{}, failingPublisher{})
	_, err := svc.Vote(context.Background(), "s1", &dto.VoteRequest{Label: "dog", Direction: "up"})
	assert.NoError(t, err)
}

type failingPublisher struct{}

func (failingPublisher) Publish(events.Event) error { return errors.New("bus down") }
