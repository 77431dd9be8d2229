package clip

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"image-labeler-be/pkg/oracle"
)

// Graph names of an optimum-exported CLIP model.
const (
	inputIDsName      = "input_ids"
	pixelValuesName   = "pixel_values"
	attentionMaskName = "attention_mask"
	logitsName        = "logits_per_image"
)

// Config points at the native runtime and model files.
type Config struct {
	SharedLibraryPath string
	ModelPath         string
	TokenizerPath     string
	ModelID           string
	PromptTemplate    string
}

var (
	envMu    sync.Mutex
	envUsers int
)

// Provider runs CLIP zero-shot classification in-process.
type Provider struct {
	cfg     Config
	encoder *LabelEncoder
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
}

// Ensure Provider implements Oracle
var _ oracle.Oracle = &Provider{}

// NewProvider initializes the ONNX runtime environment (once per process),
// loads the tokenizer and opens the model session.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("clip: model and tokenizer paths are required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = filepath.Base(filepath.Dir(cfg.ModelPath))
	}

	encoder, err := NewLabelEncoder(cfg.TokenizerPath, cfg.PromptTemplate)
	if err != nil {
		return nil, err
	}

	if err := acquireEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{inputIDsName, pixelValuesName, attentionMaskName},
		[]string{logitsName},
		nil,
	)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("clip: open session: %w", err)
	}

	return &Provider{cfg: cfg, encoder: encoder, session: session}, nil
}

func acquireEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envUsers == 0 && !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("clip: initialize onnxruntime: %w", err)
		}
	}
	envUsers++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	envUsers--
	if envUsers == 0 {
		_ = ort.DestroyEnvironment()
	}
}

func (p *Provider) ModelID() string {
	return p.cfg.ModelID
}

// Classify scores every label against the image with a softmax over the
// image-text similarity logits.
func (p *Provider) Classify(ctx context.Context, img *oracle.Image, labels []string) ([]oracle.Result, error) {
	if err := oracle.Validate(img, labels); err != nil {
		return nil, err
	}
	if img.Decoded == nil {
		return nil, fmt.Errorf("%w: image is not decoded", oracle.ErrOracleFailure)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", oracle.ErrOracleUnavailable, err)
	}

	batch, err := p.encoder.Encode(labels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oracle.ErrOracleFailure, err)
	}
	pixels := Preprocess(img.Decoded, ImageSize)

	logits, err := p.run(batch, pixels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oracle.ErrOracleFailure, err)
	}
	if len(logits) != len(labels) {
		return nil, fmt.Errorf("%w: model returned %d logits for %d labels", oracle.ErrOracleFailure, len(logits), len(labels))
	}

	probs := Softmax(logits)
	out := make([]oracle.Result, len(labels))
	for i, l := range labels {
		out[i] = oracle.Result{Label: l, Score: probs[i]}
	}
	return oracle.Rank(labels, out), nil
}

func (p *Provider) run(batch *TextBatch, pixels []float32) ([]float32, error) {
	ids, err := ort.NewTensor(ort.NewShape(int64(batch.Rows), int64(batch.Width)), batch.IDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer ids.Destroy()

	mask, err := ort.NewTensor(ort.NewShape(int64(batch.Rows), int64(batch.Width)), batch.Mask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer mask.Destroy()

	pix, err := ort.NewTensor(ort.NewShape(1, 3, ImageSize, ImageSize), pixels)
	if err != nil {
		return nil, fmt.Errorf("pixel_values tensor: %w", err)
	}
	defer pix.Destroy()

	logits, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(batch.Rows)))
	if err != nil {
		return nil, fmt.Errorf("logits tensor: %w", err)
	}
	defer logits.Destroy()

	p.mu.Lock()
	err = p.session.Run([]ort.Value{ids, pix, mask}, []ort.Value{logits})
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	out := make([]float32, batch.Rows)
	copy(out, logits.GetData())
	return out, nil
}

// Close releases the session and, for the last provider, the runtime.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Destroy()
	p.session = nil
	releaseEnvironment()
	return err
}
