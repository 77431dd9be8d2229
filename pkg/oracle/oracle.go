package oracle

import (
	"context"
	"errors"
	"image"
	"sort"
)

// DefaultModel is the zero-shot model used when none is configured.
const DefaultModel = "openai/clip-vit-base-patch16"

var (
	// ErrOracleUnavailable means the backend could not be reached or loaded.
	ErrOracleUnavailable = errors.New("classification oracle unavailable")
	// ErrOracleFailure means the backend was reached but the call failed.
	ErrOracleFailure = errors.New("classification oracle failed")
	// ErrEmptyLabelSet is returned when Classify is called without labels.
	ErrEmptyLabelSet = errors.New("classification requires at least one label")
)

// Image is an uploaded image that has already been decoded once.
type Image struct {
	Data     []byte
	MIMEType string
	Decoded  image.Image
	Width    int
	Height   int
}

// Result is a single (label, score) pair. Score lies in [0,1].
type Result struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Oracle scores every candidate label against an image.
// Implementations return exactly one Result per label, highest score first.
type Oracle interface {
	Classify(ctx context.Context, img *Image, labels []string) ([]Result, error)
	ModelID() string
}

// Closer is implemented by backends holding native resources.
type Closer interface {
	Close() error
}

// Validate performs the argument checks shared by all backends.
func Validate(img *Image, labels []string) error {
	if len(labels) == 0 {
		return ErrEmptyLabelSet
	}
	if img == nil || (len(img.Data) == 0 && img.Decoded == nil) {
		return errors.New("classification requires an image")
	}
	return nil
}

// Rank completes backend output into one Result per requested label and
// orders it by score, highest first. Labels the backend did not score get 0;
// duplicate labels share the backend score. Ties keep the backend order,
// then the requested order for unscored labels.
func Rank(labels []string, scored []Result) []Result {
	byLabel := make(map[string]float64, len(scored))
	position := make(map[string]int, len(scored))
	for i, r := range scored {
		if _, seen := byLabel[r.Label]; !seen {
			byLabel[r.Label] = r.Score
			position[r.Label] = i
		}
	}
	out := make([]Result, len(labels))
	rank := make([]int, len(labels))
	for i, l := range labels {
		out[i] = Result{Label: l, Score: clamp(byLabel[l])}
		if p, ok := position[l]; ok {
			rank[i] = p
		} else {
			rank[i] = len(scored) + i
		}
	}
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := out[idx[a]], out[idx[b]]
		if ra.Score != rb.Score {
			return ra.Score > rb.Score
		}
		return rank[idx[a]] < rank[idx[b]]
	})
	ranked := make([]Result, len(out))
	for i, j := range idx {
		ranked[i] = out[j]
	}
	return ranked
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
