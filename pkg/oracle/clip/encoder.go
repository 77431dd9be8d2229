package clip

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// DefaultPromptTemplate wraps each label before tokenization; "{}" is
// replaced by the label.
const DefaultPromptTemplate = "This is a photo of {}."

// maxTextLen is CLIP's fixed context length.
const maxTextLen = 77

// TextBatch is a padded batch of token ids ready for the text tower.
type TextBatch struct {
	IDs   []int64
	Mask  []int64
	Rows  int
	Width int
}

// LabelEncoder turns candidate labels into CLIP token ids.
type LabelEncoder struct {
	tk       *tokenizer.Tokenizer
	template string
	padID    int64
}

// NewLabelEncoder loads a HuggingFace tokenizer.json.
func NewLabelEncoder(tokenizerPath, template string) (*LabelEncoder, error) {
	tk, err := pretrained.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	if template == "" {
		template = DefaultPromptTemplate
	}
	enc := &LabelEncoder{tk: tk, template: template}
	if id, ok := tk.TokenToId("<|endoftext|>"); ok {
		enc.padID = int64(id)
	}
	return enc, nil
}

// Prompt renders the text fed to the model for a label.
func (e *LabelEncoder) Prompt(label string) string {
	return strings.ReplaceAll(e.template, "{}", label)
}

// Encode tokenizes every label and pads to the longest sequence.
func (e *LabelEncoder) Encode(labels []string) (*TextBatch, error) {
	if len(labels) == 0 {
		return nil, errors.New("no labels to encode")
	}
	rows := make([][]int, len(labels))
	width := 0
	for i, l := range labels {
		en, err := e.tk.EncodeSingle(e.Prompt(l), true)
		if err != nil {
			return nil, fmt.Errorf("tokenize %q: %w", l, err)
		}
		ids := en.Ids
		if len(ids) > maxTextLen {
			ids = ids[:maxTextLen]
		}
		rows[i] = ids
		if len(ids) > width {
			width = len(ids)
		}
	}
	return pad(rows, width, e.padID), nil
}

func pad(rows [][]int, width int, padID int64) *TextBatch {
	b := &TextBatch{
		IDs:   make([]int64, len(rows)*width),
		Mask:  make([]int64, len(rows)*width),
		Rows:  len(rows),
		Width: width,
	}
	for r, ids := range rows {
		for c := 0; c < width; c++ {
			i := r*width + c
			if c < len(ids) {
				b.IDs[i] = int64(ids[c])
				b.Mask[i] = 1
			} else {
				b.IDs[i] = padID
			}
		}
	}
	return b
}
