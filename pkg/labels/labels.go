package labels

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CustomMode selects free-form label entry instead of a preset.
const CustomMode = "Custom"

var (
	ErrUnknownPreset = errors.New("unknown preset")
	ErrEmptyLabelSet = errors.New("no candidate labels")
	ErrEmptyLabel    = errors.New("label must not be empty")
)

// Preset is a named, compiled-in shortcut for a set of candidate labels.
type Preset struct {
	Name   string `json:"name"`
	Labels string `json:"labels"`
}

// catalog keeps the order presented in the UI.
var catalog = []Preset{
	{Name: "General", Labels: "dog, cat, person, car, food, animal, smile, phone, computer"},
	{Name: "Nature", Labels: "tree, sky, flower, animal, plant, leaf, mountain, sunset"},
	{Name: "Food", Labels: "pizza, cake, salad, burger, fruit, coffee, bread, juice"},
	{Name: "Tech", Labels: "phone, computer, laptop, code, screen, device, robot"},
	{Name: "Fashion", Labels: "dress, shoe, bag, model, glasses, jewelry, style"},
}

// Presets returns a copy of the preset catalog.
func Presets() []Preset {
	out := make([]Preset, len(catalog))
	copy(out, catalog)
	return out
}

// Modes lists every selectable mode: the preset names followed by CustomMode.
func Modes() []string {
	modes := make([]string, 0, len(catalog)+1)
	for _, p := range catalog {
		modes = append(modes, p.Name)
	}
	return append(modes, CustomMode)
}

// Lookup returns the raw comma-separated labels of a preset.
func Lookup(name string) (string, bool) {
	for _, p := range catalog {
		if p.Name == name {
			return p.Labels, true
		}
	}
	return "", false
}

// Build resolves the candidate label set for a mode. custom is only read
// when mode is CustomMode. An empty result is not an error here; callers
// that need labels should check with Require.
func Build(mode, custom string) ([]string, error) {
	if mode == CustomMode {
		return Split(custom), nil
	}
	raw, ok := Lookup(mode)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, mode)
	}
	return Split(raw), nil
}

// Split breaks raw on commas, trims each piece and drops empty ones.
// Order is preserved and duplicates are kept.
func Split(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = Normalize(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Normalize puts a single label in NFC form without surrounding space, so
// the same text typed or voted twice lands on the same key.
func Normalize(label string) string {
	return strings.TrimSpace(norm.NFC.String(label))
}

// Require returns ErrEmptyLabelSet for an empty set.
func Require(set []string) error {
	if len(set) == 0 {
		return ErrEmptyLabelSet
	}
	return nil
}
