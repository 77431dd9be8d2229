package dto

import (
	"time"

	"image-labeler-be/pkg/feedback"
)

type PresetDTO struct {
	Name   string   `json:"name"`
	Raw    string   `json:"raw"`
	Labels []string `json:"labels"`
}

type GetPresetsResponse struct {
	Presets   []PresetDTO `json:"presets"`
	Modes     []string    `json:"modes"`
	Threshold float64     `json:"threshold"`
	Formats   []string    `json:"formats"`
}

// AnalyzeRequest carries the multipart form fields next to the image file.
type AnalyzeRequest struct {
	Preset string `form:"preset" json:"preset" validate:"required"`
	Labels string `form:"labels" json:"labels" validate:"max=4096"`
}

// ImageUpload is the raw uploaded file.
type ImageUpload struct {
	Filename string
	Data     []byte
}

type MatchDTO struct {
	Label    string           `json:"label"`
	Score    float64          `json:"score"`
	Tag      string           `json:"tag"`
	Feedback feedback.Counter `json:"feedback"`
}

type ImageInfoDTO struct {
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Bytes    int    `json:"bytes"`
}

type AnalyzeResponse struct {
	SessionId  string       `json:"session_id"`
	Mode       string       `json:"mode"`
	Labels     []string     `json:"labels"`
	Outcome    string       `json:"outcome"` // "MATCHED" | "NO_CONFIDENT_MATCH"
	Message    string       `json:"message"`
	Matches    []MatchDTO   `json:"matches"`
	Threshold  float64      `json:"threshold"`
	ModelId    string       `json:"model_id"`
	Image      ImageInfoDTO `json:"image"`
	DurationMs int64        `json:"duration_ms"`
	AnalyzedAt time.Time    `json:"analyzed_at"`
}

type VoteRequest struct {
	Label     string `json:"label" form:"label" validate:"required,max=256"`
	Direction string `json:"direction" form:"direction" validate:"required"`
}

type VoteResponse struct {
	Label string `json:"label"`
	Up    int    `json:"up"`
	Down  int    `json:"down"`
}

type GetFeedbackResponse struct {
	SessionId string                `json:"session_id"`
	Counts    []feedback.LabelCount `json:"counts"`
}

type AuditEntryDTO struct {
	Id        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Details   map[string]interface{} `json:"details,omitempty"`
}
