package huggingface

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"image-labeler-be/pkg/oracle"
)

// DefaultBaseURL is the serverless inference router.
const DefaultBaseURL = "https://router.huggingface.co/hf-inference/models"

type HuggingFaceProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// Ensure HuggingFaceProvider implements Oracle
var _ oracle.Oracle = &HuggingFaceProvider{}

// Request payload for the zero-shot-image-classification task
type classifyRequest struct {
	Inputs     string           `json:"inputs"`
	Parameters classifyParams   `json:"parameters"`
	Options    *classifyOptions `json:"options,omitempty"`
}

type classifyParams struct {
	CandidateLabels []string `json:"candidate_labels"`
}

type classifyOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type apiError struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

func NewHuggingFaceProvider(apiKey, baseURL, model string, timeout time.Duration) *HuggingFaceProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = oracle.DefaultModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HuggingFaceProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HuggingFaceProvider) ModelID() string {
	return p.model
}

// Classify sends the image and labels to the hosted pipeline.
func (p *HuggingFaceProvider) Classify(ctx context.Context, img *oracle.Image, labels []string) ([]oracle.Result, error) {
	if err := oracle.Validate(img, labels); err != nil {
		return nil, err
	}
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: image has no encoded bytes", oracle.ErrOracleFailure)
	}

	reqBody := classifyRequest{
		Inputs:     base64.StdEncoding.EncodeToString(img.Data),
		Parameters: classifyParams{CandidateLabels: labels},
		Options:    &classifyOptions{WaitForModel: true},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s", p.baseURL, p.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", oracle.ErrOracleUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: request failed: %v", oracle.ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", oracle.ErrOracleFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, bodyBytes)
	}

	var scored []oracle.Result
	if err := json.Unmarshal(bodyBytes, &scored); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", oracle.ErrOracleFailure, err)
	}
	if len(scored) == 0 {
		return nil, fmt.Errorf("%w: empty result from huggingface api", oracle.ErrOracleFailure)
	}

	return oracle.Rank(labels, scored), nil
}

func statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	switch {
	case status == http.StatusServiceUnavailable,
		status == http.StatusTooManyRequests,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound:
		return fmt.Errorf("%w: huggingface api error (status %d): %s", oracle.ErrOracleUnavailable, status, msg)
	default:
		return fmt.Errorf("%w: huggingface api error (status %d): %s", oracle.ErrOracleFailure, status, msg)
	}
}
