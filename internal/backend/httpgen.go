package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPGenerator talks to the inference sidecar that owns the actual diffusion
// pipelines. The sidecar exposes one endpoint per operation; image bytes come
// back raw in the response body.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGenerator creates a generator client. timeout bounds the full
// inference call and should allow for tens of seconds per image.
func NewHTTPGenerator(baseURL string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	DeviceID       string  `json:"device_id"`
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Seed           int64   `json:"seed,omitempty"`
}

type pipelineRequest struct {
	DeviceID string `json:"device_id"`
	Model    string `json:"model"`
}

// Generate runs one inference call. This is the only long-blocking step in
// the whole scheduler; the context carries cancellation from shutdown.
func (g *HTTPGenerator) Generate(ctx context.Context, params GenerateParams) ([]byte, error) {
	body, err := json.Marshal(generateRequest{
		DeviceID:       params.DeviceID,
		Model:          string(params.Variant),
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Steps:          params.Steps,
		GuidanceScale:  params.GuidanceScale,
		Width:          params.Width,
		Height:         params.Height,
		Seed:           params.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	resp, err := g.post(ctx, "/v1/generate", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, msg)
	}

	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image bytes: %w", err)
	}
	return img, nil
}

// LoadPipeline asks the sidecar to load a model variant onto a device.
func (g *HTTPGenerator) LoadPipeline(ctx context.Context, deviceID string, variant Variant) error {
	return g.pipelineOp(ctx, "/v1/pipelines/load", deviceID, variant)
}

// UnloadPipeline asks the sidecar to drop a model variant from a device.
func (g *HTTPGenerator) UnloadPipeline(ctx context.Context, deviceID string, variant Variant) error {
	return g.pipelineOp(ctx, "/v1/pipelines/unload", deviceID, variant)
}

func (g *HTTPGenerator) pipelineOp(ctx context.Context, path, deviceID string, variant Variant) error {
	body, err := json.Marshal(pipelineRequest{DeviceID: deviceID, Model: string(variant)})
	if err != nil {
		return fmt.Errorf("marshal pipeline request: %w", err)
	}

	resp, err := g.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func (g *HTTPGenerator) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request %s: %w", path, err)
	}
	return resp, nil
}
