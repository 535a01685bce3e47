package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/EvanCNavarro/disc-sub000/core/retry"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"
)

// ErrNoImageOutput marks a prediction that finished without any usable
// output URL. Always fatal: there is nothing to download.
var ErrNoImageOutput = errors.New("image generation produced no output")

const (
	resolveTimeout  = 15 * time.Second
	submitTimeout   = 30 * time.Second
	downloadTimeout = 60 * time.Second

	pollInterval = 2 * time.Second
	waitBudget   = 4 * time.Minute

	// 连续轮询失败超过该次数才放弃；偶发失败不重置整体等待预算
	maxConsecutivePollErrors = 3
)

// Client drives an async prediction API (Replicate-style three-phase
// protocol: resolve version, submit, poll).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates an image generation client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Generation is the outcome of a finished prediction.
type Generation struct {
	PredictionID string
	ImageURL     string
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// Generate runs the full protocol for one cover: resolve the model version
// (unless the style pins one), submit the prediction, then poll to a
// terminal state.
func (c *Client) Generate(ctx context.Context, style *model.Style, prompt string) (*Generation, error) {
	version := style.Version
	if version == "" {
		resolved, err := c.resolveVersion(ctx, style.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve model version: %w", err)
		}
		version = resolved
	}

	pred, err := c.submit(ctx, version, buildInput(style, prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to submit prediction: %w", err)
	}
	logger.Info("[ImageGen] 已提交生成任务",
		logger.String("predictionId", pred.ID),
		logger.String("model", style.Model),
		logger.String("status", pred.Status))

	if !isTerminal(pred.Status) {
		pred, err = c.poll(ctx, pred.ID)
		if err != nil {
			return nil, err
		}
	}

	if pred.Status != "succeeded" {
		return nil, fmt.Errorf("prediction %s ended with status %s: %s", pred.ID, pred.Status, string(pred.Error))
	}

	url, err := normalizeOutput(pred.Output)
	if err != nil {
		return nil, fmt.Errorf("prediction %s: %w", pred.ID, err)
	}
	return &Generation{PredictionID: pred.ID, ImageURL: url}, nil
}

// resolveVersion fetches the model's latest version id.
func (c *Client) resolveVersion(ctx context.Context, modelRef string) (string, error) {
	var version string
	err := retry.Do(ctx, retry.ImagePolicy, "imagegen.resolve", func() error {
		reqCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, "GET", c.baseURL+"/models/"+modelRef, nil)
		if err != nil {
			return fmt.Errorf("failed to create resolve request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("resolve request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return &retry.StatusError{Code: resp.StatusCode, Message: string(body)}
		}

		var result struct {
			LatestVersion struct {
				ID string `json:"id"`
			} `json:"latest_version"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode model response: %w", err)
		}
		if result.LatestVersion.ID == "" {
			return fmt.Errorf("model %s has no published version", modelRef)
		}
		version = result.LatestVersion.ID
		return nil
	})
	return version, err
}

// buildInput assembles the prediction input. The step-count parameter name
// depends on the model family.
func buildInput(style *model.Style, prompt string) map[string]any {
	input := map[string]any{
		"prompt":       prompt,
		"aspect_ratio": "1:1",
	}
	if style.Steps > 0 {
		if strings.Contains(style.Model, "flux") {
			input["num_inference_steps"] = style.Steps
		} else {
			input["steps"] = style.Steps
		}
	}
	if style.Guidance > 0 {
		input["guidance_scale"] = style.Guidance
	}
	if style.NegativePrompt != "" {
		input["negative_prompt"] = style.NegativePrompt
	}
	if style.LoRA != "" {
		input["lora_weights"] = style.LoRA
	}
	if style.Seed != nil {
		input["seed"] = *style.Seed
	}
	return input
}

// submit creates the prediction.
func (c *Client) submit(ctx context.Context, version string, input map[string]any) (*prediction, error) {
	payload, err := json.Marshal(map[string]any{
		"version": version,
		"input":   input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction payload: %w", err)
	}

	var pred *prediction
	err = retry.Do(ctx, retry.ImagePolicy, "imagegen.submit", func() error {
		reqCtx, cancel := context.WithTimeout(ctx, submitTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, "POST", c.baseURL+"/predictions", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create submit request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("submit request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return &retry.StatusError{Code: resp.StatusCode, Message: string(body)}
		}

		var p prediction
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return fmt.Errorf("failed to decode prediction response: %w", err)
		}
		pred = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pred, nil
}

// poll waits for the prediction to reach a terminal state. Up to
// maxConsecutivePollErrors are absorbed without resetting the wait budget,
// since polling is a long-running loop rather than a single request.
func (c *Client) poll(ctx context.Context, id string) (*prediction, error) {
	deadline := time.Now().Add(waitBudget)
	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling prediction %s: %w", id, ctx.Err())
		case <-time.After(pollInterval):
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("prediction %s did not finish within %s", id, waitBudget)
		}

		pred, err := c.fetchPrediction(ctx, id)
		if err != nil {
			consecutiveErrors++
			logger.Warn("[ImageGen] 轮询失败",
				logger.String("predictionId", id),
				logger.Int("consecutiveErrors", consecutiveErrors),
				logger.ErrorField(err))
			if consecutiveErrors > maxConsecutivePollErrors {
				return nil, fmt.Errorf("polling prediction %s failed %d times in a row: %w", id, consecutiveErrors, err)
			}
			continue
		}
		consecutiveErrors = 0

		if isTerminal(pred.Status) {
			return pred, nil
		}
	}
}

func (c *Client) fetchPrediction(ctx context.Context, id string) (*prediction, error) {
	reqCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &retry.StatusError{Code: resp.StatusCode, Message: string(body)}
	}

	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}
	return &p, nil
}

func isTerminal(status string) bool {
	return status == "succeeded" || status == "failed" || status == "canceled"
}

// normalizeOutput reduces the model-dependent output shape to one URL.
// Some model families return a single string, others an array of URLs.
func normalizeOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", ErrNoImageOutput
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return "", ErrNoImageOutput
		}
		return single, nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, url := range many {
			if url != "" {
				return url, nil
			}
		}
		return "", ErrNoImageOutput
	}

	return "", fmt.Errorf("%w: unrecognized output shape %s", ErrNoImageOutput, string(raw))
}

// Download fetches the generated image bytes.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{Code: resp.StatusCode, Message: "image download failed"}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("downloaded image is empty")
	}
	return data, nil
}
