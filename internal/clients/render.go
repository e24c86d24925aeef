package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RenderClient calls the external image-render service. Renders can
// take tens of seconds; callers bound the wait with ctx.
type RenderClient struct {
	base *BaseClient
}

func NewRenderClient(baseURL, apiKey string) *RenderClient {
	base := NewBaseClient(baseURL)
	if apiKey != "" {
		base.SetHeader("Authorization", "Bearer "+apiKey)
	}
	base.SetHeader("Content-Type", "application/json")
	base.SetTimeout(90 * time.Second)
	return &RenderClient{base: base}
}

type renderRequest struct {
	Prompt string `json:"prompt"`
}

type renderResponse struct {
	ImageURL string `json:"image_url"`
}

// Render submits a caption and returns the URL of the rendered image.
func (c *RenderClient) Render(ctx context.Context, caption string) (string, error) {
	body, err := json.Marshal(renderRequest{Prompt: caption})
	if err != nil {
		return "", fmt.Errorf("failed to marshal render request: %w", err)
	}

	respBody, err := c.base.Post(ctx, "/generate-image", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("render request failed: %w", err)
	}

	var resp renderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("malformed render response: %w", err)
	}
	if resp.ImageURL == "" {
		return "", fmt.Errorf("render response missing image_url")
	}

	return resp.ImageURL, nil
}
