package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultDecoyCount is the number of false captions mixed into each
// round's option set.
const DefaultDecoyCount = 3

// GenerationError signals that the decoy service returned malformed or
// unusable output. The orchestrator retries once before surfacing it as
// a round-start failure.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoy generation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decoy generation failed: %s", e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// DecoyClient calls the external caption-decoy generator.
type DecoyClient struct {
	base *BaseClient
}

func NewDecoyClient(baseURL, apiKey string) *DecoyClient {
	base := NewBaseClient(baseURL)
	if apiKey != "" {
		base.SetHeader("Authorization", "Bearer "+apiKey)
	}
	base.SetHeader("Content-Type", "application/json")
	base.SetTimeout(20 * time.Second)
	return &DecoyClient{base: base}
}

type decoyRequest struct {
	Prompt string `json:"prompt"`
	Count  int    `json:"count"`
}

type decoyResponse struct {
	Alternatives []string `json:"alternatives"`
}

// GenerateDecoys requests count plausible-but-wrong captions for the
// correct prompt. The result is validated: exactly count entries, each
// non-empty after trimming, pairwise distinct and distinct from the
// correct caption (case-insensitive). Anything else is a
// *GenerationError.
func (c *DecoyClient) GenerateDecoys(ctx context.Context, correct string, count int) ([]string, error) {
	if count <= 0 {
		count = DefaultDecoyCount
	}

	body, err := json.Marshal(decoyRequest{Prompt: correct, Count: count})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decoy request: %w", err)
	}

	respBody, err := c.base.Post(ctx, "/generate-false-answers", bytes.NewReader(body))
	if err != nil {
		return nil, &GenerationError{Reason: "upstream request failed", Err: err}
	}

	var resp decoyResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &GenerationError{Reason: "malformed upstream response", Err: err}
	}

	return validateDecoys(correct, count, resp.Alternatives)
}

// validateDecoys enforces the option-set invariants on upstream output.
func validateDecoys(correct string, count int, raw []string) ([]string, error) {
	if len(raw) < count {
		return nil, &GenerationError{Reason: fmt.Sprintf("expected %d decoys, got %d", count, len(raw))}
	}

	seen := map[string]bool{
		strings.ToLower(strings.TrimSpace(correct)): true,
	}
	decoys := make([]string, 0, count)
	for _, alt := range raw {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			return nil, &GenerationError{Reason: "empty decoy in upstream output"}
		}
		key := strings.ToLower(alt)
		if seen[key] {
			return nil, &GenerationError{Reason: fmt.Sprintf("duplicate decoy %q", alt)}
		}
		seen[key] = true
		decoys = append(decoys, alt)
		if len(decoys) == count {
			break
		}
	}

	if len(decoys) < count {
		return nil, &GenerationError{Reason: fmt.Sprintf("only %d usable decoys of %d required", len(decoys), count)}
	}
	return decoys, nil
}
