package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/carelink-health/platform/internal/shared/config"
	"github.com/carelink-health/platform/internal/workflow/domain"
)

// Client posts workflow snapshots to the payer gateway's eligibility
// and prior-auth endpoints
type Client struct {
	eligibilityURL string
	priorAuthURL   string
	httpClient     *http.Client
}

// NewClient creates a submission client from configuration
func NewClient(cfg config.SubmissionConfig) *Client {
	return &Client{
		eligibilityURL: cfg.EligibilityURL,
		priorAuthURL:   cfg.PriorAuthURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// VerifyEligibility posts the snapshot for eligibility verification.
// An unsuccessful envelope comes back as *ValidationError carrying
// the upstream message; transport failures come back undecorated so
// the caller shows its generic message instead of raw error text.
func (c *Client) VerifyEligibility(ctx context.Context, snapshot domain.Snapshot) (*Outcome, error) {
	outcome, errMessage, err := c.post(ctx, c.eligibilityURL, snapshot)
	if err != nil {
		return nil, err
	}
	if errMessage != "" {
		return nil, &ValidationError{Message: errMessage}
	}
	return outcome, nil
}

// SubmitPriorAuth posts the snapshot as a prior-authorization request.
// An unsuccessful envelope comes back as *SubmissionError carrying
// the upstream message; transport failures come back undecorated.
func (c *Client) SubmitPriorAuth(ctx context.Context, snapshot domain.Snapshot) (*Outcome, error) {
	outcome, errMessage, err := c.post(ctx, c.priorAuthURL, snapshot)
	if err != nil {
		return nil, err
	}
	if errMessage != "" {
		return nil, &SubmissionError{Message: errMessage}
	}
	return outcome, nil
}

// post sends the snapshot and unwraps the response envelope. The
// returned errMessage is non-empty when the envelope flag is false.
func (c *Client) post(ctx context.Context, url string, snapshot domain.Snapshot) (*Outcome, string, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(snippet))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, "", fmt.Errorf("failed to decode response: %w", err)
	}

	// The envelope flag, not the HTTP status, decides the outcome
	if !env.IsSuccessfull {
		if env.ErrorMessage != "" {
			return nil, env.ErrorMessage, nil
		}
		return nil, "the request could not be processed", nil
	}

	outcome := &Outcome{}
	if len(env.DynamicResult) > 0 {
		// Best effort: the result payload is informational
		_ = json.Unmarshal(env.DynamicResult, outcome)
	}

	return outcome, "", nil
}
