package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carelink-health/platform/internal/shared/config"
	"github.com/carelink-health/platform/internal/shared/metrics"
)

// Client queries the per-catalog directory services. Each call is
// stateless; callers own debouncing and result ordering.
type Client struct {
	endpoints      map[Catalog]string
	minQueryLength int
	defaultPage    int
	httpClient     *http.Client
}

// NewClient creates a directory client from configuration
func NewClient(cfg config.DirectoryConfig) *Client {
	return &Client{
		endpoints: map[Catalog]string{
			CatalogPatient:      cfg.PatientURL,
			CatalogPractitioner: cfg.PractitionerURL,
			CatalogICD10:        cfg.ICD10URL,
			CatalogProcedure:    cfg.ProcedureURL,
			CatalogVisit:        cfg.VisitURL,
		},
		minQueryLength: cfg.MinQueryLength,
		defaultPage:    cfg.DefaultPageSize,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Search runs one catalog search. Queries shorter than the minimum
// length never reach the network; the result comes back with
// Dispatched=false and no items. Filter-only catalogs (VISIT) skip
// the length gate when filters are present.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*Result, error) {
	if !req.Catalog.IsValid() {
		return nil, &SearchError{Catalog: req.Catalog, Err: fmt.Errorf("unknown catalog")}
	}

	endpoint, ok := c.endpoints[req.Catalog]
	if !ok || endpoint == "" {
		return nil, &SearchError{Catalog: req.Catalog, Err: fmt.Errorf("no endpoint configured")}
	}

	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = c.defaultPage
	}

	query := strings.TrimSpace(req.Query)
	if len([]rune(query)) < c.minQueryLength && len(req.Filters) == 0 {
		metrics.RecordDirectorySearchSkipped(string(req.Catalog))
		return &Result{
			Catalog:    req.Catalog,
			Dispatched: false,
			Items:      []json.RawMessage{},
			Page:       req.Page,
			PageSize:   req.PageSize,
		}, nil
	}

	start := time.Now()
	items, err := c.dispatch(ctx, endpoint, upstreamRequest{
		Page:       req.Page,
		PageSize:   req.PageSize,
		SearchText: query,
		Filters:    req.Filters,
	})
	if err != nil {
		metrics.RecordDirectorySearch(string(req.Catalog), "error", time.Since(start))
		return nil, &SearchError{Catalog: req.Catalog, Err: err}
	}
	metrics.RecordDirectorySearch(string(req.Catalog), "ok", time.Since(start))

	return &Result{
		Catalog:    req.Catalog,
		Dispatched: true,
		Items:      items,
		Page:       req.Page,
		PageSize:   req.PageSize,
	}, nil
}

// dispatch posts the request and unwraps the response envelope
func (c *Client) dispatch(ctx context.Context, endpoint string, req upstreamRequest) ([]json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(snippet))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// The envelope flag, not the HTTP status, decides success
	if !env.IsSuccessfull {
		if env.ErrorMessage != "" {
			return nil, fmt.Errorf("%s", env.ErrorMessage)
		}
		return nil, fmt.Errorf("directory reported failure")
	}

	return decodeItems(env.DynamicResult)
}

// decodeItems normalizes dynamicResult into a list. An empty or null
// result is a valid empty list, never an error.
func decodeItems(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []json.RawMessage{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err == nil {
		return items, nil
	}

	// Some catalogs wrap the list: {"data": [...], "totalCount": n}
	var wrapped struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}

	return nil, fmt.Errorf("unexpected dynamicResult shape")
}
