package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/harmonizeiq/backend/internal/domain"
	"github.com/harmonizeiq/backend/internal/platform/logger"
)

const (
	maxAttempts    = 3
	retryBaseDelay = 500 * time.Millisecond
)

// Client handles communication with the NLP sidecar that computes embeddings
// and normalizes retailer descriptions.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *rate.Limiter
	log         *logger.Logger
}

// ClientConfig holds configuration for the NLP client
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// NewClient creates a new NLP service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 10
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:     config.BaseURL,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:         log.With("component", "nlp_client"),
	}
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

type embedBatchRequest struct {
	Texts []string `json:"texts"`
}

type embedBatchResponse struct {
	Count      int         `json:"count"`
	Embeddings [][]float32 `json:"embeddings"`
}

type normalizeRequest struct {
	Text         string `json:"text"`
	RetailerHint string `json:"retailer_hint,omitempty"`
}

type normalizeBatchRequest struct {
	Items []normalizeRequest `json:"items"`
}

type normalizeResponse struct {
	Original         string   `json:"original"`
	Normalized       string   `json:"normalized"`
	Brand            string   `json:"brand"`
	BrandConfidence  float64  `json:"brand_confidence"`
	SizeValue        *float64 `json:"size_value"`
	SizeUnit         string   `json:"size_unit"`
	SizeNormalizedML *float64 `json:"size_normalized_ml"`
	CategoryHint     string   `json:"category_hint"`
	TokensExpanded   int      `json:"tokens_expanded"`
}

type normalizeBatchResponse struct {
	Results []normalizeResponse `json:"results"`
}

// Embed generates an embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	if err := c.post(ctx, "/embed", embedRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", domain.ErrGatewayUnavailable)
	}
	return resp.Embedding, nil
}

// EmbedBatch generates embeddings for multiple texts in one call. The result
// is order-preserving and has the same length as the input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp embedBatchResponse
	if err := c.post(ctx, "/embed/batch", embedBatchRequest{Texts: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d",
			domain.ErrGatewayUnavailable, len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}

// Normalize cleans one description and extracts brand/size hints.
func (c *Client) Normalize(ctx context.Context, input domain.NormalizeInput) (*domain.NormalizedText, error) {
	var resp normalizeResponse
	req := normalizeRequest{Text: input.Text, RetailerHint: input.RetailerHint}
	if err := c.post(ctx, "/normalize", req, &resp); err != nil {
		return nil, err
	}
	out := toNormalizedText(resp)
	return &out, nil
}

// NormalizeBatch normalizes multiple descriptions in one call; the result is
// order-preserving and has the same length as the input.
func (c *Client) NormalizeBatch(ctx context.Context, inputs []domain.NormalizeInput) ([]domain.NormalizedText, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	req := normalizeBatchRequest{Items: make([]normalizeRequest, len(inputs))}
	for i, in := range inputs {
		req.Items[i] = normalizeRequest{Text: in.Text, RetailerHint: in.RetailerHint}
	}
	var resp normalizeBatchResponse
	if err := c.post(ctx, "/normalize/batch", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(inputs) {
		return nil, fmt.Errorf("%w: expected %d normalizations, got %d",
			domain.ErrGatewayUnavailable, len(inputs), len(resp.Results))
	}
	out := make([]domain.NormalizedText, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = toNormalizedText(r)
	}
	return out, nil
}

// HealthCheck reports whether the NLP service is reachable and ready.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// post executes a JSON POST with rate limiting and bounded retry for
// transient failures.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Warn("gateway request failed", "path", path, "attempt", attempt, "error", err)
			lastErr = fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
			if !sleepBackoff(ctx, attempt) {
				break
			}
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			c.log.Warn("gateway error response", "path", path, "attempt", attempt, "status", resp.StatusCode)
			lastErr = fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
			// Client errors won't improve with retries
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return lastErr
			}
			if !sleepBackoff(ctx, attempt) {
				break
			}
			continue
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: undecodable response: %v", domain.ErrGatewayUnavailable, err)
		}
		return nil
	}

	return lastErr
}

// sleepBackoff waits attempt*base before the next try. Returns false when the
// context was cancelled during the wait.
func sleepBackoff(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(time.Duration(attempt) * retryBaseDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func toNormalizedText(r normalizeResponse) domain.NormalizedText {
	return domain.NormalizedText{
		Original:         r.Original,
		Normalized:       r.Normalized,
		Brand:            r.Brand,
		BrandConfidence:  r.BrandConfidence,
		SizeValue:        r.SizeValue,
		SizeUnit:         r.SizeUnit,
		SizeNormalizedML: r.SizeNormalizedML,
		CategoryHint:     r.CategoryHint,
		TokensExpanded:   r.TokensExpanded,
	}
}
