package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

type RetryConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Jitter            time.Duration
	RetryableStatuses []int
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retry   RetryConfig
}

type Client struct {
	baseURL string
	token   string
	retry   RetryConfig
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = 3
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 500 * time.Millisecond
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 8 * time.Second
	}
	if len(retry.RetryableStatuses) == 0 {
		retry.RetryableStatuses = []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}
	}
	return &Client{
		baseURL: baseURL,
		token:   cfg.Token,
		retry:   retry,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Similarity asks a sentence-similarity model for the cosine similarity of
// source against each candidate sentence.
func (c *Client) Similarity(ctx context.Context, model, source string, sentences []string) ([]float64, error) {
	body, err := c.call(ctx, model, SimilarityRequest{
		Inputs: SimilarityInputs{SourceSentence: source, Sentences: sentences},
	})
	if err != nil {
		return nil, err
	}
	var scores []float64
	if err := json.Unmarshal(body, &scores); err != nil {
		return nil, &ModelUnavailableError{Model: model, Attempts: 1, Err: fmt.Errorf("decode similarity response: %w", err)}
	}
	return scores, nil
}

// ClassifyPair runs a text-pair classification model on (text, textPair) and
// returns the raw label/score list.
func (c *Client) ClassifyPair(ctx context.Context, model, text, textPair string) ([]LabelScore, error) {
	body, err := c.call(ctx, model, ClassificationRequest{
		Inputs: PairInputs{Text: text, TextPair: textPair},
	})
	if err != nil {
		return nil, err
	}
	entries, err := parseLabelScores(body)
	if err != nil {
		return nil, &ModelUnavailableError{Model: model, Attempts: 1, Err: fmt.Errorf("decode classification response: %w", err)}
	}
	return entries, nil
}

// call POSTs the payload to the model endpoint with bounded retry. Retryable
// statuses and transport errors back off exponentially with jitter; any
// other failure stops immediately. The terminal error is always a
// *ModelUnavailableError wrapping the last cause.
func (c *Client) call(ctx context.Context, model string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleepBackoff(ctx, attempt-1); err != nil {
				break
			}
		}
		attempts++
		body, retryable, err := c.doOnce(ctx, model, data)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, &ModelUnavailableError{Model: model, Attempts: attempts, Err: lastErr}
}

func (c *Client) doOnce(ctx context.Context, model string, payload []byte) (body []byte, retryable bool, err error) {
	url := c.baseURL + "/models/" + model
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.client.Do(request)
	if err != nil {
		// Transport errors are retryable unless the caller is gone.
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("http request failed: %w", err)
	}
	defer response.Body.Close()

	bodyBytes, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return nil, true, fmt.Errorf("read response body: %w", readErr)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return bodyBytes, false, nil
	}

	apiErr := &APIError{StatusCode: response.StatusCode, Body: bodyBytes}
	if envelope, ok := ParseAPIErrorEnvelope(bodyBytes); ok {
		apiErr.Envelope = envelope
	}
	return nil, c.isRetryableStatus(response.StatusCode), apiErr
}

func (c *Client) isRetryableStatus(status int) bool {
	for _, candidate := range c.retry.RetryableStatuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := c.retry.BaseDelay << uint(attempt)
	if delay > c.retry.MaxDelay || delay <= 0 {
		delay = c.retry.MaxDelay
	}
	if c.retry.Jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(c.retry.Jitter)))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func IsModelUnavailable(err error) (*ModelUnavailableError, bool) {
	var unavailable *ModelUnavailableError
	if errors.As(err, &unavailable) {
		return unavailable, true
	}
	return nil, false
}

func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
