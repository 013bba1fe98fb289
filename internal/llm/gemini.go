package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrMissingKey means no credential is configured at all.
	ErrMissingKey = errors.New("gemini api key missing")
	// ErrQuotaExceeded maps HTTP 429 from the generation endpoint.
	ErrQuotaExceeded = errors.New("gemini quota exceeded")
	// ErrInvalidKey maps HTTP 401/403 from the generation endpoint.
	ErrInvalidKey = errors.New("gemini api key invalid")
)

// StatusError is any other non-2xx response. The gateway retries these with
// backoff; transport errors are not wrapped in it and fail immediately.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini error: status=%d body=%s", e.Code, e.Body)
}

// KeyStatus is the outcome of a credential validation probe.
type KeyStatus string

const (
	KeyValid     KeyStatus = "valid"
	KeyInvalid   KeyStatus = "invalid"
	KeyExhausted KeyStatus = "exhausted"
	KeyUnknown   KeyStatus = "unknown"
)

// Client is a minimal interface to generate a single response for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerationParams mirror the endpoint's generationConfig body.
type GenerationParams struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig GenerationParams `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// GeminiClient calls the hosted generateContent endpoint. The credential is a
// single mutable value: seeded from configuration, replaceable at runtime via
// SetKey after a successful validation probe.
type GeminiClient struct {
	HTTPClient *http.Client
	BaseURL    string
	Model      string
	Params     GenerationParams

	mu     sync.RWMutex
	apiKey string
}

func NewGeminiClient(apiKey, model, baseURL string) *GeminiClient {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return &GeminiClient{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      model,
		Params:     GenerationParams{Temperature: 0.7, MaxOutputTokens: 256, TopK: 40, TopP: 0.95},
		apiKey:     apiKey,
	}
}

// SetKey commits a credential for subsequent requests.
func (c *GeminiClient) SetKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

// HasKey reports whether any credential is configured.
func (c *GeminiClient) HasKey() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

// Generate produces one line of text for the prompt.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key == "" {
		return "", ErrMissingKey
	}
	return c.generateWithKey(ctx, key, prompt, c.Params)
}

// ValidateKey probes the endpoint with a candidate credential without
// committing it. Callers commit via SetKey on KeyValid.
func (c *GeminiClient) ValidateKey(ctx context.Context, key string) KeyStatus {
	if strings.TrimSpace(key) == "" {
		return KeyInvalid
	}
	probe := GenerationParams{Temperature: 0, MaxOutputTokens: 8, TopK: 1, TopP: 1}
	_, err := c.generateWithKey(ctx, key, "Hello", probe)
	switch {
	case err == nil:
		return KeyValid
	case errors.Is(err, ErrInvalidKey):
		return KeyInvalid
	case errors.Is(err, ErrQuotaExceeded):
		return KeyExhausted
	default:
		return KeyUnknown
	}
}

func (c *GeminiClient) generateWithKey(ctx context.Context, key, prompt string, params GenerationParams) (string, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.BaseURL, c.Model, key)

	body, _ := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: params,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return "", fmt.Errorf("%w: %s", ErrQuotaExceeded, string(b))
		case http.StatusUnauthorized, http.StatusForbidden:
			return "", fmt.Errorf("%w: %s", ErrInvalidKey, string(b))
		default:
			return "", &StatusError{Code: resp.StatusCode, Body: string(b)}
		}
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("gemini decode: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini: empty candidates")
	}
	return strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text), nil
}
