// Package openai is a narrow Responses API client: one call that returns a
// JSON object constrained by a schema. The repair proposer uses it for
// generative field mapping.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/envutil"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/httpx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com"
	responsesPath  = "/v1/responses"
	// Upper bound for a single Retry-After wait.
	maxRetryWait = 10 * time.Second
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	Temperature *float64
}

func ConfigFromEnv() Config {
	temp := envutil.Float("OPENAI_TEMPERATURE", 0)
	return Config{
		BaseURL:     envutil.String("OPENAI_BASE_URL", defaultBaseURL),
		APIKey:      envutil.String("OPENAI_API_KEY", ""),
		Model:       envutil.String("OPENAI_MODEL", "gpt-4.1-mini"),
		Timeout:     envutil.Seconds("OPENAI_TIMEOUT_SECONDS", 60*time.Second),
		MaxRetries:  envutil.Int("OPENAI_MAX_RETRIES", 2),
		Temperature: &temp,
	}
}

type Client interface {
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
}

type client struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing OPENAI_API_KEY")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.MaxRetries = max(cfg.MaxRetries, 0)
	return &client{
		log:     log.With("service", "OpenAIClient"),
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// statusError is a non-2xx reply. It satisfies httpx.HTTPStatusCoder so the
// retry policy can classify it.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string       { return fmt.Sprintf("openai http %d: %s", e.code, e.body) }
func (e *statusError) HTTPStatusCode() int { return e.code }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model string    `json:"model"`
	Input []message `json:"input"`
	Text  struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type outputItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
}

type responsesResponse struct {
	Output  []outputItem `json:"output"`
	Refusal string       `json:"refusal,omitempty"`
}

// text concatenates the assistant's output_text parts.
func (r *responsesResponse) text() string {
	var b strings.Builder
	for _, item := range r.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}

// GenerateJSON asks the Responses API for an object conforming to schema.
func (c *client) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	switch {
	case schemaName == "":
		return nil, errors.New("schemaName required")
	case schema == nil:
		return nil, errors.New("schema required")
	}
	req := responsesRequest{
		Model:       c.cfg.Model,
		Input:       []message{{Role: "system", Content: system}, {Role: "user", Content: user}},
		Temperature: c.cfg.Temperature,
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}
	payload, err := json.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	start := time.Now()
	raw, err := c.postWithRetry(ctx, responsesPath, payload)
	observability.Current().ObserveGenerative(providerName, outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	var resp responsesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("openai decode error: %w", err)
	}
	if resp.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", resp.Refusal)
	}
	text := strings.TrimSpace(resp.text())
	if text == "" {
		return nil, errors.New("no output_text found in response")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return obj, nil
}

func (c *client) postWithRetry(ctx context.Context, path string, payload []byte) ([]byte, error) {
	wait := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		raw, resp, err := c.post(ctx, path, payload)
		if err == nil {
			return raw, nil
		}
		if attempt >= c.cfg.MaxRetries || !httpx.IsRetryableError(err) || ctx.Err() != nil {
			return nil, err
		}
		sleep := httpx.JitterSleep(httpx.RetryAfterDuration(resp, wait, maxRetryWait))
		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleep.String(),
			"error", err.Error(),
		)
		if err := httpx.SleepContext(ctx, sleep); err != nil {
			return nil, err
		}
		wait *= 2
	}
}

// post performs one attempt. The response is returned alongside a status
// error so Retry-After can be honoured.
func (c *client) post(ctx context.Context, path string, payload []byte) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, resp, &statusError{code: resp.StatusCode, body: string(raw)}
	}
	return raw, resp, nil
}

func outcome(err error) string {
	var se *statusError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &se):
		return strconv.Itoa(se.code)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
