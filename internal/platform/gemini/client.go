package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/envutil"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

const providerName = "gemini"

type Config struct {
	APIKey string
	Model  string
}

func ConfigFromEnv() Config {
	return Config{
		APIKey: envutil.String("GEMINI_API_KEY", envutil.String("GOOGLE_API_KEY", "")),
		Model:  envutil.String("GEMINI_MODEL", "gemini-2.5-flash"),
	}
}

// Client produces JSON objects through the Gemini API. The SDK client is
// created lazily on first use so construction never performs I/O.
type Client struct {
	log   *logger.Logger
	cfg   Config
	mu    sync.Mutex
	genai *genai.Client
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	return &Client{log: log.With("service", "GeminiClient"), cfg: cfg}, nil
}

func (c *Client) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.genai != nil {
		return c.genai, nil
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  c.cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}
	c.genai = gc
	return gc, nil
}

// GenerateJSON mirrors the OpenAI client's signature. The schema is rendered
// into the system instruction and the response is forced to application/json.
func (c *Client) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	start := time.Now()
	gc, err := c.sdk(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	instruction, err := withSchema(system, schemaName, schema)
	if err != nil {
		return nil, err
	}
	resp, err := gc.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		observability.Current().ObserveGenerative(providerName, status, time.Since(start))
		c.log.Warn("gemini generate failed", "model", c.cfg.Model, "error", err)
		return nil, err
	}
	observability.Current().ObserveGenerative(providerName, "ok", time.Since(start))
	return parseObject(resp.Text())
}

func withSchema(system, schemaName string, schema map[string]any) (string, error) {
	if schema == nil {
		return system, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("encode schema: %w", err)
	}
	return fmt.Sprintf("%s\n\nRespond with a single JSON object named %q matching this JSON schema:\n%s", system, schemaName, raw), nil
}

func parseObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty gemini response")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return obj, nil
}
