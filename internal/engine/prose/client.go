// Package prose implements the layout-aware extraction engine backed by a
// vision-language model behind a chat-completions API.
package prose

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/engine"
	"github.com/spherical/doc-ingest/internal/observability"
)

const (
	defaultBaseURL     = "https://api.mistral.ai/v1"
	defaultModel       = "pixtral-12b-2409"
	defaultMaxTokens   = 4000
	defaultTemperature = 0.1
	defaultTimeout     = 60 * time.Second

	// Method identifies text produced by this engine.
	Method = "vlm_ocr"
)

const transcribePrompt = `Transcribe all text on this page in natural reading order.
Preserve headings, lists and tables as Markdown. Output only the transcription.`

// Config configures the client.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // HTTP client timeout per attempt
	RateLimit   float64       // requests per second, 0 disables pacing
	Burst       int
	Retry       engine.RetryConfig
}

// Client handles communication with the chat-completions API
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *observability.Logger
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Request represents the API request structure
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant message of a choice
type ChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewClient creates a new client, filling unset fields with defaults
func NewClient(cfg Config, logger *observability.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry == (engine.RetryConfig{}) {
		cfg.Retry = engine.DefaultRetryConfig()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    engine.NewLimiter(cfg.RateLimit, cfg.Burst),
		logger:     logger.WithComponent("prose-engine"),
	}
}

// Name implements domain.Engine
func (c *Client) Name() string {
	return "prose:" + c.cfg.Model
}

// Extract transcribes one page image
func (c *Client) Extract(ctx context.Context, page domain.PageImage) (domain.Extraction, error) {
	if len(page.JPEG) == 0 {
		return domain.Extraction{}, domain.ValidationError(fmt.Sprintf("page %d has no image data", page.Number), nil)
	}

	body, err := json.Marshal(c.buildRequest(page.JPEG))
	if err != nil {
		return domain.Extraction{}, domain.APIError("Failed to marshal request", err)
	}

	var parsed Response
	err = engine.Retry(ctx, c.cfg.Retry, c.logger, func(ctx context.Context) error {
		if err := engine.Pace(ctx, c.limiter); err != nil {
			return err
		}
		return c.send(ctx, body, &parsed)
	})
	if err != nil {
		return domain.Extraction{}, domain.APIError("Failed to send request", err)
	}

	return toExtraction(parsed)
}

func (c *Client) buildRequest(jpegData []byte) *Request {
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)

	return &Request{
		Model: c.cfg.Model,
		Messages: []Message{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: transcribePrompt},
				{Type: "image_url", ImageURL: imageURL},
			},
		}},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
}

func (c *Client) send(ctx context.Context, body []byte, out *Response) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &engine.StatusError{Code: resp.StatusCode, Body: truncate(string(data), 300)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}

func toExtraction(resp Response) (domain.Extraction, error) {
	if len(resp.Choices) == 0 {
		return domain.Extraction{}, domain.APIError("response has no choices", nil)
	}

	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)

	return domain.Extraction{
		Success:    true,
		Text:       text,
		Confidence: confidence(text, choice.FinishReason),
		Method:     Method,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// confidence is a heuristic: the API exposes no per-token scores.
func confidence(text, finishReason string) float64 {
	switch {
	case text == "":
		return 0
	case finishReason == "length":
		return 0.6
	default:
		return 0.9
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
