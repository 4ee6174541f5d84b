package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/cadence-agent/internal/agenterr"
)

const (
	openaiAPIBase  = "https://api.openai.com/v1"
	defaultModel   = "gpt-5-mini"
	requestTimeout = 120 * time.Second
)

// OpenAIClient implements Generator against the OpenAI Responses API.
type OpenAIClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	logger  zerolog.Logger
}

// OpenAIOption configures the client.
type OpenAIOption func(*OpenAIClient)

func WithModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.client = hc }
}

func WithLogger(l zerolog.Logger) OpenAIOption {
	return func(c *OpenAIClient) { c.logger = l }
}

// NewOpenAIClient constructs a Responses API client.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:  apiKey,
		baseURL: openaiAPIBase,
		model:   defaultModel,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With().Str("component", "generate").Logger()
	return c
}

// ---- OpenAI wire types ----

type responsesRequest struct {
	Model           string `json:"model"`
	Store           bool   `json:"store"`
	Input           string `json:"input"`
	MaxOutputTokens int    `json:"max_output_tokens"`
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesOutputItem struct {
	Type    string             `json:"type"`
	Content []responsesContent `json:"content"`
}

type responsesResponse struct {
	ID                string                `json:"id"`
	Status            string                `json:"status"`
	OutputText        string                `json:"output_text"`
	Output            []responsesOutputItem `json:"output"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (r *responsesResponse) text() string {
	if t := strings.TrimSpace(r.OutputText); t != "" {
		return t
	}
	var parts []string
	for _, item := range r.Output {
		for _, block := range item.Content {
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// meta renders status/shape diagnostics for log lines without echoing output.
func (r *responsesResponse) meta() string {
	status := r.Status
	if status == "" {
		status = "unknown"
	}
	if r.IncompleteDetails != nil && r.IncompleteDetails.Reason != "" {
		return fmt.Sprintf("status=%s output_items=%d reason=%s", status, len(r.Output), r.IncompleteDetails.Reason)
	}
	return fmt.Sprintf("status=%s output_items=%d", status, len(r.Output))
}

func (r *responsesResponse) truncated() bool {
	return r.IncompleteDetails != nil && r.IncompleteDetails.Reason == "max_output_tokens"
}

func (c *OpenAIClient) do(ctx context.Context, rr responsesRequest) (*responsesResponse, error) {
	body, err := json.Marshal(rr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &agenterr.APIError{Service: "openai", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &agenterr.APIError{Service: "openai", StatusCode: resp.StatusCode, Message: "read body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, agenterr.NewAPIError("openai", resp.StatusCode, "responses call failed")
	}

	var out responsesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &agenterr.APIError{Service: "openai", StatusCode: resp.StatusCode, Message: "unmarshal response", Err: err}
	}
	if out.Error != nil {
		return nil, agenterr.NewAPIError("openai", resp.StatusCode,
			fmt.Sprintf("%s: %s", out.Error.Type, out.Error.Message))
	}
	return &out, nil
}

// generate runs one Responses call at the given budget and retries exactly
// once at double the budget when the output was cut off mid-generation.
// Any other empty result comes back as a soft failure for the caller to log.
func (c *OpenAIClient) generate(ctx context.Context, kind, prompt string, maxTokens int) (Result, error) {
	resp, err := c.do(ctx, responsesRequest{
		Model:           c.model,
		Store:           false,
		Input:           prompt,
		MaxOutputTokens: maxTokens,
	})
	if err != nil {
		return Result{}, err
	}

	if text := resp.text(); text != "" {
		c.logger.Debug().
			Str("kind", kind).
			Str("status", resp.Status).
			Int("out_tokens", resp.Usage.OutputTokens).
			Msg("generation complete")
		return Result{Text: text}, nil
	}

	if !resp.truncated() {
		return Result{Reason: resp.meta()}, nil
	}

	c.logger.Debug().
		Str("kind", kind).
		Int("retry_budget", maxTokens*2).
		Msg("output truncated, retrying once")

	resp, err = c.do(ctx, responsesRequest{
		Model:           c.model,
		Store:           false,
		Input:           prompt,
		MaxOutputTokens: maxTokens * 2,
	})
	if err != nil {
		return Result{}, err
	}
	if text := resp.text(); text != "" {
		return Result{Text: text}, nil
	}
	if resp.truncated() {
		return Result{Reason: ReasonTruncated}, nil
	}
	return Result{Reason: resp.meta()}, nil
}

// Reply generates a response to a mention or a reply directed at the bot.
func (c *OpenAIClient) Reply(ctx context.Context, in ReplyInput) (Result, error) {
	return c.generate(ctx, "reply", buildReplyPrompt(in), ReplyMaxTokens)
}

// Ambient generates a standalone post from activity metrics alone.
func (c *OpenAIClient) Ambient(ctx context.Context, in AmbientInput) (Result, error) {
	return c.generate(ctx, "ambient", buildAmbientPrompt(in), AmbientMaxTokens)
}
