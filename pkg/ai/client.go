package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/errors"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

const (
	chatCompletionsPath = "/chat/completions"

	maxCompletionTokens   = 2000
	completionTemperature = 0.7
)

// Article is the structured output the model is asked to produce.
type Article struct {
	Title   string
	Content string
	Tags    []string
}

// Client talks to an OpenAI-compatible chat-completions endpoint. It
// forces JSON-object responses and parses them into Articles.
type Client struct {
	httpClient *http.Client
	cfg        config.AIConfig
	logg       *logger.Logger

	// retryBase is the initial retry backoff, shortened in tests.
	retryBase time.Duration
}

type ClientParams struct {
	Config     config.AIConfig
	Logger     *logger.Logger
	HTTPClient *http.Client
}

func NewClient(params ClientParams) (*Client, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("ai client: logger is required")
	}
	if params.Config.APIKey == "" {
		return nil, fmt.Errorf("ai client: api key is required")
	}
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: params.Config.Timeout}
	}
	return &Client{
		httpClient: httpClient,
		cfg:        params.Config,
		logg:       params.Logger,
		retryBase:  2 * time.Second,
	}, nil
}

// Model returns the configured model name, recorded as the author of
// generated content.
func (c *Client) Model() string {
	return c.cfg.Model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateArticle sends the prompt and parses the model's JSON reply.
// Transport failures and throttling are retried with exponential
// backoff up to the configured attempt limit.
func (c *Client) GenerateArticle(ctx context.Context, prompt string) (*Article, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New(errors.CodeValidation, "prompt is empty")
	}

	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxCompletionTokens,
		Temperature: completionTemperature,
	}
	reqBody.ResponseFormat.Type = "json_object"
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "marshal completion request")
	}

	attempts := c.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(c.retryBase))

	var article *Article
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		parsed, attemptErr := c.complete(ctx, payload)
		if attemptErr != nil {
			if errors.IsRetryable(attemptErr) {
				c.logg.Warn(ctx, "completion attempt failed, retrying")
				return retry.RetryableError(attemptErr)
			}
			return attemptErr
		}
		article = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return article, nil
}

func (c *Client) complete(ctx context.Context, payload []byte) (*Article, error) {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + chatCompletionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "build completion request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.CodeTransport, err, "completion request")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, errors.New(errors.CodeTransport, fmt.Sprintf("completion returned status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(errors.CodeProtocol, err, "decode completion response")
	}
	if parsed.Error != nil {
		return nil, errors.New(errors.CodeUpstream, "completion error: "+parsed.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return nil, errors.New(errors.CodeUpstream, fmt.Sprintf("completion returned status %d", resp.StatusCode))
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New(errors.CodeProtocol, "completion response has no choices")
	}
	return parseArticle(parsed.Choices[0].Message.Content)
}

func parseArticle(content string) (*Article, error) {
	var doc struct {
		Title   string          `json:"title"`
		Content string          `json:"content"`
		Tags    json.RawMessage `json:"tags"`
	}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, errors.Wrap(errors.CodeProtocol, err, "model reply is not valid json")
	}
	if doc.Title == "" || doc.Content == "" {
		return nil, errors.New(errors.CodeProtocol, "model reply is missing title or content")
	}
	return &Article{
		Title:   doc.Title,
		Content: doc.Content,
		Tags:    parseTags(doc.Tags),
	}, nil
}

// parseTags accepts either a JSON array of strings or a single
// delimiter-separated string, which is what the model usually emits.
func parseTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return cleanTags(list)
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		joined = strings.ReplaceAll(joined, "，", ",")
		return cleanTags(strings.Split(joined, ","))
	}
	return nil
}

func cleanTags(tags []string) []string {
	var out []string
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
