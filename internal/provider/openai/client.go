package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dunamismax/pawtrait/internal/breed"
	"github.com/dunamismax/pawtrait/internal/stage"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 3 * time.Minute

	visionMaxTokens   = 100
	visionTemperature = 0.3
	maxFetchBytes     = 32 << 20
)

var (
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: set OPENAI_API_KEY")

	ErrEmptyResponse  = errors.New("empty response")
	ErrResultTooLarge = errors.New("result image too large")
)

type Config struct {
	APIKey         string
	BaseURL        string
	RequestsPerMin int
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// Client adapts the OpenAI API to the vision and edit contracts used by the
// pipeline. SDK retries are disabled: a failed stage is terminal.
type Client struct {
	client   openai.Client
	http     *http.Client
	apiKey   string
	timeout  time.Duration
	limiter  *rate.Limiter
	maxFetch int64
	logger   zerolog.Logger
}

var (
	_ breed.Vision  = (*Client)(nil)
	_ stage.Editor  = (*Client)(nil)
	_ stage.Fetcher = (*Client)(nil)
)

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	limit := rate.Inf
	if cfg.RequestsPerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMin))
	}

	return &Client{
		client:   openai.NewClient(opts...),
		http:     httpClient,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		limiter:  rate.NewLimiter(limit, 2),
		maxFetch: maxFetchBytes,
		logger:   logger.With().Str("component", "openai").Logger(),
	}
}

func (c *Client) Ready() error {
	if c.apiKey == "" {
		return ErrAPIKeyNotSet
	}
	return nil
}

// Describe sends the portrait as a PNG data URL with the classification prompt.
func (c *Client) Describe(ctx context.Context, model string, prompt breed.Prompt, imagePNG []byte) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imagePNG)
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt.User),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		MaxTokens:   openai.Int(visionMaxTokens),
		Temperature: openai.Float(visionTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", model, describeAPIError(err))
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion (%s): %w", model, ErrEmptyResponse)
	}
	return completion.Choices[0].Message.Content, nil
}

// Edit submits one masked edit and returns whichever payload came back.
func (c *Client) Edit(ctx context.Context, req stage.EditRequest) (stage.EditResult, error) {
	if err := c.Ready(); err != nil {
		return stage.EditResult{}, &stage.Error{Kind: stage.KindConfig, Err: err}
	}
	size, err := editSize(req.Size)
	if err != nil {
		return stage.EditResult{}, &stage.Error{Kind: stage.KindConfig, Err: err}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return stage.EditResult{}, fmt.Errorf("wait for rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.client.Images.Edit(ctx, openai.ImageEditParams{
		Image:  openai.ImageEditParamsImageUnion{OfFile: openai.File(req.Image, "image.png", "image/png")},
		Mask:   openai.File(req.Mask, "mask.png", "image/png"),
		Prompt: req.Prompt,
		Model:  req.Model,
		N:      openai.Int(1),
		Size:   size,
	})
	if err != nil {
		return stage.EditResult{}, describeAPIError(err)
	}
	c.logger.Debug().
		Str("model", req.Model).
		Int("size", req.Size).
		Dur("elapsed", time.Since(started)).
		Msg("image edit returned")

	if resp == nil || len(resp.Data) == 0 {
		return stage.EditResult{}, &stage.Error{Kind: stage.KindDecode, Err: fmt.Errorf("image edit: %w", ErrEmptyResponse)}
	}
	first := resp.Data[0]
	return stage.EditResult{URL: first.URL, B64JSON: first.B64JSON}, nil
}

// Fetch downloads a result URL returned by the edit endpoint.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch result: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxFetch+1))
	if err != nil {
		return nil, fmt.Errorf("read result body: %w", err)
	}
	if int64(len(data)) > c.maxFetch {
		return nil, &stage.Error{Kind: stage.KindDecode, Err: fmt.Errorf("fetch result: %w: over %d bytes", ErrResultTooLarge, c.maxFetch)}
	}
	return data, nil
}

func editSize(side int) (openai.ImageEditParamsSize, error) {
	switch side {
	case 1024:
		return openai.ImageEditParamsSize1024x1024, nil
	case 512:
		return openai.ImageEditParamsSize512x512, nil
	case 256:
		return openai.ImageEditParamsSize256x256, nil
	default:
		return "", fmt.Errorf("unsupported edit size %dx%d", side, side)
	}
}

// describeAPIError keeps the status code visible in job error details.
func describeAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai status %d: %w", apiErr.StatusCode, err)
	}
	return err
}
