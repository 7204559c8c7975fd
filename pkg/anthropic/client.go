// Package anthropic is a narrow wrapper over the Messages API: one system
// prompt, one user turn, text back.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/resilience"
)

// Client sends single-turn prompts.
type Client interface {
	Complete(ctx context.Context, p Prompt) (*Reply, error)
}

// Prompt is a single-turn request.
type Prompt struct {
	Model     string
	MaxTokens int64
	System    string
	// CacheSystem marks the system prompt as an ephemeral cache breakpoint.
	CacheSystem bool
	User        string
	Temperature float64
}

// Reply is the text of a completion plus its accounting.
type Reply struct {
	ID         string
	Text       string
	StopReason string
	Usage      Usage
}

// Usage counts tokens for one call.
type Usage struct {
	Input      int64
	Output     int64
	CacheRead  int64
	CacheWrite int64
}

// Fields renders u as log fields.
func (u Usage) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Int64("cache_write_tokens", u.CacheWrite),
	}
}

// Option configures the SDK client.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at another API host.
func WithBaseURL(url string) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(url))
	}
}

type sdkClient struct {
	api sdk.Client
}

// NewClient creates a Client on the official SDK. The SDK's own retries are
// off; callers retry through resilience.DoVal.
func NewClient(apiKey string, opts ...Option) Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	for _, opt := range opts {
		opt(&reqOpts)
	}
	return &sdkClient{api: sdk.NewClient(reqOpts...)}
}

func (c *sdkClient) Complete(ctx context.Context, p Prompt) (*Reply, error) {
	msg, err := c.api.Messages.New(ctx, newParams(p))
	if err != nil {
		return nil, eris.Wrap(classify(err), "anthropic: create message")
	}
	return newReply(msg), nil
}

func newParams(p Prompt) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(p.Model),
		MaxTokens:   p.MaxTokens,
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(p.User))},
		Temperature: sdk.Float(p.Temperature),
	}
	if p.System != "" {
		block := sdk.TextBlockParam{Text: p.System}
		if p.CacheSystem {
			block.CacheControl = sdk.NewCacheControlEphemeralParam()
		}
		params.System = []sdk.TextBlockParam{block}
	}
	return params
}

// classify marks overload and rate-limit responses as transient.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}

func newReply(msg *sdk.Message) *Reply {
	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &Reply{
		ID:         msg.ID,
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			Input:      msg.Usage.InputTokens,
			Output:     msg.Usage.OutputTokens,
			CacheRead:  msg.Usage.CacheReadInputTokens,
			CacheWrite: msg.Usage.CacheCreationInputTokens,
		},
	}
}
