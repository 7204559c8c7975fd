// Package symptoms turns a free-text field description into symptom tokens.
package symptoms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
	"github.com/sells-group/cropdoc/pkg/anthropic"
)

const systemPrompt = `You extract plant symptom tokens from a farmer's field description.
Reply with a JSON array of short lower-case hyphenated tokens such as
"yellow-leaves", "stunted-growth", "leaf-spots" or "wilting".
Prefer tokens from the vocabulary when one fits. Reply with [] when no
symptom is described. Reply with the JSON array only.`

// Extractor calls the Messages API to extract symptom tokens.
type Extractor struct {
	client     anthropic.Client
	model      string
	maxTokens  int64
	vocabulary []string
	retry      resilience.RetryConfig
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithVocabulary lists the known symptom tokens offered to the model.
func WithVocabulary(tokens []string) Option {
	return func(e *Extractor) { e.vocabulary = tokens }
}

// WithRetry overrides the retry policy for API calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Extractor) { e.retry = cfg }
}

// NewExtractor creates an Extractor.
func NewExtractor(client anthropic.Client, modelID string, maxTokens int64, opts ...Option) *Extractor {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	e := &Extractor{
		client:    client,
		model:     modelID,
		maxTokens: maxTokens,
		retry:     resilience.DefaultRetryConfig(),
	}
	e.retry.OnRetry = resilience.RetryLogger("anthropic", "extract_symptoms")
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the normalized, de-duplicated symptom tokens described
// in text.
func (e *Extractor) Extract(ctx context.Context, crop, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, model.NewInputError("description", "description is required")
	}

	system := systemPrompt
	if len(e.vocabulary) > 0 {
		system += "\nVocabulary: " + strings.Join(e.vocabulary, ", ")
	}

	prompt := anthropic.Prompt{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      system,
		CacheSystem: true,
		User:        fmt.Sprintf("Crop: %s\nDescription: %s", crop, text),
	}

	reply, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.Reply, error) {
		return e.client.Complete(ctx, prompt)
	})
	if err != nil {
		return nil, eris.Wrap(err, "symptoms: extract")
	}
	zap.L().Debug("symptom extraction usage",
		append(reply.Usage.Fields(), zap.String("model", e.model))...)

	tokens, err := ParseTokens(reply.Text)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("extracted symptoms",
		zap.String("crop", crop),
		zap.Strings("symptoms", tokens),
	)
	return tokens, nil
}

// ParseTokens reads a JSON string array from a model reply, tolerating
// surrounding prose or code fences.
func ParseTokens(reply string) ([]string, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end < start {
		return nil, eris.Errorf("symptoms: no JSON array in reply %q", reply)
	}

	var raw []string
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, eris.Wrap(err, "symptoms: parse reply")
	}

	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		tok := model.NormalizeToken(s)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out, nil
}
