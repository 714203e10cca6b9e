// Package openai provides an LLM-backed classify.Classifier using the OpenAI
// chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nightjarhq/nightjar/pkg/provider/classify"
)

const (
	defaultModel = "gpt-4o-mini"

	// maxHistory bounds the per-conversation context window. Older exchanges
	// are discarded oldest-first.
	maxHistory = 20
)

const classifySystemPrompt = `You monitor transcribed speech from in-home audio devices for signs that a
person needs assistance: calls for help, medical distress, fire, intruders,
falls. Respond ONLY with a JSON object of the shape
{"alerts":[{"phrase":"...","severity":"high"|"medium"}],"summary":"...","actionRequired":true|false}.
Return an empty alerts array for benign speech. No prose, no markdown.`

const querySystemPrompt = `You answer questions from household members about what the monitoring system
has heard recently. Be brief and factual.`

// Compile-time assertion that Provider implements classify.Classifier.
var _ classify.Classifier = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*config)

type config struct {
	baseURL string
	model   string
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the chat model. Defaults to gpt-4o-mini.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// Provider classifies utterances with an OpenAI chat model, keeping a short
// per-conversation-key message history for context.
type Provider struct {
	client oai.Client
	model  string

	mu            sync.Mutex
	conversations map[string][]oai.ChatCompletionMessageParamUnion
}

// New constructs a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Provider{
		client:        oai.NewClient(reqOpts...),
		model:         cfg.model,
		conversations: make(map[string][]oai.ChatCompletionMessageParamUnion),
	}, nil
}

// Classify implements classify.Classifier.
func (p *Provider) Classify(ctx context.Context, text, conversationKey string) (*classify.Analysis, error) {
	reply, err := p.complete(ctx, classifySystemPrompt, text, "classify:"+conversationKey)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(reply)
}

// Query implements classify.Classifier.
func (p *Provider) Query(ctx context.Context, query, conversationKey string) (string, error) {
	return p.complete(ctx, querySystemPrompt, query, "query:"+conversationKey)
}

// complete runs one chat turn under the given conversation key and records
// both sides in the history.
func (p *Provider) complete(ctx context.Context, systemPrompt, input, key string) (string, error) {
	p.mu.Lock()
	history := p.conversations[key]
	p.mu.Unlock()

	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, oai.SystemMessage(systemPrompt))
	messages = append(messages, history...)
	messages = append(messages, oai.UserMessage(input))

	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(p.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices in response")
	}
	reply := resp.Choices[0].Message.Content

	p.mu.Lock()
	history = append(history, oai.UserMessage(input), oai.AssistantMessage(reply))
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	p.conversations[key] = history
	p.mu.Unlock()

	return reply, nil
}

// parseAnalysis decodes the model reply into an Analysis, tolerating a
// markdown code fence around the JSON but nothing else.
func parseAnalysis(reply string) (*classify.Analysis, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var analysis classify.Analysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return nil, fmt.Errorf("openai: malformed analysis reply: %w", err)
	}
	for i, al := range analysis.Alerts {
		if al.Phrase == "" {
			return nil, fmt.Errorf("openai: malformed analysis reply: alert %d has no phrase", i)
		}
		switch al.Severity {
		case classify.SeverityHigh, classify.SeverityMedium:
		default:
			return nil, fmt.Errorf("openai: malformed analysis reply: alert %d has severity %q", i, al.Severity)
		}
	}
	return &analysis, nil
}
