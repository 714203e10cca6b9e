// Package anyllm provides a classify.Classifier backed by
// github.com/mozilla-ai/any-llm-go, giving the hub a single code path for
// Anthropic, Gemini, Ollama, Mistral, Groq, and other chat backends.
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/nightjarhq/nightjar/pkg/provider/classify"
)

const maxHistory = 20

const classifySystemPrompt = `You monitor transcribed speech from in-home audio devices for signs that a
person needs assistance: calls for help, medical distress, fire, intruders,
falls. Respond ONLY with a JSON object of the shape
{"alerts":[{"phrase":"...","severity":"high"|"medium"}],"summary":"...","actionRequired":true|false}.
Return an empty alerts array for benign speech. No prose, no markdown.`

const querySystemPrompt = `You answer questions from household members about what the monitoring system
has heard recently. Be brief and factual.`

// Compile-time assertion that Provider implements classify.Classifier.
var _ classify.Classifier = (*Provider)(nil)

// Provider classifies utterances through any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string

	mu            sync.Mutex
	conversations map[string][]anyllmlib.Message
}

// New creates a Provider backed by the named chat provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "mistral", "groq". Without an API key option the backend falls back to its
// usual environment variable (ANTHROPIC_API_KEY, GEMINI_API_KEY, …).
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{
		backend:       backend,
		model:         model,
		conversations: make(map[string][]anyllmlib.Message),
	}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, mistral, groq", providerName)
	}
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

func (p *Provider) complete(ctx context.Context, systemPrompt, input, key string) (string, error) {
	p.mu.Lock()
	history := p.conversations[key]
	p.mu.Unlock()

	messages := make([]anyllmlib.Message, 0, len(history)+2)
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: input})

	resp, err := p.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	reply := resp.Choices[0].Message.ContentString()

	p.mu.Lock()
	history = append(history,
		anyllmlib.Message{Role: anyllmlib.RoleUser, Content: input},
		anyllmlib.Message{Role: anyllmlib.RoleAssistant, Content: reply},
	)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	p.conversations[key] = history
	p.mu.Unlock()

	return reply, nil
}

func parseAnalysis(reply string) (*classify.Analysis, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var analysis classify.Analysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return nil, fmt.Errorf("anyllm: malformed analysis reply: %w", err)
	}
	for i, al := range analysis.Alerts {
		if al.Phrase == "" {
			return nil, fmt.Errorf("anyllm: malformed analysis reply: alert %d has no phrase", i)
		}
		switch al.Severity {
		case classify.SeverityHigh, classify.SeverityMedium:
		default:
			return nil, fmt.Errorf("anyllm: malformed analysis reply: alert %d has severity %q", i, al.Severity)
		}
	}
	return &analysis, nil
}
