package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nightjarhq/nightjar/internal/config"
	"github.com/nightjarhq/nightjar/pkg/provider/classify"
	classifymock "github.com/nightjarhq/nightjar/pkg/provider/classify/mock"
	"github.com/nightjarhq/nightjar/pkg/provider/transcribe"
	transcribemock "github.com/nightjarhq/nightjar/pkg/provider/transcribe/mock"
)

func TestRegistry_CreateTranscriber(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterTranscriber("mock", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		if entry.Model != "tiny" {
			t.Errorf("entry.Model = %q, want tiny", entry.Model)
		}
		return &transcribemock.Provider{}, nil
	})

	p, err := reg.CreateTranscriber(config.ProviderEntry{Name: "mock", Model: "tiny"})
	if err != nil {
		t.Fatalf("CreateTranscriber: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), nil); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestRegistry_CreateClassifier(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterClassifier("mock", func(config.ProviderEntry) (classify.Classifier, error) {
		return &classifymock.Classifier{}, nil
	})

	if _, err := reg.CreateClassifier(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Fatalf("CreateClassifier: %v", err)
	}
}

func TestRegistry_UnregisteredName(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateTranscriber(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTranscriber error = %v, want ErrProviderNotRegistered", err)
	}
	_, err = reg.CreateClassifier(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateClassifier error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_ReRegisterOverwrites(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	first := &classifymock.Classifier{}
	second := &classifymock.Classifier{}
	reg.RegisterClassifier("dup", func(config.ProviderEntry) (classify.Classifier, error) {
		return first, nil
	})
	reg.RegisterClassifier("dup", func(config.ProviderEntry) (classify.Classifier, error) {
		return second, nil
	})

	c, err := reg.CreateClassifier(config.ProviderEntry{Name: "dup"})
	if err != nil {
		t.Fatalf("CreateClassifier: %v", err)
	}
	if c != second {
		t.Error("expected the later registration to win")
	}
}
