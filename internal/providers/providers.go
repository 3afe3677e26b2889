package providers

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Config represents the configuration for an LLM provider call
type Config struct {
	Model       string
	Temperature float64
	Prompt      string
	// Image, when set, is sent alongside the prompt for vision models.
	Image     []byte
	ImageMIME string
}

// Provider defines the interface for an LLM provider
type Provider interface {
	ExtractText(ctx context.Context, config Config) (string, error)
}

var (
	mu       sync.RWMutex
	registry = map[string]func() Provider{}
	defaults = map[string]string{}
)

// Register makes a provider available by name. defaultModel is used when
// neither the caller nor the <NAME>_MODEL variable picks one.
func Register(name, defaultModel string, factory func() Provider) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
	defaults[name] = defaultModel
}

// Get returns a new instance of the named provider.
func Get(name string) (Provider, error) {
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s (available: %s)", name, strings.Join(Names(), ", "))
	}
	return factory(), nil
}

// Names lists the registered providers.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultModel returns the model for a provider, honouring OPENAI_MODEL,
// OLLAMA_MODEL, GEMINI_MODEL and similar overrides.
func DefaultModel(name string) string {
	if model := os.Getenv(strings.ToUpper(name) + "_MODEL"); model != "" {
		return model
	}
	mu.RLock()
	defer mu.RUnlock()
	return defaults[name]
}
