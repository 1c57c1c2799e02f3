package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// KnownProviders lists the gateways whose settings are read from the environment
var KnownProviders = []string{"myfatoorah", "stripe", "papara"}

// ProviderConfig manages payment provider configurations
type ProviderConfig struct {
	configs map[string]map[string]string
	mu      sync.RWMutex
}

// NewProviderConfig creates a new provider configuration
func NewProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		configs: make(map[string]map[string]string),
	}
}

// LoadFromEnv collects <PROVIDER>_<KEY> variables for every known provider.
// STRIPE_SECRET_KEY becomes configs["stripe"]["secretKey"].
func (c *ProviderConfig) LoadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		for _, name := range KnownProviders {
			prefix := strings.ToUpper(name) + "_"
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			field := envKeyToField(strings.TrimPrefix(key, prefix))
			if field == "" {
				continue
			}
			if c.configs[name] == nil {
				c.configs[name] = make(map[string]string)
			}
			c.configs[name][field] = value
		}
	}
}

// SetConfig replaces the configuration of a provider
func (c *ProviderConfig) SetConfig(providerName string, config map[string]string) error {
	if providerName == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if len(config) == 0 {
		return fmt.Errorf("config cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[strings.ToLower(providerName)] = copyConfig(config)
	return nil
}

// GetConfig returns a copy of the configuration for a provider
func (c *ProviderConfig) GetConfig(providerName string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	config, exists := c.configs[strings.ToLower(providerName)]
	if !exists {
		return nil, fmt.Errorf("no configuration found for provider: %s", providerName)
	}
	return copyConfig(config), nil
}

// GetAvailableProviders returns all providers that have configurations
func (c *ProviderConfig) GetAvailableProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	providers := make([]string, 0, len(c.configs))
	for name := range c.configs {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}

// All returns a snapshot of every provider configuration
func (c *ProviderConfig) All() map[string]map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]map[string]string, len(c.configs))
	for name, config := range c.configs {
		out[name] = copyConfig(config)
	}
	return out
}

// envKeyToField converts SECRET_KEY to secretKey
func envKeyToField(key string) string {
	parts := strings.Split(strings.ToLower(key), "_")
	var b strings.Builder
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 || b.Len() == 0 {
			b.WriteString(part)
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}

func copyConfig(config map[string]string) map[string]string {
	out := make(map[string]string, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}
