package providers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yairfalse/snapkeep/types"
)

// InventoryClient is the remote boundary for instances and snapshots.
// Every call is a single attempt: implementations never retry, so a
// transient failure surfaces to the caller immediately.
type InventoryClient interface {
	ListInstances(ctx context.Context) ([]types.Instance, error)
	GetInstance(ctx context.Context, id string) (*types.Instance, error)
	ListSnapshots(ctx context.Context, instanceID string) ([]types.Snapshot, error)
	CreateSnapshot(ctx context.Context, instanceID, description string) (*types.Snapshot, error)
	// DeleteSnapshot treats an already-missing snapshot as a failure
	DeleteSnapshot(ctx context.Context, snapshotID string) error

	// Provider info
	Name() string
	Region() string
}

// ProviderConfig holds provider configuration
type ProviderConfig struct {
	APIKey            string
	BaseURL           string
	Region            string
	Profile           string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

// ProviderFactory creates a provider instance
type ProviderFactory func(ctx context.Context, config ProviderConfig) (InventoryClient, error)

var (
	mu        sync.RWMutex
	providers = make(map[string]ProviderFactory)
)

// RegisterProvider registers a new provider factory
func RegisterProvider(name string, factory ProviderFactory) {
	mu.Lock()
	defer mu.Unlock()
	providers[name] = factory
}

// GetProvider creates a provider instance by name
func GetProvider(ctx context.Context, name string, config ProviderConfig) (InventoryClient, error) {
	mu.RLock()
	factory, exists := providers[name]
	mu.RUnlock()
	if !exists {
		return nil, types.NewConfigError("provider", "provider %q not registered (available: %v)", name, ListProviders())
	}
	return factory(ctx, config)
}

// ListProviders returns available provider names, sorted
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// unregisterProvider removes a provider. Used for testing.
func unregisterProvider(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(providers, name)
}

// Require returns a ConfigError if a provider that needs a credential got none
func Require(config ProviderConfig, name string) error {
	if config.APIKey == "" {
		return types.NewConfigError("api_key", "%s provider requires an API key", name)
	}
	return nil
}
