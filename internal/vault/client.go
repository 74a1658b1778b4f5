package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cryptoblade/config"

	"github.com/hashicorp/vault/api"
)

var ErrCredentialsNotFound = errors.New("exchange credentials not found")

// Credentials is the exchange key pair stored under one KV v2 secret
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Testnet   bool   `json:"testnet"`
}

// logical is the subset of *api.Logical the client needs
type logical interface {
	ReadWithContext(ctx context.Context, path string) (*api.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*api.Secret, error)
}

// Client reads exchange credentials from a HashiCorp Vault KV v2 mount
type Client struct {
	client *api.Client
	kv     logical
	config config.VaultConfig

	mu    sync.RWMutex
	cache map[bool]*Credentials
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, errors.New("vault is disabled")
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c := newClient(client.Logical(), cfg)
	c.client = client
	return c, nil
}

func newClient(kv logical, cfg config.VaultConfig) *Client {
	return &Client{
		kv:     kv,
		config: cfg,
		cache:  make(map[bool]*Credentials),
	}
}

// Credentials returns the key pair for mainnet or testnet. Results are cached
// for the process lifetime.
func (c *Client) Credentials(ctx context.Context, testnet bool) (*Credentials, error) {
	c.mu.RLock()
	cached, ok := c.cache[testnet]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	secret, err := c.kv.ReadWithContext(ctx, c.dataPath(testnet))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrCredentialsNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", c.dataPath(testnet))
	}

	creds := &Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		Testnet:   testnet,
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, ErrCredentialsNotFound
	}

	c.mu.Lock()
	c.cache[testnet] = creds
	c.mu.Unlock()
	return creds, nil
}

// StoreCredentials writes a key pair and refreshes the cache
func (c *Client) StoreCredentials(ctx context.Context, creds Credentials) error {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
			"testnet":    creds.Testnet,
		},
	}
	if _, err := c.kv.WriteWithContext(ctx, c.dataPath(creds.Testnet), payload); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cache[creds.Testnet] = &creds
	c.mu.Unlock()
	return nil
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return errors.New("vault is sealed")
	}
	return nil
}

// dataPath is <mount>/data/<secret path>/<mainnet|testnet>
func (c *Client) dataPath(testnet bool) string {
	network := "mainnet"
	if testnet {
		network = "testnet"
	}
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, network)
}

func getString(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}
