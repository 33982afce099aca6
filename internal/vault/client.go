// Package vault stores broker API credentials in HashiCorp Vault's KV-v2
// engine. With Vault disabled the client keeps credentials in its
// in-memory cache only, which is enough for development and tests.
package vault

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"

	"nifty-insight-server/config"
)

// Credentials represents a user's broker API credentials
type Credentials struct {
	Broker       string `json:"broker"`
	APIKey       string `json:"api_key"`
	APISecret    string `json:"api_secret"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ============================================================================
// READ-THROUGH CACHE
// ============================================================================

// credCache holds decrypted credentials keyed by "userID/broker", so
// repeated reads skip the Vault round trip.
type credCache struct {
	mu      sync.RWMutex
	entries map[string]*Credentials
}

func newCredCache() *credCache {
	return &credCache{entries: make(map[string]*Credentials)}
}

func cacheKey(userID, broker string) string { return userID + "/" + broker }

func (cc *credCache) get(userID, broker string) (*Credentials, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	creds, ok := cc.entries[cacheKey(userID, broker)]
	return creds, ok
}

func (cc *credCache) put(userID string, creds *Credentials) {
	cc.mu.Lock()
	cc.entries[cacheKey(userID, creds.Broker)] = creds
	cc.mu.Unlock()
}

func (cc *credCache) drop(userID, broker string) {
	cc.mu.Lock()
	delete(cc.entries, cacheKey(userID, broker))
	cc.mu.Unlock()
}

func (cc *credCache) dropUser(userID string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for k := range cc.entries {
		if strings.HasPrefix(k, userID+"/") {
			delete(cc.entries, k)
		}
	}
}

func (cc *credCache) listUser(userID string) []Credentials {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	var out []Credentials
	for k, creds := range cc.entries {
		if strings.HasPrefix(k, userID+"/") {
			out = append(out, *creds)
		}
	}
	return out
}

// ============================================================================
// CLIENT
// ============================================================================

// Client wraps the HashiCorp Vault client
type Client struct {
	api   *api.Client
	cfg   config.VaultConfig
	cache *credCache
}

// NewClient creates a new Vault client. With cfg.Enabled false the
// client never talks to Vault and serves from its cache alone.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{cfg: cfg, cache: newCredCache()}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.api = client
	return c, nil
}

// NewMockClient creates a cache-only client for testing
func NewMockClient() *Client {
	return &Client{cfg: config.VaultConfig{Enabled: false}, cache: newCredCache()}
}

// kvPath builds a KV-v2 path. Section is "data" for secret payloads and
// "metadata" for delete and list operations; an empty broker yields the
// user's directory for listing.
func (c *Client) kvPath(section, userID, broker string) string {
	p := fmt.Sprintf("%s/%s/%s/%s", c.cfg.MountPath, section, c.cfg.SecretPath, userID)
	if broker != "" {
		p += "/" + broker
	}
	return p
}

// StoreCredentials stores broker credentials for a user in Vault
func (c *Client) StoreCredentials(ctx context.Context, userID string, creds Credentials) error {
	if creds.Broker == "" {
		return fmt.Errorf("broker name is required")
	}

	if c.cfg.Enabled {
		payload := map[string]interface{}{
			"data": map[string]interface{}{
				"broker":        creds.Broker,
				"api_key":       creds.APIKey,
				"api_secret":    creds.APISecret,
				"refresh_token": creds.RefreshToken,
			},
		}

		path := c.kvPath("data", userID, creds.Broker)
		if _, err := c.api.Logical().WriteWithContext(ctx, path, payload); err != nil {
			return fmt.Errorf("failed to store credentials in vault: %w", err)
		}
	}

	c.cache.put(userID, &creds)
	return nil
}

// GetCredentials retrieves broker credentials for a user, consulting
// the cache before Vault.
func (c *Client) GetCredentials(ctx context.Context, userID, broker string) (*Credentials, error) {
	if cached, ok := c.cache.get(userID, broker); ok {
		return cached, nil
	}

	if !c.cfg.Enabled {
		return nil, fmt.Errorf("credentials not found and vault is disabled")
	}

	secret, err := c.api.Logical().ReadWithContext(ctx, c.kvPath("data", userID, broker))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials not found")
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := credentialsFromSecret(data)
	c.cache.put(userID, creds)
	return creds, nil
}

// DeleteCredentials removes a user's broker credentials. The metadata
// delete destroys every version of the KV-v2 secret.
func (c *Client) DeleteCredentials(ctx context.Context, userID, broker string) error {
	c.cache.drop(userID, broker)

	if !c.cfg.Enabled {
		return nil
	}

	path := c.kvPath("metadata", userID, broker)
	if _, err := c.api.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

// ListCredentials lists all broker credentials stored for a user
func (c *Client) ListCredentials(ctx context.Context, userID string) ([]Credentials, error) {
	if !c.cfg.Enabled {
		return c.cache.listUser(userID), nil
	}

	secret, err := c.api.Logical().ListWithContext(ctx, c.kvPath("metadata", userID, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	var result []Credentials
	for _, k := range keys {
		broker, ok := k.(string)
		if !ok {
			continue
		}
		creds, err := c.GetCredentials(ctx, userID, broker)
		if err != nil {
			continue
		}
		result = append(result, *creds)
	}
	return result, nil
}

// InvalidateCacheForUser removes cached credentials for a specific user
func (c *Client) InvalidateCacheForUser(userID string) {
	c.cache.dropUser(userID)
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.cfg.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	health, err := c.api.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func credentialsFromSecret(data map[string]interface{}) *Credentials {
	str := func(k string) string {
		s, _ := data[k].(string)
		return s
	}
	return &Credentials{
		Broker:       str("broker"),
		APIKey:       str("api_key"),
		APISecret:    str("api_secret"),
		RefreshToken: str("refresh_token"),
	}
}
