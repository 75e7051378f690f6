package secret

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig holds connection and authentication settings for the
// Vault source. AppRole and TLS certificate auth are supported.
type VaultConfig struct {
	Address    string
	AuthMethod string // "approle", "cert"
	RoleID     string
	SecretID   string
	CACert     string
	ClientCert string
	ClientKey  string
	Logger     *slog.Logger
}

// VaultSource reads secrets from HashiCorp Vault and keeps its own
// token renewed in the background.
type VaultSource struct {
	client *vault.Client
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewVaultSource authenticates against Vault and starts the token
// renewer.
func NewVaultSource(cfg VaultConfig) (*VaultSource, error) {
	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.Address

	if cfg.ClientCert != "" || cfg.ClientKey != "" || cfg.CACert != "" {
		tlsConfig := &vault.TLSConfig{
			ClientCert: cfg.ClientCert,
			ClientKey:  cfg.ClientKey,
			CACert:     cfg.CACert,
		}
		if err := vConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("configure tls: %w", err)
		}
	}

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}

	var auth *vault.Secret
	switch cfg.AuthMethod {
	case "cert":
		auth, err = client.Logical().Write("auth/cert/login", nil)
	case "approle", "":
		if cfg.RoleID == "" {
			return nil, fmt.Errorf("approle auth requires a role_id")
		}
		auth, err = client.Logical().Write("auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
	default:
		return nil, fmt.Errorf("unknown vault auth method %q", cfg.AuthMethod)
	}
	if err != nil {
		return nil, fmt.Errorf("vault login (%s): %w", cfg.AuthMethod, err)
	}
	if auth == nil || auth.Auth == nil {
		return nil, fmt.Errorf("vault login returned no auth info")
	}
	client.SetToken(auth.Auth.ClientToken)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &VaultSource{
		client: client,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.renewToken(auth.Auth)

	return s, nil
}

// Get reads a secret field. Path format is "path/to/secret#key"; the
// key defaults to "api_key" when omitted. KV v2 data wrappers are
// unwrapped transparently.
func (s *VaultSource) Get(ctx context.Context, path string) (string, error) {
	secretPath := path
	key := "api_key"
	if idx := strings.LastIndex(path, "#"); idx != -1 {
		secretPath = path[:idx]
		key = path[idx+1:]
	}

	secret, err := s.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return "", fmt.Errorf("read vault secret %q: %w", secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret %q not found", secretPath)
	}

	data := secret.Data
	if v, ok := data["data"]; ok {
		if nested, ok := v.(map[string]interface{}); ok {
			data = nested
		}
	}

	val, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}
	return fmt.Sprintf("%v", val), nil
}

// Close stops the token renewer.
func (s *VaultSource) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return nil
}

func (s *VaultSource) renewToken(auth *vault.SecretAuth) {
	defer s.wg.Done()

	if !auth.Renewable {
		return
	}

	watcher, err := s.client.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
		Secret: &vault.Secret{Auth: auth},
	})
	if err != nil {
		s.logger.Error("vault lifetime watcher creation failed", "error", err)
		return
	}

	go watcher.Start()
	defer watcher.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case err := <-watcher.DoneCh():
			if err != nil {
				s.logger.Error("vault token renewal failed", "error", err)
			}
			return
		case <-watcher.RenewCh():
			// renewed
		}
	}
}
