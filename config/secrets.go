package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotSet is returned when a secret has no value
var ErrSecretNotSet = errors.New("secret not set")

// SecretManager interface for retrieving secrets
type SecretManager interface {
	GetSecret(key string) (string, error)
}

// EnvSecretManager reads secrets from ARGUS_-prefixed environment variables
type EnvSecretManager struct {
	// Lookup defaults to os.LookupEnv
	Lookup func(key string) (string, bool)
}

// GetSecret returns the value of ARGUS_<KEY>
func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	envKey := EnvPrefix + "_" + strings.ToUpper(key)
	value, ok := lookup(envKey)
	if !ok || value == "" {
		return "", fmt.Errorf("environment variable %s: %w", envKey, ErrSecretNotSet)
	}
	return value, nil
}

// LoadSecrets fills channel credentials that are kept out of the config file:
// <CHANNEL>_SMTP_PASSWORD for email and <CHANNEL>_AUTH_TOKEN as a bearer token for
// webhook and slack. Values already present in the file win; missing secrets are
// not an error.
func LoadSecrets(cfg *Config, manager SecretManager) error {
	for i := range cfg.Alerting.Channels {
		ch := &cfg.Alerting.Channels[i]
		name := strings.ToUpper(string(ch.Channel))

		if ch.SMTPPassword == "" {
			if v, err := lookupOptional(manager, name+"_SMTP_PASSWORD"); err != nil {
				return err
			} else if v != "" {
				ch.SMTPPassword = v
			}
		}
		if !hasHeader(ch.Headers, "Authorization") {
			v, err := lookupOptional(manager, name+"_AUTH_TOKEN")
			if err != nil {
				return err
			}
			if v != "" {
				if ch.Headers == nil {
					ch.Headers = make(map[string]string)
				}
				ch.Headers["Authorization"] = "Bearer " + v
			}
		}
	}
	return nil
}

func lookupOptional(manager SecretManager, key string) (string, error) {
	v, err := manager.GetSecret(key)
	if errors.Is(err, ErrSecretNotSet) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load secret %s: %w", key, err)
	}
	return v, nil
}

// hasHeader matches case-insensitively; viper lower-cases map keys read from files
func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
