package secrets

import (
	"fmt"

	"github.com/Apsistec/fitos-app-sub001/internal/config"
)

// Secret names served by ConfigLoader.
const (
	KeyJWTSecret        = "jwt_secret"
	KeyLiteLLMMasterKey = "litellm_master_key"
)

// ConfigLoader returns a Loader that re-reads the layered configuration
// (defaults, .env, YAML, environment) and extracts the rotatable secrets.
// Empty values are omitted.
func ConfigLoader(load func() (*config.Config, error)) Loader {
	return func() (map[string]string, error) {
		cfg, err := load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		vals := make(map[string]string, 2)
		if cfg.Auth.JWTSecret != "" {
			vals[KeyJWTSecret] = cfg.Auth.JWTSecret
		}
		if cfg.LiteLLM.MasterKey != "" {
			vals[KeyLiteLLMMasterKey] = cfg.LiteLLM.MasterKey
		}
		return vals, nil
	}
}
