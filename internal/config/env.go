package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DRAWD_"

// LoadDotEnv reads .env and .env.local when present. Existing environment
// variables win over file values.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays DRAWD_* variables found through lookup onto c.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &c.Addr)
	str("LOG_LEVEL", &c.LogLevel)
	str("APP_ENV", &c.AppEnv)
	str("ADMIN_TOKEN", &c.AdminToken)
	str("DEFAULT_ENGINE", &c.DefaultEngine)
	boolean("DISABLE_API_ENGINE", &c.DisableAPIEngine)
	boolean("DEFAULT_OPTIMIZE", &c.DefaultOptimize)
	duration("DRAW_COOLDOWN", &c.DrawCooldown)
	duration("SESSION_IDLE_TIMEOUT", &c.SessionIdleTimeout)
	integer("MAX_QUEUE_DEPTH", &c.MaxQueueDepth)
	integer("MAX_RETRIES", &c.MaxRetries)
	duration("CREDENTIAL_COOLDOWN", &c.CredentialCooldown)
	duration("HEALTH_INTERVAL", &c.HealthInterval)
	str("COLLAB_BACKEND", &c.Collaborator.Backend)
	str("COLLAB_BASE_URL", &c.Collaborator.BaseURL)
	str("COLLAB_API_KEY", &c.Collaborator.APIKey)
	str("COLLAB_MODEL", &c.Collaborator.Model)
	str("COLLAB_MODEL_PATH", &c.Collaborator.ModelPath)
	str("TEMPLATES_BACKEND", &c.Templates.Backend)
	str("TEMPLATES_PATH", &c.Templates.Path)
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}
	// Secrets for configured engines, matched by kind.
	for i := range c.Engines {
		kind := strings.ToUpper(c.Engines[i].Kind)
		str(kind+"_API_KEY", &c.Engines[i].APIKey)
		if v, ok := lookup(EnvPrefix + kind + "_CREDENTIALS"); ok {
			c.Engines[i].Credentials = splitList(v)
		}
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Resolve loads .env files, the optional config file and the environment, in
// that order of increasing precedence. Callers validate after applying flags.
func Resolve(path string) (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
