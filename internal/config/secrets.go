package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Secret is a config value given inline or read from a file. In YAML it is
// either a plain string or a mapping with value/file.
type Secret struct {
	Value string `yaml:"value"`
	File  string `yaml:"file"`
}

// UnmarshalYAML accepts the scalar shorthand.
func (s *Secret) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		s.Value = n.Value
		return nil
	}
	type plain Secret
	return n.Decode((*plain)(s))
}

// Resolve returns the secret. The file takes precedence over the inline value.
func (s Secret) Resolve() (string, error) {
	if s.File == "" {
		return s.Value, nil
	}
	content, err := os.ReadFile(s.File)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", s.File, err)
	}
	return strings.TrimSpace(string(content)), nil
}

// ResolveSecret reads a secret value using the *_FILE convention.
// If envName+"_FILE" is set, reads the secret from that file path.
// Otherwise falls back to the value of envName.
// Returns empty string if neither is set.
// Returns an error if the file cannot be read.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

// Lookup resolves a secret from the environment first, then the config.
func Lookup(envName string, fromConfig Secret) (string, error) {
	v, err := ResolveSecret(envName)
	if err != nil || v != "" {
		return v, err
	}
	return fromConfig.Resolve()
}

// Credentials holds resolved basic-auth pairs.
type Credentials struct {
	AdminUser   string
	AdminPass   string
	TraineeUser string
	TraineePass string
}

// ResolveAuth resolves the server credentials. DRILL_ADMIN_USER and friends
// (or their _FILE variants) override the config file.
func (c *Config) ResolveAuth() (Credentials, error) {
	var out Credentials
	pairs := []struct {
		env string
		cfg Secret
		dst *string
	}{
		{"DRILL_ADMIN_USER", c.Server.Auth.AdminUser, &out.AdminUser},
		{"DRILL_ADMIN_PASS", c.Server.Auth.AdminPass, &out.AdminPass},
		{"DRILL_TRAINEE_USER", c.Server.Auth.TraineeUser, &out.TraineeUser},
		{"DRILL_TRAINEE_PASS", c.Server.Auth.TraineePass, &out.TraineePass},
	}
	for _, p := range pairs {
		v, err := Lookup(p.env, p.cfg)
		if err != nil {
			return Credentials{}, fmt.Errorf("failed to resolve %s: %w", p.env, err)
		}
		*p.dst = v
	}
	return out, nil
}
