package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/capitalize-ai/agent-platform/internal/executor"
)

// toolPolicyFile is the TOML layout of TOOLS_CONFIG:
//
//	[tools.web_search]
//	timeout = "8s"
//	max_retries = 3
type toolPolicyFile struct {
	Tools map[string]toolPolicy `toml:"tools"`
}

type toolPolicy struct {
	Timeout    *duration `toml:"timeout"`
	MaxRetries *int      `toml:"max_retries"`
	BaseDelay  *duration `toml:"base_delay"`
	Multiplier *float64  `toml:"multiplier"`
	MaxDelay   *duration `toml:"max_delay"`
}

type duration struct{ time.Duration }

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// LoadToolPolicies returns the catalog's default policies with the
// overrides from the TOML file at path applied. An empty path returns the
// defaults.
func LoadToolPolicies(path string) (map[string]executor.Policy, error) {
	policies := executor.DefaultPolicies()
	if path == "" {
		return policies, nil
	}

	var file toolPolicyFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to read tool policies: %w", err)
	}

	for name, o := range file.Tools {
		p, ok := policies[name]
		if !ok {
			p = executor.DefaultPolicy
		}
		if o.Timeout != nil {
			p.Timeout = o.Timeout.Duration
		}
		if o.MaxRetries != nil {
			p.MaxRetries = *o.MaxRetries
		}
		if o.BaseDelay != nil {
			p.BaseDelay = o.BaseDelay.Duration
		}
		if o.Multiplier != nil {
			p.Multiplier = *o.Multiplier
		}
		if o.MaxDelay != nil {
			p.MaxDelay = o.MaxDelay.Duration
		}
		if p.Timeout <= 0 || p.MaxRetries < 0 {
			return nil, fmt.Errorf("invalid policy for tool %q: timeout must be positive and retries not negative", name)
		}
		if p.MaxRetries > 0 && !executor.AllowsRetries(name) {
			return nil, fmt.Errorf("invalid policy for tool %q: the tool is not idempotent and cannot be retried", name)
		}
		policies[name] = p
	}
	return policies, nil
}
