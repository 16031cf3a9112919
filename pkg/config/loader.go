// Package config loads service configuration from environment variables
// described by `env` and `envDefault` struct tags.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills cfg, a pointer to a tagged struct, from the process environment.
func Load(cfg any) error {
	return parse(cfg, env.Options{})
}

// LoadFrom fills cfg from environ instead of the process environment.
func LoadFrom(cfg any, environ map[string]string) error {
	return parse(cfg, env.Options{Environment: environ})
}

func parse(cfg any, opts env.Options) error {
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
