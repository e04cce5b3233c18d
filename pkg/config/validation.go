package config

import (
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags, then the rules tags cannot express.
//
// Log level normalization happens in ApplyDefaults; validation accepts
// either case.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.API.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if cfg.Adapters.API.Address == "" {
		return fmt.Errorf("adapters.api: address is required")
	}

	if cfg.Server.Metrics.Enabled && cfg.Adapters.API.Network == "tcp" {
		if port := fmt.Sprint(cfg.Server.Metrics.Port); hasPort(cfg.Adapters.API.Address, port) {
			return fmt.Errorf("server.metrics.port %s conflicts with adapters.api.address %s", port, cfg.Adapters.API.Address)
		}
	}

	return nil
}

// hasPort reports whether the host:port address uses port.
func hasPort(address, port string) bool {
	_, p, err := net.SplitHostPort(address)
	return err == nil && p == port
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
