package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers gateway-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: a positive time.ParseDuration string
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateDuration accepts strings time.ParseDuration understands, greater than zero.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	// Create validator with required struct enabled
	v := validator.New(validator.WithRequiredStructEnabled())

	// Register custom validators
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	// Run struct validation (tags)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: rule names identify rules in decisions and metrics
	if err := c.validateUniqueRuleNames(); err != nil {
		return err
	}

	// Cross-field validation: redirects need a redirect status
	if err := c.validateRedirects(); err != nil {
		return err
	}

	// Cross-field validation: two targets on one prefix would shadow each other
	if err := c.validateUniquePrefixes(); err != nil {
		return err
	}

	return nil
}

// validateUniqueRuleNames ensures no two rules share a name.
func (c *Config) validateUniqueRuleNames() error {
	seen := make(map[string]int, len(c.Rules))
	for i, r := range c.Rules {
		if prev, exists := seen[r.Name]; exists {
			return fmt.Errorf("rules[%d]: duplicate rule name %q (first used by rules[%d])", i, r.Name, prev)
		}
		seen[r.Name] = i
	}
	return nil
}

// validateRedirects ensures block.location is only used with a 3xx status.
func (c *Config) validateRedirects() error {
	for i, r := range c.Rules {
		if r.Block.Location == "" {
			continue
		}
		if r.Block.Status < 300 || r.Block.Status > 399 {
			return fmt.Errorf("rules[%d]: block.location requires a 3xx block.status, got %d", i, r.Block.Status)
		}
	}
	return nil
}

// validateUniquePrefixes ensures every upstream path prefix is used once.
func (c *Config) validateUniquePrefixes() error {
	seen := make(map[string]struct{}, len(c.Upstream.Targets))
	for i, t := range c.Upstream.Targets {
		if _, exists := seen[t.PathPrefix]; exists {
			return fmt.Errorf("upstream.targets[%d]: duplicate path_prefix %q", i, t.PathPrefix)
		}
		seen[t.PathPrefix] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "uri":
		return fmt.Sprintf("%s must be a valid URI", field)
	case "file":
		return fmt.Sprintf("%s must be an existing file", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like '30s'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
