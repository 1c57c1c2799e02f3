package provider

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ValidateConfigFields validates configuration against provided field definitions
func ValidateConfigFields(providerName string, config map[string]string, requiredFields []ConfigField) error {
	for _, field := range requiredFields {
		value, exists := config[field.Key]
		if !field.Required && strings.TrimSpace(value) == "" {
			continue
		}

		if !exists {
			return fmt.Errorf("%w: %s: required field '%s' is missing", ErrConfig, providerName, field.Key)
		}

		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s: required field '%s' cannot be empty", ErrConfig, providerName, field.Key)
		}

		if err := validateFieldType(providerName, field, value); err != nil {
			return err
		}

		if err := validateFieldPattern(providerName, field, value); err != nil {
			return err
		}

		if err := validateFieldLength(providerName, field, value); err != nil {
			return err
		}
	}

	return nil
}

// validateFieldType validates field based on its type
func validateFieldType(providerName string, field ConfigField, value string) error {
	switch field.Type {
	case "url":
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s: field '%s' must be an absolute http(s) URL", ErrConfig, providerName, field.Key)
		}
		return nil
	case "boolean":
		if value != "true" && value != "false" {
			return fmt.Errorf("%w: %s: field '%s' must be 'true' or 'false'", ErrConfig, providerName, field.Key)
		}
		return nil
	default:
		return nil
	}
}

// validateFieldPattern validates field against regex pattern
func validateFieldPattern(providerName string, field ConfigField, value string) error {
	if field.Pattern == "" {
		return nil
	}

	matched, err := regexp.MatchString(field.Pattern, value)
	if err != nil {
		return fmt.Errorf("%w: %s: invalid pattern for field '%s': %v", ErrConfig, providerName, field.Key, err)
	}

	if !matched {
		return fmt.Errorf("%w: %s: field '%s' does not match required pattern", ErrConfig, providerName, field.Key)
	}

	return nil
}

// validateFieldLength validates field length constraints
func validateFieldLength(providerName string, field ConfigField, value string) error {
	if field.MinLength > 0 && len(value) < field.MinLength {
		return fmt.Errorf("%w: %s: field '%s' must be at least %d characters", ErrConfig, providerName, field.Key, field.MinLength)
	}

	if field.MaxLength > 0 && len(value) > field.MaxLength {
		return fmt.Errorf("%w: %s: field '%s' must not exceed %d characters", ErrConfig, providerName, field.Key, field.MaxLength)
	}

	return nil
}
