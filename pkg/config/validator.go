package config

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// collectionNamePattern accepts 3-63 characters of [a-zA-Z0-9._-] starting and
// ending with an alphanumeric character.
var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{1,61}[a-zA-Z0-9]$`)

// RegisterCustomValidators registers custom validation functions
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("collection_name", validateCollectionName); err != nil {
		return err
	}
	if err := v.RegisterValidation("log_level", validateLogLevel); err != nil {
		return err
	}
	return v.RegisterValidation("cron_spec", validateCronSpec)
}

func validateCollectionName(fl validator.FieldLevel) bool {
	return collectionNamePattern.MatchString(fl.Field().String())
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "", "debug", "info", "warn", "warning", "error", "critical", "disabled", "off":
		return true
	}
	return false
}

// validateCronSpec accepts an empty value or a standard five-field schedule.
func validateCronSpec(fl validator.FieldLevel) bool {
	expr := strings.TrimSpace(fl.Field().String())
	if expr == "" {
		return true
	}
	_, err := cron.ParseStandard(expr)
	return err == nil
}
