package config

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// bucketNamePattern follows S3 naming: lowercase letters, digits, dots and hyphens.
var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func newValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterCustomValidators(v); err != nil {
		panic(err)
	}
	return v
}

// RegisterCustomValidators registers custom validation functions
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("bucket_name", validateBucketName)
}

// validateBucketName accepts an empty value so that disabled storage validates.
func validateBucketName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" {
		return true
	}
	if strings.Contains(name, "..") {
		return false
	}
	return bucketNamePattern.MatchString(name)
}
