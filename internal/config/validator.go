// internal/config/validator.go
//
// Startup validation for the process configuration.  The loader calls
// validateStruct right after unmarshalling the merged koanf tree; any
// failure aborts boot so the binary never runs half-configured.
// Descriptor-level validation lives in internal/tenant.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var v = validator.New()

// validateStruct flattens validator's field errors into one message
// naming every offending field, so an operator fixes the file once.
func validateStruct(c *Config) error {
	err := v.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(parts, ", "))
}
