// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `Load` calls `validateStruct` once the Settings aggregate is assembled.
// Any failure aborts startup.  Feature groups call `validateValue` (see
// group.go) on their own value instead, so a malformed OIDC endpoint
// disables OIDC rather than the whole process.  The Feature fields are
// therefore skipped here.
package config

import "github.com/go-playground/validator/v10"

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct returns the first validation error, or nil on success.
func validateStruct(s *Settings) error {
	return validate.Struct(s)
}
