package tenancy

import (
	"fmt"
	"net/http"
	"regexp"
)

// maxProgramLen is the maximum length for a program key.
const maxProgramLen = 63

// programRe validates program key format: lowercase alphanumeric and hyphens,
// must start and end with an alphanumeric character.
var programRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ProgramQueryParam is the query parameter name used for program resolution.
const ProgramQueryParam = "program"

// ProgramHeader is the HTTP header used for program resolution.
const ProgramHeader = "X-Program"

// Resolver resolves the program context from an HTTP request.
type Resolver interface {
	Resolve(r *http.Request) (ProgramContext, error)
}

// SingleProgramResolver always returns the "default" program.
type SingleProgramResolver struct{}

// Resolve always returns a ProgramContext with Program "default".
func (s SingleProgramResolver) Resolve(_ *http.Request) (ProgramContext, error) {
	return ProgramContext{Program: "default"}, nil
}

// ProgramResolver reads the program key from the request query parameter
// or header. In multi-program mode the program key is always required.
type ProgramResolver struct{}

// Resolve extracts the program key from the request. It checks the query
// parameter first, then falls back to the X-Program header. Returns an error
// if the program key is missing or invalid.
func (p ProgramResolver) Resolve(r *http.Request) (ProgramContext, error) {
	key := r.URL.Query().Get(ProgramQueryParam)
	if key == "" {
		key = r.Header.Get(ProgramHeader)
	}

	if key == "" {
		return ProgramContext{}, fmt.Errorf("program is required in multi-program mode (use ?program= query param or X-Program header)")
	}

	if err := validateProgram(key); err != nil {
		return ProgramContext{}, err
	}

	return ProgramContext{Program: key}, nil
}

// validateProgram checks that a program key is a lowercase slug:
// alphanumeric and hyphens, 1-63 characters, starts and ends alphanumeric.
func validateProgram(key string) error {
	if len(key) > maxProgramLen {
		return fmt.Errorf("program %q exceeds maximum length of %d characters", key, maxProgramLen)
	}
	if !programRe.MatchString(key) {
		return fmt.Errorf("program %q is invalid: must consist of lowercase alphanumeric characters or hyphens, and must start and end with an alphanumeric character", key)
	}
	return nil
}
