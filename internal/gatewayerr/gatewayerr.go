// Package gatewayerr defines the gateway's error taxonomy: config, transport,
// and data errors. Components return these instead of bare errors
// so callers can branch on kind with errors.As rather than string matching.
package gatewayerr

import "fmt"

// ConfigError reports a malformed or invalid configuration value. It is
// always fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Reason)
}

// ConfigErrors collects every ConfigError found while validating a config in
// one pass, rather than failing on the first violation.
type ConfigErrors struct {
	Errors []*ConfigError
}

func (e *ConfigErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("config: %d invalid fields (first: %s)", len(e.Errors), e.Errors[0].Error())
}

func (e *ConfigErrors) Add(field, reason string) {
	e.Errors = append(e.Errors, &ConfigError{Field: field, Reason: reason})
}

func (e *ConfigErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// TransportError reports a failed call to the registry: unreachable,
// timed out, or a non-2xx response. The caller decides whether to retry;
// the registry client itself never retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("registry transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DataError reports a problem with an instance returned by the registry. A
// structurally unusable instance is dropped; an instance whose pathPrefix
// differs from its service's first instance is kept and only reported. The
// rest of the tick proceeds either way.
type DataError struct {
	ServiceName string
	InstanceID  string
	Reason      string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("registry data: service %q instance %q: %s", e.ServiceName, e.InstanceID, e.Reason)
}
