// Package errors provides the error taxonomy and classification for networka.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError represents bad or missing configuration, such as an
// IP-literal target supplied without a platform.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// NewConfigurationError creates a configuration error with a formatted message.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// TargetResolutionError indicates that a non-empty target expression
// resolved to zero devices.
type TargetResolutionError struct {
	Expression string
	Unknown    []string
}

func (e *TargetResolutionError) Error() string {
	if len(e.Unknown) > 0 {
		return fmt.Sprintf("target %q resolved to no devices (unknown tokens: %s)",
			e.Expression, strings.Join(e.Unknown, ", "))
	}
	return fmt.Sprintf("target %q resolved to no devices", e.Expression)
}

// AmbiguousTarget indicates a name defined in more than one inventory source
// with no disambiguating preference.
type AmbiguousTarget struct {
	Name      string
	Kind      string // "device" or "group"
	SourceIDs []string
}

func (e *AmbiguousTarget) Error() string {
	return fmt.Sprintf("%s %q is defined in multiple inventory sources: %s (use --prefer <kind>:<source-id> to disambiguate)",
		e.Kind, e.Name, strings.Join(e.SourceIDs, ", "))
}

// AmbiguousPreference indicates a preference token that matched more than
// one candidate source.
type AmbiguousPreference struct {
	Name      string
	Kind      string
	Prefer    string
	SourceIDs []string
}

func (e *AmbiguousPreference) Error() string {
	return fmt.Sprintf("preference %q matches multiple sources for %s %q: %s",
		e.Prefer, e.Kind, e.Name, strings.Join(e.SourceIDs, ", "))
}

// AmbiguousSelection indicates that an explicit source id selected more than
// one entry, which happens only when a source id was registered twice.
type AmbiguousSelection struct {
	Name      string
	Kind      string
	SourceID  string
	SourceIDs []string
}

func (e *AmbiguousSelection) Error() string {
	return fmt.Sprintf("source %q holds multiple entries for %s %q (duplicate source registration): %s",
		e.SourceID, e.Kind, e.Name, strings.Join(e.SourceIDs, ", "))
}

// IsAmbiguity reports whether err is one of the ambiguity error types.
func IsAmbiguity(err error) bool {
	var at *AmbiguousTarget
	var ap *AmbiguousPreference
	var as *AmbiguousSelection
	return errors.As(err, &at) || errors.As(err, &ap) || errors.As(err, &as)
}

// IsFatal reports whether err belongs to the resolution-level category that
// must abort a call before any device work starts.
func IsFatal(err error) bool {
	var ce *ConfigurationError
	var tr *TargetResolutionError
	return errors.As(err, &ce) || errors.As(err, &tr) || IsAmbiguity(err)
}

// Type classifies per-device execution errors for logging purposes.
type Type int

const (
	// ConnectionType represents network or SSH connection errors
	ConnectionType Type = iota

	// AuthenticationType represents SSH authentication failures
	AuthenticationType

	// ExecutionType represents command execution errors
	ExecutionType

	// TimeoutType represents timeout-related errors
	TimeoutType

	// UnknownType represents unclassified errors
	UnknownType
)

// String returns a string representation of the error type
func (t Type) String() string {
	switch t {
	case ConnectionType:
		return "connection"
	case AuthenticationType:
		return "authentication"
	case ExecutionType:
		return "execution"
	case TimeoutType:
		return "timeout"
	default:
		return "unknown"
	}
}

// Classify analyzes a per-device error and returns its type. The result is
// only advisory: device errors are always captured in the device's Result,
// never retried or propagated by this layer.
func Classify(err error) Type {
	if err == nil {
		return UnknownType
	}

	errStr := strings.ToLower(err.Error())

	if isAuthenticationError(errStr) {
		return AuthenticationType
	}
	if isTimeoutError(errStr) {
		return TimeoutType
	}
	if isConnectionError(errStr) {
		return ConnectionType
	}
	if isExecutionError(errStr) {
		return ExecutionType
	}
	return UnknownType
}

// isAuthenticationError checks if an error is related to SSH authentication
func isAuthenticationError(errStr string) bool {
	authKeywords := []string{
		"authentication failed",
		"auth fail",
		"permission denied (publickey)",
		"no supported authentication methods",
		"key exchange failed",
		"unable to authenticate",
		"access denied",
		"login incorrect",
	}

	for _, keyword := range authKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// isTimeoutError checks if an error is related to timeouts
func isTimeoutError(errStr string) bool {
	timeoutKeywords := []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"i/o timeout",
	}

	for _, keyword := range timeoutKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// isConnectionError checks if an error is related to network connectivity
func isConnectionError(errStr string) bool {
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"connection lost",
		"connection closed",
		"network unreachable",
		"no route to host",
		"host unreachable",
		"broken pipe",
		"handshake failed",
		"unexpected eof",
	}

	for _, keyword := range connectionKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// isExecutionError checks if an error is related to command execution
func isExecutionError(errStr string) bool {
	executionKeywords := []string{
		"command not found",
		"no such command",
		"execution failed",
		"process exited",
		"killed",
		"terminated",
	}

	for _, keyword := range executionKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}
