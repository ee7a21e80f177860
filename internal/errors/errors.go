// healthcare-mcp: MCP server for healthcare data lookup
// SPDX-License-Identifier: MIT
//
// Custom error types and error codes for MCP responses.

package errors

import (
	"fmt"
	"regexp"
)

type ErrorCode string

const (
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeToolNotFound        ErrorCode = "TOOL_NOT_FOUND"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeStorageError        ErrorCode = "STORAGE_ERROR"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

type HealthMCPError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *HealthMCPError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func New(code ErrorCode, msg, hint string, details map[string]any) *HealthMCPError {
	return &HealthMCPError{Code: code, Message: msg, Hint: hint, Details: sanitize(details)}
}

func NewInvalidInput(msg, hint string, details map[string]any) *HealthMCPError {
	return New(CodeInvalidInput, msg, hint, details)
}

func NewToolNotFound(tool string) *HealthMCPError {
	return New(CodeToolNotFound, fmt.Sprintf("tool %q not found", tool), "check the tool name", nil)
}

func NewUpstreamUnavailable(api string, err error) *HealthMCPError {
	details := map[string]any{"api": api}
	if err != nil {
		details["cause"] = scrub(err.Error())
	}
	return New(CodeUpstreamUnavailable, "upstream API unavailable", "retry later", details)
}

func NewTimeout(msg string) *HealthMCPError {
	return New(CodeTimeout, msg, "retry or increase request_timeout_seconds", nil)
}

func NewStorage(err error) *HealthMCPError {
	if err == nil {
		return New(CodeStorageError, "storage error", "see logs", nil)
	}
	return New(CodeStorageError, "storage error", "see logs", map[string]any{"cause": scrub(err.Error())})
}

func NewRateLimited() *HealthMCPError {
	return New(CodeRateLimited, "rate limit exceeded", "slow down", nil)
}

func NewInternal(err error) *HealthMCPError {
	if err == nil {
		return New(CodeInternalError, "internal error", "see logs", nil)
	}
	return New(CodeInternalError, "internal error", "see logs", map[string]any{"cause": scrub(err.Error())})
}

// ToToolError converts any error to a HealthMCPError;
// unknown errors are wrapped as internal error with scrubbed message.
func ToToolError(err error) *HealthMCPError {
	if err == nil {
		return nil
	}
	if me, ok := err.(*HealthMCPError); ok {
		return me
	}
	return NewInternal(err)
}

func sanitize(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = scrub(fmt.Sprint(v))
	}
	return out
}

var secretParam = regexp.MustCompile(`(?i)(api_key|apikey|token)=[^&\s"]+`)

// scrub best-effort masks API keys embedded in upstream URLs or messages.
func scrub(s string) string {
	return secretParam.ReplaceAllString(s, "$1=***")
}
