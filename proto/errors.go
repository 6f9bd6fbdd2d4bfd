package proto

import "fmt"

// Error codes returned by the REST and gRPC surfaces.
const (
	CodeInvalidParams   = "INVALID_PARAMS"
	CodeDataNotFound    = "DATA_NOT_FOUND"
	CodeExecutionFailed = "EXECUTION_FAILED"
	CodeTimeout         = "TIMEOUT"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
	}
	return e.Code + ": " + e.Message
}

func NewInvalidParams(details string) *APIError {
	return &APIError{Code: CodeInvalidParams, Message: "Invalid parameters provided", Details: details}
}

func NewDataNotFound(details string) *APIError {
	return &APIError{Code: CodeDataNotFound, Message: "Required data not available", Details: details}
}

func NewExecutionFailed(details string) *APIError {
	return &APIError{Code: CodeExecutionFailed, Message: "Backtest execution failed", Details: details}
}

func NewTimeout(details string) *APIError {
	return &APIError{Code: CodeTimeout, Message: "Operation timed out", Details: details}
}
