package app

import (
	"fmt"
	"net/http"
)

const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeShareTokenMissing = "SHARE_TOKEN_MISSING"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeEmailUnavailable  = "EMAIL_UNAVAILABLE"
	CodeExportUnavailable = "EXPORT_UNAVAILABLE"
	CodeServerError       = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}
