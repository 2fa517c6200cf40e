package app

import (
	"fmt"
	"net/http"
)

// DomainError carries an HTTP status and a stable machine-readable code
// alongside the human message, so handlers can map service failures
// without inspecting message text.
type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message}
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden")
}

func errAssetsDisabled() *DomainError {
	return domainError(http.StatusNotImplemented, "ASSETS_DISABLED", "Object storage is not configured")
}
