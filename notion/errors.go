package notion

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError is an error response from the Notion API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("notion: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("notion: HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// IsStaleReference reports whether the error means the target page is
// archived or no longer exists.
func (e *APIError) IsStaleReference() bool {
	msg := strings.ToLower(e.Message)

	switch {
	case e.Status == http.StatusBadRequest && e.Code == "validation_error":
		return strings.Contains(msg, "archived") || strings.Contains(msg, "could not find")
	case e.Status == http.StatusNotFound && e.Code == "object_not_found":
		return true
	default:
		return false
	}
}
