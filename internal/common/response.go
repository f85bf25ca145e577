package common

import (
	"encoding/json"
	"net/http"
)

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders a failure using the canonical wire shape. The body is
// always a single "error" string so the storefront can surface it directly.
func JSONError(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// JSONGatewayError renders a GatewayError with its mapped status code.
// Unclassified errors surface as a generic 500 message.
func JSONGatewayError(w http.ResponseWriter, err error) {
	if ge, ok := AsGatewayError(err); ok {
		JSONError(w, ge.HTTPStatus(), ge.Message)
		return
	}
	JSONError(w, http.StatusInternalServerError, "internal error")
}
