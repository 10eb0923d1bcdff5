package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "educhain/pkg/domain-errors"
)

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are already sent, an encoding error cannot change the status
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError translates a domain error into its HTTP status and a JSON body
// of the form {"error": code, "error_description": message}. Internal errors
// never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if !errors.As(err, &domainErr) {
		WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": string(dErrors.CodeInternal),
		})
		return
	}
	status := DomainCodeToHTTPStatus(domainErr.Code)
	response := map[string]string{"error": string(domainErr.Code)}
	if domainErr.Message != "" && status != http.StatusInternalServerError {
		response["error_description"] = domainErr.Message
	}
	WriteJSON(w, status, response)
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeDuplicateIssuance, dErrors.CodeAlreadyClaimed:
		return http.StatusConflict
	case dErrors.CodeStoreUnavailable, dErrors.CodeAnchorLookupFailed:
		return http.StatusServiceUnavailable
	case dErrors.CodeAnchorFailed:
		return http.StatusBadGateway
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
