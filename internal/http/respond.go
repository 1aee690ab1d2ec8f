package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tendant/simple-sso/internal/audit"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
)

// ServiceKeyHeader carries the caller's key value.
const ServiceKeyHeader = "X-Service-Key"

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError collapses an error to its external class. The distinguishing
// detail stays in the audit log; the response body never reveals which
// part of a credential was wrong.
func writeError(w http.ResponseWriter, err error) {
	class := ssoerrors.Class(err)

	status := http.StatusInternalServerError
	switch class {
	case ssoerrors.CodeUnauthorized:
		status = http.StatusForbidden
	case ssoerrors.CodeBadRequest:
		status = http.StatusBadRequest
	case ssoerrors.CodeNotFound:
		status = http.StatusNotFound
	}

	writeJSON(w, status, map[string]string{"error": class})
}

// callerKey extracts the presented key value from the request.
func callerKey(r *http.Request) string {
	if value := r.Header.Get(ServiceKeyHeader); value != "" {
		return value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// requestMeta builds the audit metadata for a request.
func requestMeta(r *http.Request) audit.Meta {
	return audit.Meta{
		UserAgent: r.UserAgent(),
		RemoteIP:  r.RemoteAddr,
		Forwarded: r.Header.Get("X-Forwarded-For"),
	}
}

// decodeBody decodes a small JSON request body.
func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return ssoerrors.BadRequest("invalid request body")
	}
	return nil
}
