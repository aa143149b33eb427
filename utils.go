package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// respondFailure maps a service error to a status code and a localized body.
func respondFailure(w http.ResponseWriter, lz *Localizer, err error, notes []Notification) {
	kind := KindOf(err)
	resp := ErrorResponse{Kind: string(kind), Message: err.Error(), Notifications: notes}

	status := http.StatusInternalServerError
	switch kind {
	case ErrValidation:
		status = http.StatusUnprocessableEntity
		resp.Violations = localizeViolations(lz, err)
		resp.Message = violationSummary(resp.Violations)
	case ErrShapeMismatch, ErrMalformedOptions:
		status = http.StatusBadRequest
	case ErrNotFound:
		status = http.StatusNotFound
	case ErrPermission:
		status = http.StatusForbidden
	case ErrRemoteQuery:
		status = http.StatusBadGateway
		resp.Message = lz.T(msgRemoteFailed, err.Error())
	case ErrCapabilityDenied:
		status = http.StatusConflict
	}
	resp.Error = http.StatusText(status)
	respondJSON(w, status, resp)
}

func localizeViolations(lz *Localizer, err error) []FieldViolation {
	verr, ok := asValidationError(err)
	if !ok {
		return nil
	}
	out := make([]FieldViolation, 0, len(verr.Violations))
	for _, v := range verr.Violations {
		switch v.Code {
		case ViolationRequired:
			v.Message = lz.T(msgFieldRequired, v.FieldName)
		default:
			v.Message = lz.T(msgFieldInvalid, v.FieldName)
		}
		out = append(out, v)
	}
	return out
}

func violationSummary(violations []FieldViolation) string {
	msgs := make([]string, 0, len(violations))
	for _, v := range violations {
		msgs = append(msgs, v.Message)
	}
	return strings.Join(msgs, "; ")
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("request body is empty")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// getUserIDFromRequest extracts the user id forwarded by the auth proxy
func getUserIDFromRequest(r *http.Request) string {
	if userID := strings.TrimSpace(r.Header.Get("X-User-ID")); userID != "" {
		return userID
	}
	return "anonymous"
}

// getUsernameFromRequest extracts username from request headers
func getUsernameFromRequest(r *http.Request) string {
	if username := strings.TrimSpace(r.Header.Get("X-Username")); username != "" {
		return username
	}
	return "anonymous"
}

const sessionHeader = "X-Session-ID"

// getSessionFromRequest identifies the browser tab whose draft is being edited.
// Without a session header the user id is used, so one user shares one draft.
func getSessionFromRequest(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get(sessionHeader)); s != "" {
		return s
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return getUserIDFromRequest(r)
}

func newSessionID() string {
	return uuid.NewString()
}

type sessionKey struct{}

func withSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

func sessionFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sessionKey{}).(string); ok && s != "" {
		return s
	}
	return "default"
}

// parseValueList splits a value string by comma or semicolon
func parseValueList(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';'
	})
	return parts
}

// generateID generates a simple hash-based ID for a value
func generateID(value string) string {
	hash := 0
	for _, char := range value {
		hash = hash*31 + int(char)
	}
	return fmt.Sprintf("val-%d", hash)
}

// compareLabels compares two labels, optionally ignoring case
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func compareLabels(a, b string, ignoreCase bool) int {
	if ignoreCase {
		a = strings.ToLower(a)
		b = strings.ToLower(b)
	}
	return strings.Compare(a, b)
}

// sortValues sorts the values based on sortBy, sortOrder, and ignoreCase parameters
// sortBy: "count" or "label" (default: "count")
// sortOrder: "asc" or "desc" (default: "desc" for count, "asc" for label)
// Ties on count break by label ascending; ties on label break by count descending.
func sortValues(values []FieldValueOption, sortBy string, sortOrder string, ignoreCase bool) []FieldValueOption {
	sortBy = strings.ToLower(sortBy)
	sortOrder = strings.ToLower(sortOrder)
	if sortBy != "label" {
		sortBy = "count"
	}
	if sortOrder != "asc" && sortOrder != "desc" {
		if sortBy == "count" {
			sortOrder = "desc"
		} else {
			sortOrder = "asc"
		}
	}

	// Create a copy to avoid modifying the original slice
	sorted := make([]FieldValueOption, len(values))
	copy(sorted, values)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if sortBy == "count" {
			if a.Count != b.Count {
				if sortOrder == "asc" {
					return a.Count < b.Count
				}
				return a.Count > b.Count
			}
			return compareLabels(a.Label, b.Label, ignoreCase) < 0
		}
		if c := compareLabels(a.Label, b.Label, ignoreCase); c != 0 {
			if sortOrder == "asc" {
				return c < 0
			}
			return c > 0
		}
		return a.Count > b.Count
	})

	return sorted
}
