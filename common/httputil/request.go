package httputil

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ParamError reports a query parameter that failed to parse or was out of range.
type ParamError struct {
	Name   string
	Value  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Name, e.Value, e.Reason)
}

// GetClientIP extracts the real client IP address from request headers.
// X-Forwarded-For wins over X-Real-IP, which wins over RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// ParseBoundedInt reads name from q. A missing value yields defaultVal; a value
// that is not an integer or falls outside [min, max] yields a *ParamError.
func ParseBoundedInt(q url.Values, name string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ParamError{Name: name, Value: raw, Reason: "not an integer"}
	}
	if v < min || v > max {
		return 0, &ParamError{Name: name, Value: raw, Reason: fmt.Sprintf("must be between %d and %d", min, max)}
	}
	return v, nil
}
