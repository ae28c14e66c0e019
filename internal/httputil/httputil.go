package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// ParseIntParam parses an integer query parameter, returning defaultVal when
// the parameter is empty or malformed.
func ParseIntParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultVal
}

// ParseInt64Param is ParseIntParam for int64 values such as window seconds.
func ParseInt64Param(s string, defaultVal int64) int64 {
	if s == "" {
		return defaultVal
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	return defaultVal
}

// ParsePortnums parses a comma-separated portnum list like "1,3,67".
// Malformed entries are skipped.
func ParsePortnums(s string) []int32 {
	if s == "" {
		return nil
	}
	var portnums []int32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if v, err := strconv.ParseInt(part, 10, 32); err == nil {
			portnums = append(portnums, int32(v))
		}
	}
	return portnums
}

// ParseNodeID parses a node id given either as a decimal number or in the
// "!hex" radio notation.
func ParseNodeID(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "!") {
		if v, err := strconv.ParseUint(strings.TrimPrefix(s, "!"), 16, 32); err == nil {
			return uint32(v), true
		}
		return 0, false
	}
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v), true
	}
	return 0, false
}
