package servertiming

import (
	"math"
	"strconv"
	"strings"
)

const (
	// HeaderName is the response header (and trailer) carrying the metrics.
	HeaderName = "Server-Timing"

	totalName        = "total"
	totalDescription = "Total Response Time"
)

// FormatMetric serializes one metric as `name; dur=<ms>` with an optional
// `; desc="<description>"` suffix. The duration keeps full float precision.
func FormatMetric(name string, durMs float64, description string) (string, error) {
	if !validName(name) {
		return "", ErrInvalidName
	}
	if math.IsNaN(durMs) || math.IsInf(durMs, 0) {
		return "", ErrInvalidDuration
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteString("; dur=")
	b.WriteString(strconv.FormatFloat(durMs, 'f', -1, 64))
	if description != "" {
		b.WriteString(`; desc="`)
		b.WriteString(quoteEscaper.Replace(description))
		b.WriteByte('"')
	}
	return b.String(), nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// validName reports whether name is a non-empty RFC 7230 token.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}
