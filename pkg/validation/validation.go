package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxPeerIDLength  = 256
	MaxSubjectLength = 128
	// MaxCountdownInterval bounds a single countdown tick, in milliseconds.
	MaxCountdownInterval = 60 * 60 * 1000
)

var ErrInvalid = errors.New("invalid value")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// ValidatePeerID accepts any printable UTF-8 identifier. Peer ids are
// chosen by clients and echoed back verbatim, so only empty, oversized and
// control-character ids are refused.
func ValidatePeerID(peerID string) error {
	if peerID == "" {
		return invalid("peer id is required")
	}
	if len(peerID) > MaxPeerIDLength {
		return invalid("peer id is too long (max %d bytes)", MaxPeerIDLength)
	}
	return printable(peerID, "peer id")
}

// ValidateSubject checks a token subject; empty means "generate one".
func ValidateSubject(subject string) error {
	if utf8.RuneCountInString(subject) > MaxSubjectLength {
		return invalid("subject is too long (max %d characters)", MaxSubjectLength)
	}
	return printable(subject, "subject")
}

// ValidateCountdown checks a countdown request. maxOutOf of 0 disables the
// upper bound on outOf.
func ValidateCountdown(outOf, intervalMs, maxOutOf int) error {
	if outOf < 0 {
		return invalid("outOf must be >= 0, got %d", outOf)
	}
	if intervalMs <= 0 {
		return invalid("intervalMs must be > 0, got %d", intervalMs)
	}
	if intervalMs > MaxCountdownInterval {
		return invalid("intervalMs is too large (max %d)", MaxCountdownInterval)
	}
	if maxOutOf > 0 && outOf > maxOutOf {
		return invalid("outOf %d exceeds limit %d", outOf, maxOutOf)
	}
	return nil
}

// ValidateOrigin accepts "*" or an absolute http(s) origin without a path.
func ValidateOrigin(origin string) error {
	if origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return invalid("origin %q: %v", origin, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("origin %q must use http or https", origin)
	}
	if u.Host == "" {
		return invalid("origin %q must have a host", origin)
	}
	if strings.TrimSuffix(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "" {
		return invalid("origin %q must not carry a path, query or fragment", origin)
	}
	return nil
}

func printable(s, field string) error {
	if !utf8.ValidString(s) {
		return invalid("%s is not valid UTF-8", field)
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return invalid("%s contains control characters", field)
		}
	}
	return nil
}
