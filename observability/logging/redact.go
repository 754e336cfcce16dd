package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Sensitivity classifies a log key by what it may reveal about a schedule or
// its parties.
type Sensitivity int

const (
	// Public keys are emitted verbatim: identifiers, commands, amounts and
	// rejection reasons.
	Public Sensitivity = iota
	// Party keys carry participant addresses and keys. Only a fingerprint is
	// logged so lines about one party can still be correlated.
	Party
	// Endpoint keys carry URLs whose credentials and query are dropped.
	Endpoint
	// Secret keys are never logged.
	Secret
)

var sensitiveKeys = map[string]Sensitivity{
	"party":         Party,
	"parties":       Party,
	"employer":      Party,
	"contractor":    Party,
	"signer":        Party,
	"authorizer":    Party,
	"authorizers":   Party,
	"address":       Party,
	"publickey":     Party,
	"url":           Endpoint,
	"webhook":       Endpoint,
	"endpoint":      Endpoint,
	"dsn":           Endpoint,
	"signature":     Secret,
	"signatures":    Secret,
	"privatekey":    Secret,
	"passphrase":    Secret,
	"keystore":      Secret,
	"secret":        Secret,
	"hmacsecret":    Secret,
	"token":         Secret,
	"authorization": Secret,
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "", ".", "").Replace(key)
}

// Classify returns how values logged under key are treated.
func Classify(key string) Sensitivity {
	return sensitiveKeys[normalizeKey(key)]
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr with value rendered according to the
// sensitivity of key. The original key casing is preserved.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, redact(Classify(key), value))
}

func redact(class Sensitivity, value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	switch class {
	case Party:
		parts := strings.Split(value, ",")
		for i, part := range parts {
			parts[i] = Fingerprint(part)
		}
		return strings.Join(parts, ",")
	case Endpoint:
		return MaskURL(value)
	case Secret:
		return RedactedValue
	default:
		return value
	}
}

// redactAttr applies the key classification to every attribute reaching the
// handler.
func redactAttr(attr slog.Attr) slog.Attr {
	class := Classify(attr.Key)
	if class == Public {
		return attr
	}
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, redact(class, attr.Value.String()))
	case slog.KindGroup:
		return attr
	default:
		if class == Secret {
			return slog.String(attr.Key, RedactedValue)
		}
		return slog.String(attr.Key, redact(class, attr.Value.String()))
	}
}

// MaskURL keeps the scheme, host and path of raw and drops user info, query
// and fragment. Unparseable values are masked entirely.
func MaskURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return MaskValue(raw)
	}
	masked := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	return masked.String()
}

// Fingerprint keeps the first and last four characters of long opaque values
// such as party addresses so log lines can be correlated without leaking them.
// Values that are already fingerprints are returned unchanged.
func Fingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == RedactedValue || isFingerprint(trimmed) {
		return trimmed
	}
	if len(trimmed) <= 12 {
		return MaskValue(trimmed)
	}
	return trimmed[:4] + "…" + trimmed[len(trimmed)-4:]
}

func isFingerprint(value string) bool {
	head, tail, ok := strings.Cut(value, "…")
	return ok && len(head) == 4 && len(tail) == 4
}
