package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Logger wraps a sugared zap logger and scrubs structured fields before they
// are written. Credentials are dropped, operator identities are hashed.
type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

// New builds a zap-backed logger. "prod"/"production" selects JSON output,
// "test"/"nop" discards everything, anything else is the development console.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "test", "nop":
		return Nop(), nil
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &Logger{SugaredLogger: z.Sugar()}, nil
}

// Nop returns a logger that drops every entry.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() { _ = l.SugaredLogger.Sync() }

func (l *Logger) Debug(msg string, kv ...interface{}) { l.SugaredLogger.Debugw(msg, scrub(kv)...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.SugaredLogger.Infow(msg, scrub(kv)...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.SugaredLogger.Warnw(msg, scrub(kv)...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.SugaredLogger.Errorw(msg, scrub(kv)...) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.SugaredLogger.Fatalw(msg, scrub(kv)...) }

// With returns a child logger carrying the given fields on every entry.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(scrub(kv)...)}
}

type fieldPolicy int

const (
	keep fieldPolicy = iota
	redact
	pseudonymize
)

const redacted = "[REDACTED]"

// Substrings matched against lower-cased field names.
var (
	credentialMarkers = []string{"token", "authorization", "password", "secret", "api_key", "apikey", "dsn"}
	identityMarkers   = []string{"approved_by", "decided_by", "rejected_by"}
)

func policyFor(key string) fieldPolicy {
	if key == "" {
		return keep
	}
	for _, m := range credentialMarkers {
		if strings.Contains(key, m) {
			return redact
		}
	}
	if key == "actor" {
		return pseudonymize
	}
	for _, m := range identityMarkers {
		if strings.Contains(key, m) {
			return pseudonymize
		}
	}
	return keep
}

var redaction struct {
	once    sync.Once
	enabled bool
	salt    string
}

func redactionEnabled() bool {
	redaction.once.Do(func() {
		switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REDACTION_ENABLED"))) {
		case "0", "false", "no", "off":
			redaction.enabled = false
		default:
			redaction.enabled = true
		}
		redaction.salt = strings.TrimSpace(os.Getenv("LOG_HASH_SALT"))
	})
	return redaction.enabled
}

// scrub walks a zap key/value list. A trailing key without a value is kept
// as-is so zap can report it.
func scrub(kv []interface{}) []interface{} {
	if len(kv) == 0 || !redactionEnabled() {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		name := stringify(kv[i])
		out = append(out, name, sanitizeValue(normalizeKey(name), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		out = append(out, kv[len(kv)-1])
	}
	return out
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func sanitizeValue(key string, val interface{}) interface{} {
	switch policyFor(key) {
	case redact:
		return redacted
	case pseudonymize:
		return pseudonym(val)
	}
	switch v := val.(type) {
	case map[string]interface{}:
		if v == nil {
			return v
		}
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[k] = sanitizeValue(normalizeKey(k), inner)
		}
		return out
	case []interface{}:
		if v == nil {
			return v
		}
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = sanitizeValue("", inner)
		}
		return out
	case string:
		if isBearerJWT(v) {
			return redacted
		}
		return v
	default:
		return val
	}
}

// pseudonym is a short salted digest, stable for a given salt so entries for
// the same operator can still be correlated.
func pseudonym(val interface{}) string {
	raw := stringify(val)
	if raw == "" {
		return ""
	}
	h := sha256.New()
	_, _ = h.Write([]byte(redaction.salt))
	_, _ = h.Write([]byte(raw))
	return "hash:" + hex.EncodeToString(h.Sum(nil))[:12]
}

func isBearerJWT(s string) bool {
	parts := strings.Split(strings.TrimPrefix(s, "Bearer "), ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
