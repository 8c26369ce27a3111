// Package secretkeys knows which environment variables hold credentials and masks
// their values in text shown to the user.
package secretkeys

import (
	"net/url"
	"slices"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
)

const (
	// EnvKey lists additional secret variables, comma separated.
	EnvKey    = "GALLERY_UPLOAD_SECRET_ENV_KEYS"
	separator = ","
	mask      = "[REDACTED]"
)

// DefaultKeys are always treated as secret.
var DefaultKeys = []string{
	"GALLERY_UPLOAD_RTDB_AUTH",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
}

// Manager ...
type Manager interface {
	Load(envRepository env.Repository) []string
	Format(keys []string) string
}

type manager struct {
}

// NewManager ...
func NewManager() Manager {
	return manager{}
}

// Load returns DefaultKeys followed by the keys listed in EnvKey.
func (manager) Load(envRepository env.Repository) []string {
	keys := slices.Clone(DefaultKeys)
	for _, key := range strings.Split(envRepository.Get(EnvKey), separator) {
		key = strings.TrimSpace(key)
		if key != "" && !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Format ...
func (manager) Format(keys []string) string {
	return strings.Join(keys, separator)
}

// Redactor masks the values of secret variables.
type Redactor struct {
	values []string
}

// NewRedactor collects the current values of keys. Query-escaped forms are masked
// too, since secrets end up in request URLs.
func NewRedactor(envRepository env.Repository, keys []string) Redactor {
	var values []string
	for _, key := range keys {
		value := envRepository.Get(key)
		if value == "" {
			continue
		}
		values = append(values, value)
		if escaped := url.QueryEscape(value); escaped != value {
			values = append(values, escaped)
		}
	}
	// Longer values first, so a secret containing another one is masked whole.
	slices.SortFunc(values, func(a, b string) int { return len(b) - len(a) })
	return Redactor{values: values}
}

// Redact ...
func (r Redactor) Redact(text string) string {
	for _, value := range r.values {
		text = strings.ReplaceAll(text, value, mask)
	}
	return text
}
