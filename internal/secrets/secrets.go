// Package secrets resolves credential values from configuration. A value may
// reference environment variables (${VAR} or ${VAR:-default}) or name a file
// with the "file:" prefix, as used for Docker and Kubernetes secrets.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/fieldpin/internal/errors"
)

// FilePrefix marks a value that names a secret file.
const FilePrefix = "file:"

// maxSecretFileSize limits secret file reads; secrets are tokens, not documents.
const maxSecretFileSize = 64 * 1024

// ExpandString expands ${VAR} and ${VAR:-default} references. A referenced
// variable that is unset and has no default is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file, trimming trailing newlines.
func ReadFile(path string) (string, error) {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	switch {
	case err != nil:
		return "", fileError(clean, err)
	case !info.Mode().IsRegular():
		return "", fileError(clean, errors.NewStd("not a regular file"))
	case info.Size() > maxSecretFileSize:
		return "", fileError(clean, errors.NewStd("secret file too large"))
	}

	data, err := os.ReadFile(clean) //nolint:gosec // G304 - path comes from configuration
	if err != nil {
		return "", fileError(clean, err)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(clean, errors.NewStd("secret file is empty"))
	}
	return secret, nil
}

// Resolve returns the secret behind value: the contents of a "file:" path,
// or value with environment references expanded.
func Resolve(value string) (string, error) {
	if path, ok := strings.CutPrefix(value, FilePrefix); ok {
		return ReadFile(path)
	}
	return ExpandString(value)
}

func fileError(path string, err error) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}
