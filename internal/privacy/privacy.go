// Package privacy scrubs credentials and identifying details from text that
// leaves the device, such as telemetry events and push notifications.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	urlPattern    = regexp.MustCompile(`\b(?:https?|tcp|ssl|wss?|mqtts?|sftp|ftp)://\S+`)
	bearerPattern = regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9._~+/=-]+`)
	apiKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`)
)

// ScrubMessage removes credentials from message and anonymizes URLs.
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	message = bearerPattern.ReplaceAllString(message, "${1}[redacted]")
	return apiKeyPattern.ReplaceAllString(message, "[redacted-key]")
}

// AnonymizeURL replaces a URL with its scheme and a stable hash of host and
// path, so the same endpoint groups together without being revealed.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	host := u.Hostname()
	kind := "remote"
	if host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1" {
		kind = "localhost"
	}

	hash := sha256.Sum256([]byte(host + ":" + u.Port() + u.Path))
	return fmt.Sprintf("%s://%s-%x", u.Scheme, kind, hash[:6])
}

// RedactURL strips the password from a URL for logging, keeping everything
// else readable. Unparseable input is returned unchanged.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
