// Package privacy removes credentials and hosts from messages before they are
// logged or reported, such as notification service URLs that embed tokens.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Pre-compiled patterns
var (
	// Any scheme://... token, covering shoutrrr service URLs such as
	// telegram://token@telegram?chats=1 as well as http(s).
	urlPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://\S+`)

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

	// Credential-looking values outside URLs.
	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)x-api-key[=:]\s*\S+`),
		regexp.MustCompile(`(?i)api[_-]?key[=:]\S+`),
		regexp.MustCompile(`(?i)(password|secret|token)[=:]\S+`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
	}
)

const redacted = "[REDACTED]"

// ScrubMessage replaces every URL in message with an anonymized form and
// redacts credential-looking values.
func ScrubMessage(message string) string {
	scrubbed := urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	for _, re := range secretPatterns {
		scrubbed = re.ReplaceAllString(scrubbed, redacted)
	}
	return scrubbed
}

// AnonymizeURL converts a URL to a stable, credential-free identifier that
// keeps the scheme and a host category for debugging.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	parts := []string{parsedURL.Scheme}
	if host := parsedURL.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if port := parsedURL.Port(); port != "" {
		parts = append(parts, "port-"+port)
	}

	// The hash covers the full URL so distinct endpoints stay distinguishable.
	hash := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("%s://%s/url-%x", parsedURL.Scheme, strings.Join(parts[1:], ":"), hash[:6])
}

// categorizeHost anonymizes hostnames while preserving useful categorization
func categorizeHost(host string) string {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "localhost"
	}
	if isPrivateIP(host) {
		return "private-ip"
	}
	if isIPAddress(host) {
		return "public-ip"
	}

	// For domain names, preserve TLD only
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "host"
}

// isPrivateIP checks if the host is a private IP address (both IPv4 and IPv6)
func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
		"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.", "169.254.",
		"fc00:", "fd00:", "fe80:",
	}
	lower := strings.ToLower(host)
	for _, prefix := range privateRanges {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// isIPAddress checks if the host looks like an IP address
func isIPAddress(host string) bool {
	return ipv4Pattern.MatchString(host) || strings.Contains(host, ":")
}
