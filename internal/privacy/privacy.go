// Package privacy removes credentials, hosts and location data from text
// that leaves the process, such as telemetry events and logged errors.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// URLs of the services the detector talks to: weather over HTTP and MQTT brokers
	urlPattern = regexp.MustCompile(`\b(?:https?|tcp|ssl|tls|mqtts?|wss?)://[^\s"']+`)

	// latitude,longitude pairs with at least two decimals
	coordPattern = regexp.MustCompile(`-?\d{1,3}\.\d{2,},\s*-?\d{1,3}\.\d{2,}`)

	// key=value credentials outside of URLs
	secretPattern = regexp.MustCompile(`(?i)\b(appid|api_?key|token|password|passwd|secret)([=:]\s*)[^\s&"']+`)

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage replaces URLs, coordinates and credentials in message.
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	message = coordPattern.ReplaceAllString(message, "[LAT],[LON]")
	return secretPattern.ReplaceAllString(message, "$1$2[REDACTED]")
}

// AnonymizeURL replaces rawURL with a stable hash of its scheme, host category,
// port and path shape. The same endpoint always yields the same value.
func AnonymizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if parsed.Scheme != "" {
		parts = append(parts, parsed.Scheme)
	}
	if host := parsed.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if port := parsed.Port(); port != "" {
		parts = append(parts, "port-"+port)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		parts = append(parts, anonymizePath(parsed.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// SanitizeBrokerURL strips user info from a broker URL for display. Host and
// port are kept since they are what an operator needs to debug a connection.
func SanitizeBrokerURL(broker string) string {
	parsed, err := url.Parse(broker)
	if err != nil || parsed.Host == "" {
		// not a URL we understand, drop anything before an @
		if i := strings.LastIndex(broker, "@"); i >= 0 {
			return broker[i+1:]
		}
		return broker
	}
	parsed.User = nil
	parsed.RawQuery = ""
	return parsed.String()
}

// categorizeHost keeps only the kind of host: localhost, private or public
// address, or the top level domain.
func categorizeHost(host string) string {
	switch {
	case host == "localhost" || host == "127.0.0.1" || host == "::1":
		return "localhost"
	case isPrivateIP(host):
		return "private-ip"
	case isIPAddress(host):
		return "public-ip"
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	segments := strings.Split(path, "/")
	out := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		if isNumeric(segment) {
			out = append(out, "numeric")
			continue
		}
		hash := sha256.Sum256([]byte(segment))
		out = append(out, fmt.Sprintf("seg-%x", hash[:4]))
	}
	return strings.Join(out, "/")
}

func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
		"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.", "169.254.",
		"fc00:", "fd00:", "fe80:",
	}

	host = strings.ToLower(host)
	for _, prefix := range privateRanges {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

func isIPAddress(host string) bool {
	return ipv4Pattern.MatchString(host) || strings.Contains(host, ":")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
