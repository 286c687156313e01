package netguard

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// blockedHostnames are refused outright regardless of what they resolve to.
var blockedHostnames = map[string]bool{
	"localhost":                 true,
	"metadata.google.internal":  true,
	"metadata":                  true,
	"169.254.169.254":           true,
}

// dangerousSuffixes mark entire hostname families as internal-only.
var dangerousSuffixes = []string{".localhost", ".local", ".internal"}

// IsBlockedHostname reports whether hostname is denylisted by name, apart
// from whatever address it may resolve to.
func IsBlockedHostname(hostname string) bool {
	normalized := normalizeHostname(hostname)
	if blockedHostnames[normalized] {
		return true
	}
	for _, suffix := range dangerousSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return true
		}
	}
	return false
}

// ValidatePublicHostname resolves hostname and rejects it if the name
// itself is blocked, it is already a literal private address, or any of
// its resolved addresses are private/reserved. It is meant to run once per
// outbound request, before the HTTP client dials, since Go's transport
// otherwise happily connects straight to whatever the resolver returns.
func ValidatePublicHostname(ctx context.Context, hostname string) error {
	normalized := normalizeHostname(hostname)
	if normalized == "" {
		return NewBlockedError("empty hostname")
	}
	if IsBlockedHostname(normalized) {
		return NewBlockedError(fmt.Sprintf("hostname %q is blocked", hostname))
	}
	if IsPrivateIPAddress(normalized) {
		return NewBlockedError(fmt.Sprintf("hostname %q resolves to a private address", hostname))
	}

	resolver := net.DefaultResolver
	addrs, err := resolver.LookupIPAddr(ctx, normalized)
	if err != nil {
		return NewBlockedError(fmt.Sprintf("could not resolve hostname %q: %v", hostname, err))
	}
	if len(addrs) == 0 {
		return NewBlockedError(fmt.Sprintf("hostname %q resolved to no addresses", hostname))
	}
	for _, addr := range addrs {
		if IsPrivateIPAddress(addr.IP.String()) {
			return NewBlockedError(fmt.Sprintf("hostname %q resolves to private address %s", hostname, addr.IP))
		}
	}
	return nil
}
