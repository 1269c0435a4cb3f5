// Package netaddr provides MAC-address generation/validation and small
// IPv4/IPv6 value types used by instance network interfaces.
//
// The deterministic be:ef:-prefixed scheme is retained from the libvirt
// backend's tap-interface naming convention for interfaces whose address
// is derived from a fixed management IP; general-purpose interfaces get
// a randomly generated locally-administered MAC via Generate.
package netaddr

import (
	"crypto/rand"
	"fmt"
	"net"
	"regexp"
	"strings"
)

var macPattern = regexp.MustCompile(`^[0-9a-fA-F]{2}(:[0-9a-fA-F]{2}){5}$`)

// Valid reports whether mac is a syntactically valid colon-separated MAC
// address.
func Valid(mac string) bool {
	return macPattern.MatchString(mac)
}

// Normalize lower-cases a MAC address for canonical comparison/storage.
func Normalize(mac string) string {
	return strings.ToLower(mac)
}

// maxGenerateAttempts bounds retries when generating a MAC that must be
// unique against an allocator-supplied set; spec.md requires failing
// deterministically after 5 attempts.
const maxGenerateAttempts = 5

// Generate returns a random locally-administered, unicast MAC address
// not present in taken. It retries up to maxGenerateAttempts times before
// returning an error, matching the daemon's MAC allocator contract.
func Generate(taken map[string]struct{}) (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		candidate, err := randomMAC()
		if err != nil {
			return "", fmt.Errorf("netaddr: generating random MAC: %w", err)
		}
		if _, exists := taken[candidate]; !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("netaddr: failed to generate unused MAC address after %d attempts", maxGenerateAttempts)
}

func randomMAC() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	// Set locally-administered (bit 1 of first octet) and unicast
	// (bit 0 of first octet clear).
	buf[0] = (buf[0] | 0x02) & 0xfe
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", buf[0], buf[1], buf[2], buf[3], buf[4], buf[5]), nil
}

// FromIPv4 derives a deterministic MAC from an IPv4 address using the
// be:ef: locally-assigned prefix, for interfaces whose address tracks a
// fixed management IP (mirrors the libvirt backend's tap naming).
func FromIPv4(ip string) (string, error) {
	ipv4, err := parseIPv4(ip)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("be:ef:%02x:%02x:%02x:%02x", ipv4[0], ipv4[1], ipv4[2], ipv4[3]), nil
}

func parseIPv4(s string) (net.IP, error) {
	addrStr := s
	if strings.Contains(s, "/") {
		ip, _, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("netaddr: invalid IP/CIDR %q: %w", s, err)
		}
		addrStr = ip.String()
	}
	parsed := net.ParseIP(addrStr)
	if parsed == nil {
		return nil, fmt.Errorf("netaddr: invalid IP address %q", addrStr)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return nil, fmt.Errorf("netaddr: %q is not an IPv4 address", addrStr)
	}
	return v4, nil
}

// IPv4 is a value type wrapping a validated dotted-quad address.
type IPv4 struct {
	addr net.IP
}

// ParseIPv4 validates and wraps s as an IPv4 value.
func ParseIPv4(s string) (IPv4, error) {
	v4, err := parseIPv4(s)
	if err != nil {
		return IPv4{}, err
	}
	return IPv4{addr: v4}, nil
}

func (a IPv4) String() string {
	if a.addr == nil {
		return ""
	}
	return a.addr.String()
}

// IsZero reports whether the value has never been set.
func (a IPv4) IsZero() bool { return a.addr == nil }

// IPv6 is a value type wrapping a validated IPv6 address.
type IPv6 struct {
	addr net.IP
}

// ParseIPv6 validates and wraps s as an IPv6 value.
func ParseIPv6(s string) (IPv6, error) {
	parsed := net.ParseIP(s)
	if parsed == nil || parsed.To4() != nil {
		return IPv6{}, fmt.Errorf("netaddr: %q is not a valid IPv6 address", s)
	}
	return IPv6{addr: parsed}, nil
}

func (a IPv6) String() string {
	if a.addr == nil {
		return ""
	}
	return a.addr.String()
}

// IsZero reports whether the value has never been set.
func (a IPv6) IsZero() bool { return a.addr == nil }
