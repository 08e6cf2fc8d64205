// Package resolve determines the externally reachable (host, port, scheme)
// for the local process, so the registration agent can publish an address
// the registry — and therefore its health checker — can actually reach.
//
// Grounded on the interface-enumeration style of joshuafuller/beacon's
// mDNS responder (net.InterfaceAddrs, loopback filtering).
package resolve

import (
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
)

// Address is the resolved (host, port, scheme) triple.
type Address struct {
	Host   string
	Port   int
	Scheme string
}

// wildcardHosts are bound hosts that must be replaced with a concrete IP —
// the registry needs an address reachable from off-host.
var wildcardHosts = map[string]struct{}{
	"*":         {},
	"+":         {},
	"0.0.0.0":   {},
	"localhost": {},
	"127.0.0.1": {},
}

// Override, when non-nil, short-circuits resolution with an explicit
// (address, port, scheme) from configuration.
type Override struct {
	Address string
	Port    int
	Scheme  string
}

// Resolve returns the process's externally reachable address. boundHost and
// boundPort describe what the HTTP listener is actually bound to;
// preferredNetworks is a list of IPv4 prefixes or regular expressions used
// to pick among multiple candidate interfaces when boundHost is a wildcard.
func Resolve(override *Override, boundHost string, boundPort int, boundScheme string, preferredNetworks []string, log *slog.Logger) (Address, error) {
	if override != nil && override.Address != "" {
		return Address{Host: override.Address, Port: override.Port, Scheme: override.Scheme}, nil
	}

	host := boundHost
	if _, wildcard := wildcardHosts[host]; wildcard {
		ip, err := pickIP(preferredNetworks, log)
		if err != nil {
			return Address{}, fmt.Errorf("resolving externally reachable address: %w", err)
		}
		host = ip
	}

	return Address{Host: host, Port: boundPort, Scheme: boundScheme}, nil
}

// pickIP enumerates operational, non-loopback IPv4 interfaces and selects
// one per the preferredNetworks rule: first match on prefix or regex, else
// the first non-loopback IPv4, else 127.0.0.1 with a warning.
func pickIP(preferredNetworks []string, log *slog.Logger) (string, error) {
	candidates, err := nonLoopbackIPv4s()
	if err != nil {
		return "", err
	}

	if len(candidates) == 0 {
		if log != nil {
			log.Warn("no non-loopback IPv4 interface found, falling back to 127.0.0.1")
		}
		return "127.0.0.1", nil
	}

	if len(preferredNetworks) == 0 {
		return candidates[0], nil
	}

	patterns := compilePatterns(preferredNetworks)
	for _, ip := range candidates {
		for _, p := range patterns {
			if p.prefix != "" && strings.HasPrefix(ip, p.prefix) {
				return ip, nil
			}
			if p.regex != nil && p.regex.MatchString(ip) {
				return ip, nil
			}
		}
	}

	// No preferred network matched any candidate: fall back to the first
	// non-loopback IPv4 rather than failing outright.
	return candidates[0], nil
}

type pattern struct {
	prefix string
	regex  *regexp.Regexp
}

// compilePatterns treats each entry as a literal prefix unless it compiles
// as a regular expression AND contains a regex metacharacter — plain
// dotted-quad prefixes like "10.0." are never misread as regexes.
func compilePatterns(entries []string) []pattern {
	out := make([]pattern, 0, len(entries))
	for _, raw := range entries {
		e := strings.TrimSpace(raw)
		if e == "" {
			continue
		}
		if strings.ContainsAny(e, `^$.*+?()[]{}|\`) && !isDottedQuadPrefix(e) {
			if re, err := regexp.Compile(e); err == nil {
				out = append(out, pattern{regex: re})
				continue
			}
		}
		out = append(out, pattern{prefix: e})
	}
	return out
}

// isDottedQuadPrefix reports whether e looks like a plain IPv4 prefix
// ("10.0.", "192.168.1.") rather than an intentional regex — such strings
// contain only digits and dots, which are also valid (if unintended) regex
// metacharacters.
func isDottedQuadPrefix(e string) bool {
	for _, r := range e {
		if r != '.' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func nonLoopbackIPv4s() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerating interfaces: %w", err)
	}

	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			out = append(out, ip4.String())
		}
	}
	return out, nil
}
