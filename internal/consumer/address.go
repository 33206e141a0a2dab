package consumer

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const maxAddressLength = 512

// ErrAddressRejected is wrapped by every ValidateAddress failure.
var ErrAddressRejected = errors.New("consumer address rejected")

// ValidateAddress checks that a consumer's gRPC target is safe to dial:
//   - max length 512 characters
//   - scheme must be dns, passthrough, or none (unix only when allowPrivate)
//   - no embedded credentials
//   - unless allowPrivate, the host must resolve to public IPs only
func ValidateAddress(target string, allowPrivate bool) error {
	if target == "" {
		return fmt.Errorf("%w: empty address", ErrAddressRejected)
	}
	if len(target) > maxAddressLength {
		return fmt.Errorf("%w: address too long (%d chars, max %d)", ErrAddressRejected, len(target), maxAddressLength)
	}

	endpoint := target
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAddressRejected, err)
		}
		if u.User != nil {
			return fmt.Errorf("%w: embedded credentials are not allowed", ErrAddressRejected)
		}
		switch u.Scheme {
		case "dns", "passthrough":
		case "unix":
			if !allowPrivate {
				return fmt.Errorf("%w: local sockets are not allowed", ErrAddressRejected)
			}
			return nil
		default:
			return fmt.Errorf("%w: unsupported scheme %q", ErrAddressRejected, u.Scheme)
		}
		endpoint = strings.TrimPrefix(u.Path, "/")
	}
	if endpoint == "" {
		return fmt.Errorf("%w: address has no endpoint", ErrAddressRejected)
	}
	if allowPrivate {
		return nil
	}

	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAddressRejected, err)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("%w: DNS resolution failed for %q: %v", ErrAddressRejected, host, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("%w: no DNS results for %q", ErrAddressRejected, host)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: %q resolves to private/reserved IP %s", ErrAddressRejected, host, ip)
		}
	}
	return nil
}

var privateRanges []*net.IPNet

func init() {
	cidrs := []string{
		"0.0.0.0/8",
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"100.64.0.0/10",
		"::/128",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range cidrs {
		_, network, _ := net.ParseCIDR(cidr)
		privateRanges = append(privateRanges, network)
	}
}

func isPrivateIP(ip net.IP) bool {
	for _, network := range privateRanges {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
