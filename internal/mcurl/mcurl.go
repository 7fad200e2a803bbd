// Package mcurl parses the mc://host:port/path and mcs://host:port/path
// session URIs spec.md §6 describes a receiver being pointed at.
package mcurl

import (
	"fmt"
	"net/url"
	"strconv"
)

// URL is a parsed mc:// or mcs:// session address.
type URL struct {
	Secure bool
	Host   string
	Port   int
	Path   string
}

// Parse parses raw into a URL, rejecting any scheme other than mc/mcs.
func Parse(raw string) (URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("mcurl: %w", err)
	}

	var secure bool
	switch u.Scheme {
	case "mc":
		secure = false
	case "mcs":
		secure = true
	default:
		return URL{}, fmt.Errorf("mcurl: unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return URL{}, fmt.Errorf("mcurl: missing host in %q", raw)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return URL{}, fmt.Errorf("mcurl: invalid port %q: %w", p, err)
		}
	}

	return URL{Secure: secure, Host: host, Port: port, Path: u.Path}, nil
}
