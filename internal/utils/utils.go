// Package utils holds URL helpers shared by the probes.
package utils

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrEmptyURL    = errors.New("empty url")
	ErrMissingHost = errors.New("missing host")
)

// Resolve resolves ref against base and returns an absolute URL.
//
// Examples:
//
//	Base: https://example.com/browse
//	Resolve(base, "/_next/app.js")        → "https://example.com/_next/app.js"
//	Resolve(base, "chunk.js")             → "https://example.com/chunk.js"
//	Resolve(base, "//cdn.example.com/x")  → "https://cdn.example.com/x"
func Resolve(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", &url.Error{Op: "resolve", URL: ref, Err: ErrEmptyURL}
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("couldn't parse base %s: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("couldn't parse ref %s: %w", ref, err)
	}
	abs := b.ResolveReference(r)
	if abs.Host == "" {
		return "", &url.Error{Op: "resolve", URL: abs.String(), Err: ErrMissingHost}
	}
	return abs.String(), nil
}

// SameHost reports whether a and b point at the same host, ignoring case,
// IDN encoding and default ports.
func SameHost(a, b string) (bool, error) {
	ua, err := url.Parse(a)
	if err != nil {
		return false, err
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false, err
	}
	return asciiHost(ua.Hostname()) == asciiHost(ub.Hostname()), nil
}

// asciiHost lowercases host and converts IDN to punycode, leaving it as is
// when conversion fails.
func asciiHost(host string) string {
	host = strings.ToLower(host)
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		return puny
	}
	return host
}

// CanonicalizeOptions controls optional canonicalization policies.
type CanonicalizeOptions struct {
	StripTrailingSlash bool   // treat /a and /a/ the same (root "/" is kept)
	DefaultScheme      string // assumed for schemeless input; empty means a scheme is required
	DropQuery          bool   // cache-busting query strings on bundles are ignored
}

// Canonicalize returns a deterministic form of raw so that the same
// resource referenced two ways compares equal. Query parameters are sorted
// by url.Values.Encode.
func Canonicalize(raw string, opts CanonicalizeOptions) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &url.Error{Op: "canonicalize", URL: raw, Err: ErrEmptyURL}
	}
	if opts.DefaultScheme != "" && !strings.Contains(raw, "://") {
		raw = opts.DefaultScheme + "://" + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", &url.Error{Op: "canonicalize", URL: raw, Err: ErrMissingHost}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := asciiHost(u.Hostname())
	port := u.Port()
	switch {
	case (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") || port == "":
		u.Host = host
	default:
		u.Host = net.JoinHostPort(host, port)
	}
	u.User = nil
	u.Fragment = ""

	clean := "/"
	if u.Path != "" {
		clean = path.Clean(u.Path)
		if strings.HasSuffix(u.Path, "/") && clean != "/" && !opts.StripTrailingSlash {
			clean += "/"
		}
	}
	u.Path = clean
	u.RawPath = ""

	if opts.DropQuery {
		u.RawQuery = ""
	} else {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}
