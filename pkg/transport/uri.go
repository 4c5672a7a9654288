// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport implements the per-peer ordered reliable byte
// stream (spec.md §4.2): TCP for LAN acceptor URIs, Unix-domain
// sockets for local-IPC acceptor URIs.
package transport

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Scheme names the two acceptor URI families spec.md §3 allows:
// address/port triples and local-IPC paths.
type Scheme string

const (
	SchemeTCP   Scheme = "silkit"
	SchemeLocal Scheme = "silkit+local"
)

// Endpoint is a parsed acceptor URI.
type Endpoint struct {
	Scheme Scheme
	// Network-reachable address ("host:port") when Scheme is SchemeTCP.
	Address string
	// Filesystem path when Scheme is SchemeLocal.
	Path string
}

// Network and Addr adapt Endpoint to the stdlib net dial/listen API.
func (e Endpoint) Network() string {
	if e.Scheme == SchemeLocal {
		return "unix"
	}
	return "tcp"
}

func (e Endpoint) Addr() string {
	if e.Scheme == SchemeLocal {
		return e.Path
	}
	return e.Address
}

func (e Endpoint) String() string {
	if e.Scheme == SchemeLocal {
		return fmt.Sprintf("%s://%s", SchemeLocal, e.Path)
	}
	return fmt.Sprintf("%s://%s", SchemeTCP, e.Address)
}

// ParseEndpoint parses an acceptor URI of the form "silkit://host:port"
// or "silkit+local:///path/to/socket".
func ParseEndpoint(uri string) (Endpoint, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: invalid endpoint %q: %w", uri, err)
	}
	switch Scheme(u.Scheme) {
	case SchemeTCP:
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("transport: endpoint %q missing host:port", uri)
		}
		return Endpoint{Scheme: SchemeTCP, Address: u.Host}, nil
	case SchemeLocal:
		path := u.Path
		if path == "" {
			path = strings.TrimPrefix(uri, string(SchemeLocal)+"://")
		}
		if path == "" {
			return Endpoint{}, fmt.Errorf("transport: endpoint %q missing path", uri)
		}
		return Endpoint{Scheme: SchemeLocal, Path: path}, nil
	default:
		return Endpoint{}, fmt.Errorf("transport: unsupported scheme %q in %q", u.Scheme, uri)
	}
}

// ResolveListenAddr rewrites a TCP endpoint listening on port 0 to the
// OS-assigned port, the way the registry reports its effective
// listenUri (spec.md §4.4).
func ResolveListenAddr(scheme Scheme, addr net.Addr) (Endpoint, error) {
	if scheme == SchemeLocal {
		return Endpoint{Scheme: SchemeLocal, Path: addr.String()}, nil
	}
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return Endpoint{}, fmt.Errorf("transport: expected *net.TCPAddr, got %T", addr)
	}
	return Endpoint{Scheme: SchemeTCP, Address: tcpAddr.String()}, nil
}
