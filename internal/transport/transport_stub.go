// File: internal/transport/transport_stub.go
//go:build !linux
// +build !linux

// Fallback for platforms without the epoll-driven socket layer.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"

	"github.com/momentics/wsdial/api"
)

func platformConnect(address string) (Conn, error) {
	return nil, fmt.Errorf("transport: %w on this platform", api.ErrNotSupported)
}

func platformPair() (Conn, Conn, error) {
	return nil, nil, fmt.Errorf("transport: %w on this platform", api.ErrNotSupported)
}
