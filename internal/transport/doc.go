// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound stream socket layer for wsdial. Provides non-blocking TCP
// connect and byte stream I/O with explicit would-block sentinels,
// separated by build tags so the epoll-driven path stays linux-only.

package transport
