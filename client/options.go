// File: client/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Context and dial configuration with validation and defaults.

package client

import (
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/momentics/wsdial/api"
	"github.com/momentics/wsdial/control"
)

const (
	// scratch service buffer, shared by proxy replies and request builds
	scratchBufSize = 4096

	// receive buffer reserves, so frames can be built around payloads
	// in place
	rxPrePadding  = 16
	rxPostPadding = 4

	defaultResponseTimeout = 5 * time.Second
	defaultConnectTimeout  = 5 * time.Second
	defaultVersion         = 13
	defaultMaxEvents       = 64
)

var validate = validator.New()

// Config is the context-level configuration shared by all dials.
type Config struct {
	// Protocols is the descriptor table. The first entry is the
	// leading protocol; its handler receives the context-level hooks.
	Protocols []api.Protocol `validate:"required,min=1"`

	// Extensions available for offer and negotiation.
	Extensions []api.Extension

	// ResponseTimeout bounds the wait for proxy and server replies.
	ResponseTimeout time.Duration `validate:"gte=0"`

	// ConnectTimeout bounds the TCP connect phase.
	ConnectTimeout time.Duration `validate:"gte=0"`

	// RxBufferDefault sizes receive buffers for protocols that do not
	// declare their own size.
	RxBufferDefault int `validate:"gte=0"`

	// MaxEvents caps readiness events drained per Service pass.
	MaxEvents int `validate:"gte=0"`

	// Runtime is an optional dynamic settings store. When set, the
	// keys "response_timeout" and "connect_timeout" override the
	// static values for dials made after the change.
	Runtime *control.ConfigStore

	Logger  *zap.Logger
	Entropy io.Reader
}

func (cfg *Config) withDefaults() {
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RxBufferDefault == 0 {
		cfg.RxBufferDefault = scratchBufSize
	}
	if cfg.MaxEvents == 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Entropy == nil {
		cfg.Entropy = rand.Reader
	}
}

// DialOptions parameterize one connect attempt.
type DialOptions struct {
	// Address is the origin server host:port.
	Address string `validate:"required,hostname_port"`

	// Path of the GET request. Defaults to "/".
	Path string

	// Host header value. Defaults to Address.
	Host string

	// Origin header value; empty omits the header.
	Origin string

	// RequestProtocols is the comma-separated subprotocol offer; empty
	// omits the header.
	RequestProtocols string

	// Version announced in the handshake. Defaults to 13; older
	// versions switch to the legacy origin header form.
	Version int `validate:"gte=0,lte=255"`

	// UseTLS wraps the connection in a TLS session.
	UseTLS bool

	// AllowSelfSigned tolerates a single self-signed peer certificate
	// with nothing behind it. Meant for development endpoints.
	AllowSelfSigned bool

	// ServerName for SNI and verification. Defaults to the Address
	// host.
	ServerName string

	// RootCAs overrides the system trust anchors for this dial.
	RootCAs *x509.CertPool

	// ViaProxy connects the socket to ProxyAddress instead of Address
	// and waits for the proxy's reply before the handshake begins.
	ViaProxy bool

	// ProxyAddress is the proxy host:port; required with ViaProxy.
	ProxyAddress string `validate:"required_if=ViaProxy true"`

	// ProxyConnect is the caller-built preamble written to the proxy
	// once the socket connects, typically a CONNECT request for
	// Address. Composing it stays with the caller; this core only
	// detects the reply. Required with ViaProxy.
	ProxyConnect []byte `validate:"required_if=ViaProxy true"`
}

func (o *DialOptions) withDefaults() {
	if o.Path == "" {
		o.Path = "/"
	}
	if o.Host == "" {
		o.Host = o.Address
	}
	if o.Version == 0 {
		o.Version = defaultVersion
	}
	if o.ServerName == "" {
		if host, _, err := net.SplitHostPort(o.Address); err == nil {
			o.ServerName = host
		} else {
			o.ServerName = o.Address
		}
	}
}

func validateStruct(kind string, v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%s: %w: %v", kind, api.ErrInvalidArgument, err)
	}
	return nil
}
