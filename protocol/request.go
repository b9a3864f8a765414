// File: protocol/request.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Client upgrade-request serialization. Every append is bounds-checked
// against the destination capacity; the builder never grows the buffer
// it is handed.

package protocol

import (
	"errors"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/momentics/wsdial/api"
)

// requestTailReserve keeps spare room after the append hook so the
// terminating blank line always fits.
const requestTailReserve = 12

var ErrRequestOverflow = errors.New("request exceeds buffer capacity")

// RequestSpec carries everything serialized into the upgrade request.
// Strings are borrowed for the duration of the build; release stays
// with the caller.
type RequestSpec struct {
	Path   string
	Host   string
	Origin string // empty means no Origin header

	// Protocols is the comma-joined requested subprotocol list, empty
	// means the header is omitted.
	Protocols string

	// Version selects the Sec-WebSocket-Origin naming for revisions
	// before 13. Zero omits the Sec-WebSocket-Version header.
	Version int

	// Extensions is the configured table whose survivors of veto and
	// confirmation form the Sec-WebSocket-Extensions offer.
	Extensions []api.Extension

	Conn      api.Conn
	Confirmer api.ExtensionConfirmer // may be nil
	Appender  api.HeaderAppender     // may be nil

	Log *zap.Logger // may be nil
}

// BuildClientRequest serializes the handshake request into dst, whose
// capacity is the hard bound, and returns the filled slice plus the
// expected Sec-WebSocket-Accept value. Drawing the client key is the
// only step that touches the outside world; a short entropy read fails
// the build.
func BuildClientRequest(dst []byte, spec *RequestSpec, entropy io.Reader) ([]byte, string, error) {
	key, err := GenerateClientKey(entropy)
	if err != nil {
		return nil, "", err
	}

	b := dst[:0]
	if b, err = appendStr(b, "GET "); err != nil {
		return nil, "", err
	}
	if b, err = appendStr(b, spec.Path); err != nil {
		return nil, "", err
	}
	if b, err = appendStr(b, " HTTP/1.1\r\nPragma: no-cache\r\nCache-Control: no-cache\r\nHost: "); err != nil {
		return nil, "", err
	}
	if b, err = appendStr(b, spec.Host); err != nil {
		return nil, "", err
	}
	if b, err = appendStr(b, "\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: "); err != nil {
		return nil, "", err
	}
	if b, err = appendStr(b, key); err != nil {
		return nil, "", err
	}
	if b, err = appendStr(b, "\r\n"); err != nil {
		return nil, "", err
	}

	if spec.Origin != "" {
		name := "Origin: "
		if spec.Version != 13 {
			name = "Sec-WebSocket-Origin: "
		}
		if b, err = appendStr(b, name); err != nil {
			return nil, "", err
		}
		if b, err = appendStr(b, spec.Origin); err != nil {
			return nil, "", err
		}
		if b, err = appendStr(b, "\r\n"); err != nil {
			return nil, "", err
		}
	}

	if spec.Protocols != "" {
		if b, err = appendStr(b, "Sec-WebSocket-Protocol: "); err != nil {
			return nil, "", err
		}
		if b, err = appendStr(b, spec.Protocols); err != nil {
			return nil, "", err
		}
		if b, err = appendStr(b, "\r\n"); err != nil {
			return nil, "", err
		}
	}

	if b, err = appendStr(b, "Sec-WebSocket-Extensions: "); err != nil {
		return nil, "", err
	}
	if b, err = appendOffer(b, spec); err != nil {
		return nil, "", err
	}
	if b, err = appendStr(b, "\r\n"); err != nil {
		return nil, "", err
	}

	if spec.Version != 0 {
		if b, err = appendStr(b, "Sec-WebSocket-Version: "); err != nil {
			return nil, "", err
		}
		if b, err = appendStr(b, strconv.Itoa(spec.Version)); err != nil {
			return nil, "", err
		}
		if b, err = appendStr(b, "\r\n"); err != nil {
			return nil, "", err
		}
	}

	if b, err = appendUserHeaders(b, spec); err != nil {
		return nil, "", err
	}

	if b, err = appendStr(b, "\r\n"); err != nil {
		return nil, "", err
	}

	return b, ComputeAcceptKey(key), nil
}

// appendOffer emits the comma-joined extension offer. A candidate is
// dropped when any configured extension vetoes it or the confirmation
// hook declines it.
func appendOffer(b []byte, spec *RequestSpec) ([]byte, error) {
	var err error
	count := 0
	for _, ext := range spec.Extensions {
		if ext.Handler == nil {
			continue
		}
		vetoed := false
		for _, other := range spec.Extensions {
			if other.Handler == nil {
				continue
			}
			if other.Handler.OkToPropose(ext.Name) != api.VerdictAllow {
				vetoed = true
				break
			}
		}
		if vetoed {
			if spec.Log != nil {
				spec.Log.Debug("extension offer vetoed", zap.String("extension", ext.Name))
			}
			continue
		}
		if spec.Confirmer != nil && spec.Confirmer.ConfirmExtension(spec.Conn, ext.Name) != api.VerdictAllow {
			if spec.Log != nil {
				spec.Log.Debug("extension offer declined by protocol", zap.String("extension", ext.Name))
			}
			continue
		}
		if count > 0 {
			if b, err = appendStr(b, ","); err != nil {
				return b, err
			}
		}
		if b, err = appendStr(b, ext.Name); err != nil {
			return b, err
		}
		count++
	}
	return b, nil
}

// appendUserHeaders runs the caller append hook over the remaining
// window, keeping the tail reserve untouched.
func appendUserHeaders(b []byte, spec *RequestSpec) ([]byte, error) {
	if cap(b)-len(b) < requestTailReserve {
		return b, ErrRequestOverflow
	}
	if spec.Appender == nil {
		return b, nil
	}
	win := b[len(b) : cap(b)-requestTailReserve]
	n, err := spec.Appender.AppendHandshakeHeader(spec.Conn, win)
	if err != nil {
		return b, err
	}
	if n < 0 || n > len(win) {
		return b, ErrRequestOverflow
	}
	return b[:len(b)+n], nil
}

func appendStr(b []byte, s string) ([]byte, error) {
	if cap(b)-len(b) < len(s) {
		return b, ErrRequestOverflow
	}
	return append(b, s...), nil
}
