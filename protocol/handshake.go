// File: protocol/handshake.go
// Package protocol
// Core logic of the client WebSocket handshake: генерация клиентского
// ключа, вычисление ожидаемого Sec-WebSocket-Accept.
package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	// ClientKeyRandomLen is the number of random bytes behind the
	// Sec-WebSocket-Key value (RFC6455 Section 4.1).
	ClientKeyRandomLen = 16

	// AcceptLen is the length of the base64 accept value: 20 SHA-1
	// bytes encoded.
	AcceptLen = 28
)

var (
	ErrEntropyShortRead = fmt.Errorf("entropy source short read")
)

// GenerateClientKey draws 16 random bytes from the entropy source and
// returns them base64 encoded for the Sec-WebSocket-Key header. A short
// read fails the whole handshake.
func GenerateClientKey(entropy io.Reader) (string, error) {
	var raw [ClientKeyRandomLen]byte
	if _, err := io.ReadFull(entropy, raw[:]); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyShortRead, err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the
// client's key. This implements the algorithm specified in RFC6455
// Section 1.3.
func ComputeAcceptKey(clientKey string) string {
	combined := clientKey + WebSocketGUID
	hash := sha1.Sum([]byte(combined))
	return base64.StdEncoding.EncodeToString(hash[:])
}
