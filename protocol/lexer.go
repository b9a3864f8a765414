// File: protocol/lexer.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Byte-at-a-time HTTP response tokenizer for the client handshake.
// The connection feeds single bytes so that WebSocket frame bytes
// coalesced behind the response headers are never consumed here.

package protocol

import (
	"errors"
)

// Token identifies one stored header value.
type Token int

const (
	// TokenStatusLine holds the status line text after "HTTP/1.1 ",
	// e.g. "101 Switching Protocols".
	TokenStatusLine Token = iota
	TokenUpgrade
	TokenConnection
	TokenAccept
	TokenProtocol
	TokenExtensions
	TokenNonce

	tokenCount
)

// FeedResult reports lexer progress after one byte.
type FeedResult int

const (
	FeedContinue FeedResult = iota
	FeedComplete
)

var (
	ErrMalformedStatusLine = errors.New("lexer: response does not start with HTTP/1.1")
	ErrMalformedHeader     = errors.New("lexer: malformed header line")
	ErrHeaderOverflow      = errors.New("lexer: header line exceeds limit")
	ErrFeedAfterComplete   = errors.New("lexer: byte fed after parsing completed")
)

const (
	statusPrefix = "http/1.1 "

	maxTokenLen = 1024
	maxNameLen  = 256
	maxLineLen  = 4096
)

type lexState int

const (
	stStatusPrefix lexState = iota
	stStatusRest
	stLineStart
	stName
	stValueSpace
	stValue
	stDone
)

// ResponseLexer consumes a server handshake response one byte at a time
// and stores the handshake-relevant header values. Header names are
// matched case-insensitively; CR bytes are skipped so both CRLF and
// bare LF line endings parse.
type ResponseLexer struct {
	state    lexState
	pos      int // match position inside statusPrefix
	lineLen  int
	name     []byte
	target   Token
	skip     bool // current header is not one we store
	tokens   [tokenCount][]byte
	seen     [tokenCount]bool
	released bool
}

// NewResponseLexer returns a lexer ready for one response.
func NewResponseLexer() *ResponseLexer {
	lx := &ResponseLexer{}
	lx.Reset()
	return lx
}

// Reset rewinds the lexer for a fresh response, dropping any stored
// tokens. The connection resets the parser when it enters the
// reply-waiting phase.
func (lx *ResponseLexer) Reset() {
	lx.state = stStatusPrefix
	lx.pos = 0
	lx.lineLen = 0
	lx.name = lx.name[:0]
	lx.skip = false
	lx.released = false
	for i := range lx.tokens {
		lx.tokens[i] = nil
		lx.seen[i] = false
	}
}

// Complete reports whether the terminating blank line has been seen.
func (lx *ResponseLexer) Complete() bool {
	return lx.state == stDone
}

// Feed consumes one byte. It returns FeedComplete exactly once, on the
// byte that terminates the header block; the caller must stop feeding
// then, leaving any trailing frame bytes where they are.
func (lx *ResponseLexer) Feed(b byte) (FeedResult, error) {
	if lx.state == stDone {
		return FeedComplete, ErrFeedAfterComplete
	}
	if b == '\r' {
		return FeedContinue, nil
	}
	if b != '\n' {
		lx.lineLen++
		if lx.lineLen > maxLineLen {
			return FeedContinue, ErrHeaderOverflow
		}
	}

	switch lx.state {

	case stStatusPrefix:
		if toLower(b) != statusPrefix[lx.pos] {
			return FeedContinue, ErrMalformedStatusLine
		}
		lx.pos++
		if lx.pos == len(statusPrefix) {
			lx.state = stStatusRest
			lx.seen[TokenStatusLine] = true
		}
		return FeedContinue, nil

	case stStatusRest:
		if b == '\n' {
			lx.lineLen = 0
			lx.state = stLineStart
			return FeedContinue, nil
		}
		return FeedContinue, lx.store(TokenStatusLine, b)

	case stLineStart:
		if b == '\n' {
			lx.state = stDone
			return FeedComplete, nil
		}
		lx.name = lx.name[:0]
		lx.state = stName
		fallthrough

	case stName:
		if b == '\n' {
			// header line without a colon
			return FeedContinue, ErrMalformedHeader
		}
		if b == ':' {
			lx.beginValue()
			return FeedContinue, nil
		}
		if len(lx.name) >= maxNameLen {
			return FeedContinue, ErrHeaderOverflow
		}
		lx.name = append(lx.name, toLower(b))
		return FeedContinue, nil

	case stValueSpace:
		if b == ' ' || b == '\t' {
			return FeedContinue, nil
		}
		lx.state = stValue
		fallthrough

	case stValue:
		if b == '\n' {
			lx.lineLen = 0
			lx.state = stLineStart
			return FeedContinue, nil
		}
		if lx.skip {
			return FeedContinue, nil
		}
		return FeedContinue, lx.store(lx.target, b)
	}

	return FeedContinue, ErrMalformedHeader
}

// beginValue resolves the accumulated header name and prepares value
// accumulation. Unknown headers are consumed and dropped.
func (lx *ResponseLexer) beginValue() {
	lx.state = stValueSpace
	lx.skip = false
	switch string(lx.name) {
	case "upgrade":
		lx.target = TokenUpgrade
	case "connection":
		lx.target = TokenConnection
	case "sec-websocket-accept":
		lx.target = TokenAccept
	case "sec-websocket-protocol":
		lx.target = TokenProtocol
	case "sec-websocket-extensions":
		lx.target = TokenExtensions
	case "sec-websocket-nonce":
		lx.target = TokenNonce
	default:
		lx.skip = true
		return
	}
	if lx.seen[lx.target] && lx.target != TokenStatusLine {
		// repeated header, merge as a list
		lx.tokens[lx.target] = append(lx.tokens[lx.target], ',', ' ')
	}
	lx.seen[lx.target] = true
}

func (lx *ResponseLexer) store(t Token, b byte) error {
	if len(lx.tokens[t]) >= maxTokenLen {
		return ErrHeaderOverflow
	}
	lx.tokens[t] = append(lx.tokens[t], b)
	return nil
}

// Token returns the stored value for t and whether the header was
// present in the response. Values are only valid until ReleaseTokens.
func (lx *ResponseLexer) Token(t Token) ([]byte, bool) {
	if lx.released || t < 0 || t >= tokenCount || !lx.seen[t] {
		return nil, false
	}
	return lx.tokens[t], true
}

// ReleaseTokens drops all stored header values. They are never needed
// once validation has run. Idempotent.
func (lx *ResponseLexer) ReleaseTokens() {
	if lx.released {
		return
	}
	lx.released = true
	for i := range lx.tokens {
		lx.tokens[i] = nil
		lx.seen[i] = false
	}
}

func toLower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
