// File: extensions/deflate/deflate.go
// Package deflate implements the permessage-deflate extension as an
// api.ExtensionHandler: negotiation verdicts plus real per-connection
// compressor state. Applying the transform to frame payloads is the
// application's business; the State helpers do the byte work.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package deflate

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"

	"github.com/momentics/wsdial/api"
)

// Name is the extension token offered to and accepted from servers.
const Name = "permessage-deflate"

const (
	// flateTail is the empty stored block a sync flush emits; the wire
	// format strips it from every message.
	flateTail = "\x00\x00\xff\xff"

	// readTail restores the stripped block and terminates the stream so
	// the flate reader returns a clean EOF.
	readTail = flateTail + "\x01\x00\x00\xff\xff"

	// windowSize bounds the back-reference horizon carried between
	// messages under context takeover.
	windowSize = 32 << 10
)

// ErrReleased is returned by State helpers after Destroy has run.
var ErrReleased = errors.New("deflate: connection state released")

// Options tunes the per-connection compressors.
type Options struct {
	// Level is the flate compression level, flate.BestSpeed through
	// flate.BestCompression. Zero selects flate.DefaultCompression.
	Level int

	// NoContextTakeover resets the compression window between messages
	// instead of carrying it for the connection lifetime.
	NoContextTakeover bool
}

// Extension negotiates permessage-deflate and owns its states.
type Extension struct {
	level      int
	noTakeover bool
}

// New builds the handler. Register it under Name, or use Descriptor.
func New(opts Options) *Extension {
	level := opts.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	return &Extension{level: level, noTakeover: opts.NoContextTakeover}
}

// Descriptor wraps the handler in the registration shape used by
// Config.Extensions.
func Descriptor(opts Options) api.Extension {
	return api.Extension{Name: Name, Handler: New(opts)}
}

// OkToPropose vetoes the legacy frame-based deflate variants; they
// cannot be stacked with permessage-deflate. Everything else, this
// extension included, may go out in the offer.
func (e *Extension) OkToPropose(candidate string) api.Verdict {
	switch strings.ToLower(candidate) {
	case "deflate-frame", "x-webkit-deflate-frame", "deflate-stream":
		return api.VerdictDeny
	}
	return api.VerdictAllow
}

// Construct builds compressor state once the server accepts the
// extension. A bad compression level surfaces here and fails the
// establishment.
func (e *Extension) Construct(c api.Conn) (any, error) {
	st := &State{connID: c.ID(), noTakeover: e.noTakeover}
	fw, err := flate.NewWriter(&st.out, e.level)
	if err != nil {
		return nil, err
	}
	st.fw = fw
	return st, nil
}

// AnyEstablished is broadcast for every establishment in the context.
// The compressors are ready since Construct; connections where the
// extension is inactive arrive with nil state and there is nothing to
// do for them either.
func (e *Extension) AnyEstablished(c api.Conn, state any) {}

// Destroy releases the compressor state during connection close.
func (e *Extension) Destroy(c api.Conn, state any) {
	st, ok := state.(*State)
	if !ok || st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.fw != nil {
		_ = st.fw.Close()
		st.fw = nil
	}
	if st.fr != nil {
		_ = st.fr.Close()
		st.fr = nil
	}
	st.window = nil
}

// State is the per-connection compressor pair. Safe for use from a
// goroutine other than the service loop.
type State struct {
	mu         sync.Mutex
	connID     string
	noTakeover bool
	out        bytes.Buffer
	fw         *flate.Writer
	fr         io.ReadCloser
	window     []byte
}

// ConnID reports which connection this state was constructed for.
func (s *State) ConnID() string { return s.connID }

// Deflate compresses one message payload into wire form: a sync-flushed
// deflate block stream with the trailing empty block stripped.
func (s *State) Deflate(payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fw == nil {
		return nil, ErrReleased
	}
	s.out.Reset()
	if s.noTakeover {
		s.fw.Reset(&s.out)
	}
	if _, err := s.fw.Write(payload); err != nil {
		return nil, err
	}
	if err := s.fw.Flush(); err != nil {
		return nil, err
	}
	raw := s.out.Bytes()
	if !bytes.HasSuffix(raw, []byte(flateTail)) {
		return nil, errors.New("deflate: sync flush did not terminate the block")
	}
	return append([]byte(nil), raw[:len(raw)-len(flateTail)]...), nil
}

// Inflate reverses Deflate for one received message, restoring the
// stripped block before the bytes reach the flate reader. Under
// context takeover the decompressed history feeds the next message's
// dictionary.
func (s *State) Inflate(payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fw == nil {
		return nil, ErrReleased
	}
	src := io.MultiReader(bytes.NewReader(payload), strings.NewReader(readTail))
	if s.fr == nil {
		s.fr = flate.NewReaderDict(src, s.window)
	} else if err := s.fr.(flate.Resetter).Reset(src, s.window); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, s.fr); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if !s.noTakeover {
		s.window = append(s.window, out...)
		if len(s.window) > windowSize {
			s.window = s.window[len(s.window)-windowSize:]
		}
	}
	return out, nil
}
