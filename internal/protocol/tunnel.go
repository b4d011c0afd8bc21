package protocol

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Tunnel is the full-duplex, message-framed byte pipe the pipeline and
// responder talk over (§4.2). Two concrete implementations exist: one
// over a spawned child process's stdio (sender side, see ChildTunnel) and
// one over the process's own stdio (receiver side, see StdioTunnel). Both
// share this contract so tests can substitute an in-memory pipe.
type Tunnel interface {
	WriteMessage(m Message) error
	ReadMessage() (Message, error)
	Close() error
}

// pipeTunnel implements the framing contract over any reader/writer pair.
// Writes are atomic per message: the length prefix and body are written
// together, then flushed, before the call returns. Reads block until a
// whole message has arrived; a short read is always an error, never a
// partial message.
type pipeTunnel struct {
	w      *bufio.Writer
	r      *bufio.Reader
	closer io.Closer
}

func newPipeTunnel(r io.Reader, w io.Writer, closer io.Closer) *pipeTunnel {
	return &pipeTunnel{
		w:      bufio.NewWriter(w),
		r:      bufio.NewReader(r),
		closer: closer,
	}
}

func (t *pipeTunnel) WriteMessage(m Message) error {
	body, err := Encode(m)
	if err != nil {
		return Wrap(KindEncoding, err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := t.w.Write(lenBuf[:]); err != nil {
		return Wrap(KindIO, errors.Wrap(err, "writing message length"))
	}
	if _, err := t.w.Write(body); err != nil {
		return Wrap(KindIO, errors.Wrap(err, "writing message body"))
	}
	if err := t.w.Flush(); err != nil {
		return Wrap(KindIO, errors.Wrap(err, "flushing message"))
	}
	return nil
}

func (t *pipeTunnel) ReadMessage() (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(t.r, lenBuf[:]); err != nil {
		return nil, Wrap(KindIO, errors.Wrap(err, "reading message length"))
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(t.r, body); err != nil {
		return nil, Wrap(KindIO, errors.Wrap(err, "reading message body"))
	}

	msg, err := Decode(body)
	if err != nil {
		return nil, Wrap(KindDecoding, err)
	}
	return msg, nil
}

func (t *pipeTunnel) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
