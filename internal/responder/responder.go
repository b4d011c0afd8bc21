// Package responder implements the receiver-side event loop that drives
// its half of the synchronization protocol (§4.4): handshake replies,
// configuration storage, directory enumeration, and per-file index-table
// replies.
package responder

import (
	stderrors "errors"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/mirrorsync/mirrorsync/internal/flist"
	"github.com/mirrorsync/mirrorsync/internal/index"
	"github.com/mirrorsync/mirrorsync/internal/logging"
	"github.com/mirrorsync/mirrorsync/internal/protocol"
)

// Responder holds the receiver's session-lived state: the configuration
// sent by the sender and the file list it produced from it.
type Responder struct {
	tunnel    protocol.Tunnel
	blockSize int
	log       *logging.Logger

	opts  protocol.ClientServerOpts
	flist []protocol.FlistEntry
}

// New returns a responder that will drive tunnel using blockSize for
// per-file index tables.
func New(tunnel protocol.Tunnel, blockSize int, log *logging.Logger) *Responder {
	return &Responder{tunnel: tunnel, blockSize: blockSize, log: log}
}

// Run drives the event loop until the tunnel is closed (end of file, the
// normal way a session ends per §5 "cancellation") or an unrecoverable
// I/O error occurs.
func (r *Responder) Run() error {
	for {
		msg, err := r.tunnel.ReadMessage()
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return err
		}

		if err := r.dispatch(msg); err != nil {
			return err
		}
	}
}

func isEOF(err error) bool {
	return stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF)
}

func (r *Responder) dispatch(msg protocol.Message) error {
	switch v := msg.(type) {
	case protocol.Sync:
		if r.log != nil {
			r.log.Debug("SYNC")
		}
		return r.tunnel.WriteMessage(protocol.Ack{})

	case protocol.Arguments:
		if r.log != nil {
			r.log.Debugf("arguments: %+v", v.Opts)
		}
		r.opts = v.Opts
		return nil

	case protocol.Ack:
		return r.enumerate()

	case protocol.FileIndex:
		return r.sendIndexTable(v.Index)

	case protocol.Stats:
		payload, err := protocol.DecodeStatsPayload(v.Data)
		if err != nil {
			return errors.Wrap(err, "responder: decoding stats payload")
		}
		if r.log != nil {
			r.log.Debugf(
				"session stats: %d file(s), %s matched, %s literal",
				payload.FilesTransferred,
				humanize.Bytes(payload.BytesMatched),
				humanize.Bytes(payload.BytesLiteral),
			)
		}
		return nil

	default:
		if r.log != nil {
			r.log.Debug("unknown message received")
		}
		return r.tunnel.WriteMessage(protocol.ErrorMsg{Err: protocol.FatalError("Unknown message received")})
	}
}

func (r *Responder) enumerate() error {
	entries, err := flist.Enumerate(r.opts.To, r.opts.Recursive, r.opts.Exclude)
	if err != nil {
		return errors.Wrap(err, "responder: enumerating destination tree")
	}

	r.flist = entries
	for _, entry := range entries {
		if err := r.tunnel.WriteMessage(protocol.FlistEntryMsg{Entry: entry}); err != nil {
			return err
		}
		if r.log != nil {
			r.log.Debugf("flist entry: %+v", entry)
		}
	}

	return r.tunnel.WriteMessage(protocol.FlistEnd{})
}

func (r *Responder) sendIndexTable(fileIndex uint32) error {
	if int(fileIndex) >= len(r.flist) {
		return r.tunnel.WriteMessage(protocol.ErrorMsg{
			Err: protocol.FatalError("file index out of range"),
		})
	}

	entry := r.flist[fileIndex]
	data, err := os.ReadFile(entry.Filename)
	if err != nil {
		return r.tunnel.WriteMessage(protocol.ErrorMsg{
			Err: protocol.IoError(err.Error()),
		})
	}

	table := index.Build(data, r.blockSize)

	return r.tunnel.WriteMessage(protocol.DataMessage{
		FileIndex: fileIndex,
		Map:       protocol.FromTable(table),
		Offset:    0,
	})
}
