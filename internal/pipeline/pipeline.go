// Package pipeline implements the sender-side state machine that drives a
// synchronization session: handshake, argument exchange, file list
// retrieval, and the per-file delta loop (§4.3).
package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mirrorsync/mirrorsync/internal/delta"
	"github.com/mirrorsync/mirrorsync/internal/logging"
	"github.com/mirrorsync/mirrorsync/internal/protocol"
)

// State is one of the forward-only pipeline states of §3 ("Pipeline
// state"). Error is terminal; every other transition only moves forward.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDone:
		return "Done"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// FileDelta is one emitted result of the per-file loop: the delta computed
// against the resolved local path, paired with the flist entry it
// corresponds to. Wire transmission of the patch itself is a future
// extension point not specified here (§4.3 step 6, §9 open question 4);
// EmitFunc receives these in entry order so a caller can decide what to do
// with them today.
type FileDelta struct {
	Entry protocol.FlistEntry
	Delta *delta.Delta
}

// EmitFunc hands off a computed delta; it is the caller's extension point
// for whatever wire or disk action eventually carries patch data onward.
type EmitFunc func(FileDelta) error

// Pipeline is the sender-side FSM. It is strictly sequential: only one
// request is ever in flight in each direction (§5).
type Pipeline struct {
	tunnel    protocol.Tunnel
	state     State
	errKind   protocol.Kind
	log       *logging.Logger
	sessionID string

	from, to  string
	blockSize int

	flist []protocol.FlistEntry
	stats protocol.StatsPayload
}

// New returns a fresh pipeline in the Disconnected state. from and to are
// the sender's local root and the receiver's root (the CLI's `from`/`to`
// arguments, §6), used for local path resolution (§4.3).
func New(tunnel protocol.Tunnel, from, to string, blockSize int, log *logging.Logger) *Pipeline {
	sessionID := uuid.NewString()
	if log != nil {
		log = log.Sublogger(sessionID[:8])
	}
	return &Pipeline{
		tunnel:    tunnel,
		state:     StateDisconnected,
		log:       log,
		sessionID: sessionID,
		from:      from,
		to:        to,
		blockSize: blockSize,
	}
}

// State returns the pipeline's current state.
func (p *Pipeline) State() State { return p.state }

// Flist returns the file list accumulated by ReceiveFlist.
func (p *Pipeline) Flist() []protocol.FlistEntry { return p.flist }

// Stats returns the session totals accumulated by Run. It is only
// meaningful once Run has returned successfully, and reflects exactly
// what was gob-encoded and sent to the receiver in the session's
// closing Stats message (§3.E).
func (p *Pipeline) Stats() protocol.StatsPayload { return p.stats }

func (p *Pipeline) fail(kind protocol.Kind, cause error) error {
	p.state = StateError
	p.errKind = kind
	err := &protocol.Error{Kind: kind, Cause: cause}
	if p.log != nil {
		p.log.Error(err)
	}
	return err
}

func (p *Pipeline) failUnexpected(m protocol.Message) error {
	p.state = StateError
	p.errKind = protocol.KindUnexpectedMessage
	err := protocol.Unexpected(m)
	if p.log != nil {
		p.log.Error(err)
	}
	return err
}

// Connect performs step 1-2 of §4.3: write SYNC, then await ACK or NACK.
func (p *Pipeline) Connect() error {
	if p.state != StateDisconnected {
		return p.fail(protocol.KindUnexpectedMessage, errors.Errorf("pipeline: Connect called in state %s", p.state))
	}

	if err := p.tunnel.WriteMessage(protocol.Sync{}); err != nil {
		return p.fail(protocol.KindIO, err)
	}
	p.state = StateConnecting

	msg, err := p.tunnel.ReadMessage()
	if err != nil {
		return p.fail(protocol.KindIO, err)
	}

	switch msg.(type) {
	case protocol.Ack:
		p.state = StateConnected
		if p.log != nil {
			p.log.Debug("connected")
		}
		return nil
	case protocol.Nack:
		return p.fail(protocol.KindNack, errors.New("pipeline: receiver refused handshake"))
	default:
		return p.failUnexpected(msg)
	}
}

// SendArguments performs step 3 of §4.3.
func (p *Pipeline) SendArguments(opts protocol.ClientServerOpts) error {
	if p.state != StateConnected {
		return p.fail(protocol.KindUnexpectedMessage, errors.Errorf("pipeline: SendArguments called in state %s", p.state))
	}
	if err := p.tunnel.WriteMessage(protocol.Arguments{Opts: opts}); err != nil {
		return p.fail(protocol.KindIO, err)
	}
	return nil
}

// ReceiveFlist performs steps 4-5 of §4.3: write ACK to trigger receiver
// enumeration, then accumulate FlistEntry messages until FlistEnd.
func (p *Pipeline) ReceiveFlist() error {
	if p.state != StateConnected {
		return p.fail(protocol.KindUnexpectedMessage, errors.Errorf("pipeline: ReceiveFlist called in state %s", p.state))
	}

	if err := p.tunnel.WriteMessage(protocol.Ack{}); err != nil {
		return p.fail(protocol.KindIO, err)
	}

	for {
		msg, err := p.tunnel.ReadMessage()
		if err != nil {
			return p.fail(protocol.KindIO, err)
		}

		switch v := msg.(type) {
		case protocol.FlistEntryMsg:
			p.flist = append(p.flist, v.Entry)
		case protocol.FlistEnd:
			if p.log != nil {
				p.log.Debugf("flist complete: %d entries", len(p.flist))
			}
			return nil
		default:
			return p.failUnexpected(msg)
		}
	}
}

// ResolveLocalPath maps a receiver-side filename to a local path, per
// §4.3: if filename begins with the receiver's root, that prefix is
// replaced with the sender's local root; otherwise filename is used
// unchanged.
func (p *Pipeline) ResolveLocalPath(filename string) string {
	if p.to != "" && strings.HasPrefix(filename, p.to) {
		return p.from + strings.TrimPrefix(filename, p.to)
	}
	return filename
}

// Run executes step 6-7 of §4.3 for every file in the list, in order:
// request the index table, compute the delta against the locally resolved
// path, and hand it to emit. After the last entry it writes Done and the
// session ends.
func (p *Pipeline) Run(emit EmitFunc) error {
	if p.state != StateConnected {
		return p.fail(protocol.KindUnexpectedMessage, errors.Errorf("pipeline: Run called in state %s", p.state))
	}

	for _, entry := range p.flist {
		if err := p.tunnel.WriteMessage(protocol.FileIndex{Index: entry.Index}); err != nil {
			return p.fail(protocol.KindIO, err)
		}

		msg, err := p.tunnel.ReadMessage()
		if err != nil {
			return p.fail(protocol.KindIO, err)
		}

		data, ok := msg.(protocol.DataMessage)
		if !ok {
			return p.failUnexpected(msg)
		}
		if data.FileIndex != entry.Index {
			return p.fail(protocol.KindMessage, errors.Errorf("pipeline: Data for file %d, expected %d", data.FileIndex, entry.Index))
		}

		localPath := p.ResolveLocalPath(entry.Filename)
		localBytes, err := os.ReadFile(filepath.Clean(localPath))
		if err != nil {
			return p.fail(protocol.KindIO, errors.Wrapf(err, "reading local file %s", localPath))
		}

		d := delta.DiffAgainst(data.Map, localBytes, p.blockSize)
		if p.log != nil {
			p.log.Debugf("file %d (%s): delta has %d ops", entry.Index, entry.Filename, len(d.Ops()))
		}

		if emit != nil {
			if err := emit(FileDelta{Entry: entry, Delta: d}); err != nil {
				return p.fail(protocol.KindIO, err)
			}
		}

		p.accumulateStats(d)
	}

	statsBytes, err := p.stats.Encode()
	if err != nil {
		return p.fail(protocol.KindEncoding, err)
	}
	if err := p.tunnel.WriteMessage(protocol.Stats{Data: statsBytes}); err != nil {
		return p.fail(protocol.KindIO, err)
	}

	if err := p.tunnel.WriteMessage(protocol.Done{}); err != nil {
		return p.fail(protocol.KindIO, err)
	}
	p.state = StateDone
	return nil
}

// accumulateStats folds one file's delta into the running session
// totals: an Index op copies a whole base block (matched bytes), a
// Block op sends literal bytes across the wire.
func (p *Pipeline) accumulateStats(d *delta.Delta) {
	p.stats.FilesTransferred++
	for _, op := range d.Ops() {
		if op.IsIndex() {
			p.stats.BytesMatched += uint64(p.blockSize)
		} else {
			p.stats.BytesLiteral += uint64(len(op.Block()))
		}
	}
}
