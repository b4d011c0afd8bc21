// Package protocol implements the length-prefixed, bidirectional message
// stream between the sender and the receiver, and the two concrete byte
// pipes ("tunnels") that carry it.
package protocol

import "github.com/mirrorsync/mirrorsync/internal/index"

// Tag identifies a message variant on the wire. Tag values are part of the
// wire format and must never be renumbered once assigned.
type Tag byte

const (
	TagSync Tag = iota
	TagAck
	TagNack
	TagArguments
	TagData
	TagRedo
	TagDone
	TagError
	TagInfo
	TagWarning
	TagFlistEntry
	TagFlistEnd
	TagFileIndex
	TagRestore
	TagDeleted
	TagSuccess
	TagDegenerate
	TagStats
	TagIoTimeout
	TagNoSend
)

// Message is the tagged union of every value that can cross the tunnel.
type Message interface {
	Tag() Tag
}

// Handshake messages.

type Sync struct{}

func (Sync) Tag() Tag { return TagSync }

type Ack struct{}

func (Ack) Tag() Tag { return TagAck }

type Nack struct{}

func (Nack) Tag() Tag { return TagNack }

// Arguments carries the session configuration from sender to receiver.

type ClientServerOpts struct {
	To        string
	Delete    bool
	Recursive bool
	DryRun    bool
	Verbose   bool
	Exclude   []string
}

type Arguments struct {
	Opts ClientServerOpts
}

func (Arguments) Tag() Tag { return TagArguments }

// File listing messages.

type FlistEntry struct {
	Index     uint32
	Filename  string
	Size      uint64
	Mtime     int64
	Mode      uint32
	UID       *uint32
	GID       *uint32
	IsDir     bool
	IsSymlink bool
}

type FlistEntryMsg struct {
	Entry FlistEntry
}

func (FlistEntryMsg) Tag() Tag { return TagFlistEntry }

type FlistEnd struct{}

func (FlistEnd) Tag() Tag { return TagFlistEnd }

// Transfer messages.

// IndexTableEntry is the wire form of one index.Entry.
type IndexTableEntry struct {
	Strong string
	Index  uint64
}

// WireIndexTable is the wire form of the base-side index table, keyed by
// weak-signature value as required by §6's IndexTable wire type.
type WireIndexTable map[int64]IndexTableEntry

// FromTable converts an internal index.Table into its wire representation.
func FromTable(t *index.Table) WireIndexTable {
	out := make(WireIndexTable, t.Len())
	for k, e := range t.All() {
		out[k] = IndexTableEntry{Strong: e.Strong, Index: e.BlockIndex}
	}
	return out
}

// Find implements delta.Lookup directly against the wire representation,
// so the sender can diff against a received index table without ever
// needing the receiver's raw base bytes.
func (t WireIndexTable) Find(weak int64) (index.Entry, bool) {
	e, ok := t[weak]
	if !ok {
		return index.Entry{}, false
	}
	return index.Entry{BlockIndex: e.Index, Strong: e.Strong}, true
}

type DataMessage struct {
	FileIndex uint32
	Map       WireIndexTable
	// Offset and Bytes are reserved for the future patch-carrying
	// extension (§9, open question 4) and are never populated here.
	Offset uint64
	Bytes  []byte
}

func (DataMessage) Tag() Tag { return TagData }

type FileIndex struct {
	Index uint32
}

func (FileIndex) Tag() Tag { return TagFileIndex }

type Redo struct {
	Index uint32
}

func (Redo) Tag() Tag { return TagRedo }

type NoSend struct {
	Index uint32
}

func (NoSend) Tag() Tag { return TagNoSend }

type Success struct {
	Index uint32
}

func (Success) Tag() Tag { return TagSuccess }

type Deleted struct {
	Index uint32
}

func (Deleted) Tag() Tag { return TagDeleted }

type Degenerate struct {
	Index uint32
}

func (Degenerate) Tag() Tag { return TagDegenerate }

// Control messages.

type Done struct{}

func (Done) Tag() Tag { return TagDone }

type IoTimeout struct{}

func (IoTimeout) Tag() Tag { return TagIoTimeout }

type Restore struct {
	Data []byte
}

func (Restore) Tag() Tag { return TagRestore }

// StatsPayload is the concrete shape carried inside the Stats message's
// opaque byte payload (§3.E — additive, does not change the wire tag).
type StatsPayload struct {
	FilesTransferred uint64
	BytesLiteral     uint64
	BytesMatched     uint64
}

type Stats struct {
	Data []byte
}

func (Stats) Tag() Tag { return TagStats }

// Diagnostic messages.

type Info struct {
	Text string
}

func (Info) Tag() Tag { return TagInfo }

type Warning struct {
	Text string
}

func (Warning) Tag() Tag { return TagWarning }

// SSHMessageError mirrors the three-variant error union of §6.

type ErrorVariant byte

const (
	ErrorVariantIO ErrorVariant = iota
	ErrorVariantTransfer
	ErrorVariantFatal
)

type SSHMessageError struct {
	Variant ErrorVariant
	Text    string
}

func (e SSHMessageError) Error() string {
	switch e.Variant {
	case ErrorVariantIO:
		return "io error: " + e.Text
	case ErrorVariantTransfer:
		return "transfer error: " + e.Text
	default:
		return "fatal error: " + e.Text
	}
}

func IoError(text string) SSHMessageError {
	return SSHMessageError{Variant: ErrorVariantIO, Text: text}
}
func TransferError(text string) SSHMessageError {
	return SSHMessageError{Variant: ErrorVariantTransfer, Text: text}
}
func FatalError(text string) SSHMessageError {
	return SSHMessageError{Variant: ErrorVariantFatal, Text: text}
}

type ErrorMsg struct {
	Err SSHMessageError
}

func (ErrorMsg) Tag() Tag { return TagError }
