package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Encode serializes a message body (without the length prefix; that is the
// tunnel's job, §4.2). The encoding is a simple tag byte followed by
// big-endian fixed-width fields and length-prefixed variable fields, in
// the manner of the pack's hand-rolled binary codecs (kovidgoyal/kitty's
// tools/rsync, SpoonOil/kitty's vendored copy of it).
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Tag()))

	switch v := m.(type) {
	case Sync:
	case Ack:
	case Nack:
	case Done:
	case FlistEnd:
	case IoTimeout:
	case Arguments:
		writeOpts(&buf, v.Opts)
	case FlistEntryMsg:
		writeFlistEntry(&buf, v.Entry)
	case FileIndex:
		writeUint32(&buf, v.Index)
	case Redo:
		writeUint32(&buf, v.Index)
	case NoSend:
		writeUint32(&buf, v.Index)
	case Success:
		writeUint32(&buf, v.Index)
	case Deleted:
		writeUint32(&buf, v.Index)
	case Degenerate:
		writeUint32(&buf, v.Index)
	case Restore:
		writeBytes(&buf, v.Data)
	case Stats:
		writeBytes(&buf, v.Data)
	case Info:
		writeString(&buf, v.Text)
	case Warning:
		writeString(&buf, v.Text)
	case DataMessage:
		writeUint32(&buf, v.FileIndex)
		writeUint64(&buf, v.Offset)
		writeBytes(&buf, v.Bytes)
		writeIndexTable(&buf, v.Map)
	case ErrorMsg:
		buf.WriteByte(byte(v.Err.Variant))
		writeString(&buf, v.Err.Text)
	default:
		return nil, errors.Errorf("protocol: unknown message type %T", m)
	}

	return buf.Bytes(), nil
}

// Decode parses a message body produced by Encode.
func Decode(body []byte) (Message, error) {
	r := &cursor{buf: body}
	tagByte, err := r.readByte()
	if err != nil {
		return nil, errors.Wrap(err, "protocol: decoding tag")
	}
	tag := Tag(tagByte)

	var msg Message
	switch tag {
	case TagSync:
		msg = Sync{}
	case TagAck:
		msg = Ack{}
	case TagNack:
		msg = Nack{}
	case TagDone:
		msg = Done{}
	case TagFlistEnd:
		msg = FlistEnd{}
	case TagIoTimeout:
		msg = IoTimeout{}
	case TagArguments:
		opts, err := readOpts(r)
		if err != nil {
			return nil, err
		}
		msg = Arguments{Opts: opts}
	case TagFlistEntry:
		entry, err := readFlistEntry(r)
		if err != nil {
			return nil, err
		}
		msg = FlistEntryMsg{Entry: entry}
	case TagFileIndex:
		idx, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		msg = FileIndex{Index: idx}
	case TagRedo:
		idx, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		msg = Redo{Index: idx}
	case TagNoSend:
		idx, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		msg = NoSend{Index: idx}
	case TagSuccess:
		idx, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		msg = Success{Index: idx}
	case TagDeleted:
		idx, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		msg = Deleted{Index: idx}
	case TagDegenerate:
		idx, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		msg = Degenerate{Index: idx}
	case TagRestore:
		b, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		msg = Restore{Data: b}
	case TagStats:
		b, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		msg = Stats{Data: b}
	case TagInfo:
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		msg = Info{Text: s}
	case TagWarning:
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		msg = Warning{Text: s}
	case TagData:
		fileIndex, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		offset, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		data, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		table, err := readIndexTable(r)
		if err != nil {
			return nil, err
		}
		msg = DataMessage{FileIndex: fileIndex, Offset: offset, Bytes: data, Map: table}
	case TagError:
		variantByte, err := r.readByte()
		if err != nil {
			return nil, err
		}
		text, err := r.readString()
		if err != nil {
			return nil, err
		}
		msg = ErrorMsg{Err: SSHMessageError{Variant: ErrorVariant(variantByte), Text: text}}
	default:
		return nil, errors.Errorf("protocol: unknown tag %d", tagByte)
	}

	if !r.atEnd() {
		return nil, errors.Errorf("protocol: %d trailing bytes after decoding tag %d", r.remaining(), tagByte)
	}

	return msg, nil
}

// --- primitive writers ---

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeOptionalUint32(buf *bytes.Buffer, v *uint32) {
	if v == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeUint32(buf, *v)
}

func writeOpts(buf *bytes.Buffer, o ClientServerOpts) {
	writeString(buf, o.To)
	writeBool(buf, o.Delete)
	writeBool(buf, o.Recursive)
	writeBool(buf, o.DryRun)
	writeBool(buf, o.Verbose)
	writeUint32(buf, uint32(len(o.Exclude)))
	for _, e := range o.Exclude {
		writeString(buf, e)
	}
}

func writeFlistEntry(buf *bytes.Buffer, e FlistEntry) {
	writeUint32(buf, e.Index)
	writeString(buf, e.Filename)
	writeUint64(buf, e.Size)
	writeInt64(buf, e.Mtime)
	writeUint32(buf, e.Mode)
	writeOptionalUint32(buf, e.UID)
	writeOptionalUint32(buf, e.GID)
	writeBool(buf, e.IsDir)
	writeBool(buf, e.IsSymlink)
}

func writeIndexTable(buf *bytes.Buffer, t WireIndexTable) {
	writeUint32(buf, uint32(len(t)))
	for k, v := range t {
		writeInt64(buf, k)
		writeString(buf, v.Strong)
		writeUint64(buf, v.Index)
	}
}

// --- cursor reader ---

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) atEnd() bool    { return c.pos >= len(c.buf) }
func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) need(n int) error {
	if c.remaining() < n {
		return errors.Errorf("protocol: need %d bytes, have %d", n, c.remaining())
	}
	return nil
}

func (c *cursor) readByte() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) readUint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) readUint64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) readInt64() (int64, error) {
	v, err := c.readUint64()
	return int64(v), err
}

func (c *cursor) readBool() (bool, error) {
	b, err := c.readByte()
	return b != 0, err
}

func (c *cursor) readBytes() ([]byte, error) {
	n, err := c.readUint32()
	if err != nil {
		return nil, err
	}
	if err := c.need(int(n)); err != nil {
		return nil, err
	}
	if n == 0 {
		c.pos += 0
		return nil, nil
	}
	b := make([]byte, n)
	copy(b, c.buf[c.pos:c.pos+int(n)])
	c.pos += int(n)
	return b, nil
}

func (c *cursor) readString() (string, error) {
	b, err := c.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *cursor) readOptionalUint32() (*uint32, error) {
	present, err := c.readByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	v, err := c.readUint32()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func readOpts(c *cursor) (ClientServerOpts, error) {
	var o ClientServerOpts
	var err error
	if o.To, err = c.readString(); err != nil {
		return o, err
	}
	if o.Delete, err = c.readBool(); err != nil {
		return o, err
	}
	if o.Recursive, err = c.readBool(); err != nil {
		return o, err
	}
	if o.DryRun, err = c.readBool(); err != nil {
		return o, err
	}
	if o.Verbose, err = c.readBool(); err != nil {
		return o, err
	}
	n, err := c.readUint32()
	if err != nil {
		return o, err
	}
	if n == 0 {
		return o, nil
	}
	o.Exclude = make([]string, n)
	for i := range o.Exclude {
		if o.Exclude[i], err = c.readString(); err != nil {
			return o, err
		}
	}
	return o, nil
}

func readFlistEntry(c *cursor) (FlistEntry, error) {
	var e FlistEntry
	var err error
	if e.Index, err = c.readUint32(); err != nil {
		return e, err
	}
	if e.Filename, err = c.readString(); err != nil {
		return e, err
	}
	if e.Size, err = c.readUint64(); err != nil {
		return e, err
	}
	if e.Mtime, err = c.readInt64(); err != nil {
		return e, err
	}
	if e.Mode, err = c.readUint32(); err != nil {
		return e, err
	}
	if e.UID, err = c.readOptionalUint32(); err != nil {
		return e, err
	}
	if e.GID, err = c.readOptionalUint32(); err != nil {
		return e, err
	}
	if e.IsDir, err = c.readBool(); err != nil {
		return e, err
	}
	if e.IsSymlink, err = c.readBool(); err != nil {
		return e, err
	}
	return e, nil
}

func readIndexTable(c *cursor) (WireIndexTable, error) {
	n, err := c.readUint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	t := make(WireIndexTable, n)
	for i := uint32(0); i < n; i++ {
		key, err := c.readInt64()
		if err != nil {
			return nil, err
		}
		strong, err := c.readString()
		if err != nil {
			return nil, err
		}
		idx, err := c.readUint64()
		if err != nil {
			return nil, err
		}
		t[key] = IndexTableEntry{Strong: strong, Index: idx}
	}
	return t, nil
}
