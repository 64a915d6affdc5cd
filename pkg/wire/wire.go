// Package wire encodes messages as the fixed-size record that travels over
// a peer's pipe:
//
//	offset  size  field
//	0       4     id         int32, little-endian
//	4       4     timestamp  int32, little-endian
//	8       10    tag        ASCII kind name, NUL-padded
//
// There is no length prefix; both ends read exactly RecordSize bytes.
//
// The record has room for a single peer id, so its meaning depends on the
// direction of travel. Upstream (peer to router) a response carries the
// requester it answers and the responder is implied by the pipe it arrives
// on. Downstream (router to peer) every record carries the sender.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/daviddao/philtable/pkg/model"
)

const (
	// RecordSize is the size in bytes of one encoded message.
	RecordSize = 4 + 4 + TagSize
	// TagSize is the size of the NUL-padded kind tag.
	TagSize = 10
)

// ErrShortRecord is returned when a stream ends partway through a record.
var ErrShortRecord = errors.New("short record")

// Record is the raw layout of one transmission.
type Record struct {
	ID        int32
	Timestamp int32
	Tag       [TagSize]byte
}

// TagString returns the tag with its NUL padding removed.
func (r Record) TagString() string {
	if i := bytes.IndexByte(r.Tag[:], 0); i >= 0 {
		return string(r.Tag[:i])
	}
	return string(r.Tag[:])
}

// Kind decodes the tag. Everything after the name must be NUL padding.
func (r Record) Kind() (model.Kind, error) {
	name := r.TagString()
	if len(bytes.Trim(r.Tag[len(name):], "\x00")) != 0 {
		return model.KindInvalid, fmt.Errorf("%w: tag %q has trailing bytes", model.ErrUnknownKind, r.Tag[:])
	}
	return model.ParseKind(name)
}

func newRecord(id model.PeerID, ts model.LogicalTime, k model.Kind) Record {
	r := Record{ID: int32(id), Timestamp: int32(ts)}
	copy(r.Tag[:], k.String())
	return r
}

// Marshal encodes r into its fixed-size byte form.
func Marshal(r Record) [RecordSize]byte {
	var b [RecordSize]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(r.ID))
	binary.LittleEndian.PutUint32(b[4:8], uint32(r.Timestamp))
	copy(b[8:], r.Tag[:])
	return b
}

// Unmarshal decodes a record from b, which must hold at least RecordSize
// bytes.
func Unmarshal(b []byte) (Record, error) {
	if len(b) < RecordSize {
		return Record{}, fmt.Errorf("%w: %d of %d bytes", ErrShortRecord, len(b), RecordSize)
	}
	var r Record
	r.ID = int32(binary.LittleEndian.Uint32(b[0:4]))
	r.Timestamp = int32(binary.LittleEndian.Uint32(b[4:8]))
	copy(r.Tag[:], b[8:RecordSize])
	return r, nil
}

// Upstream builds the record a peer writes toward the router.
func Upstream(m model.Message) Record {
	if m.Kind == model.KindResponse {
		return newRecord(m.Target, m.Timestamp, m.Kind)
	}
	return newRecord(m.Sender, m.Timestamp, m.Kind)
}

// FromUpstream decodes a record the router read from source's pipe.
func FromUpstream(r Record, source model.PeerID) (model.Message, error) {
	k, err := r.Kind()
	if err != nil {
		return model.Message{}, err
	}
	m := model.Message{Kind: k, Sender: model.PeerID(r.ID), Timestamp: model.LogicalTime(r.Timestamp)}
	if k == model.KindResponse {
		m.Sender = source
		m.Target = model.PeerID(r.ID)
	}
	return m, nil
}

// Downstream builds the record the router writes toward a peer.
func Downstream(m model.Message) Record {
	return newRecord(m.Sender, m.Timestamp, m.Kind)
}

// FromDownstream decodes a record read by peer self.
func FromDownstream(r Record, self model.PeerID) (model.Message, error) {
	k, err := r.Kind()
	if err != nil {
		return model.Message{}, err
	}
	m := model.Message{Kind: k, Sender: model.PeerID(r.ID), Timestamp: model.LogicalTime(r.Timestamp)}
	if k == model.KindResponse {
		m.Target = self
	}
	return m, nil
}

// Writer writes records to an underlying stream.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// Write encodes and writes a single record.
func (w *Writer) Write(r Record) error {
	b := Marshal(r)
	_, err := w.w.Write(b[:])
	return err
}

// Reader reads records from an underlying stream.
type Reader struct {
	r   io.Reader
	buf [RecordSize]byte
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// Read blocks until a full record is available. It returns io.EOF at a
// clean end of stream and ErrShortRecord if the stream ends mid-record.
func (r *Reader) Read() (Record, error) {
	if _, err := io.ReadFull(r.r, r.buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, fmt.Errorf("%w: %v", ErrShortRecord, err)
		}
		return Record{}, err
	}
	return Unmarshal(r.buf[:])
}
