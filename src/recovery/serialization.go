package recovery

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/page"
)

const (
	// the header holds the offset of the last checkpoint record
	headerSize   = int64(8)
	noCheckpoint = int64(-1)
)

var (
	ErrCorruptLog = errors.New("corrupt log")

	// a record cut short by the end of the file
	errTornRecord = errors.New("torn record")
)

// encoder remembers the first failure so a record can be written without
// checking every field.
type encoder struct {
	buf bytes.Buffer
	err error
}

func (e *encoder) write(v any) {
	if e.err != nil {
		return
	}

	e.err = binary.Write(&e.buf, binary.BigEndian, v)
}

func (e *encoder) writePageImage(p page.Page) {
	components := p.ID().Serialize()
	data := p.Data()

	e.write(int32(p.Kind()))
	e.write(int32(len(components)))
	for _, c := range components {
		e.write(c)
	}

	e.write(int32(len(data)))
	if e.err == nil {
		e.buf.Write(data)
	}
}

// marshalRecord encodes rec as it is stored at offset: type tag, transaction
// id, payload and the record's own offset.
func marshalRecord(rec LogRecord, offset int64) ([]byte, error) {
	var e encoder

	e.write(int32(rec.Tag()))
	e.write(int64(rec.TxnID()))

	switch r := rec.(type) {
	case UpdateLogRecord:
		e.writePageImage(r.Before)
		e.writePageImage(r.After)
	case CheckpointLogRecord:
		e.write(int32(len(r.Active)))
		for _, entry := range r.Active {
			e.write(int64(entry.TxnID))
			e.write(entry.FirstOffset)
		}
	}

	e.write(offset)
	if e.err != nil {
		return nil, errors.Wrapf(e.err, "failed to encode %v record", rec.Tag())
	}

	return e.buf.Bytes(), nil
}

type decoder struct {
	r        *bufio.Reader
	pos      int64
	registry *page.Registry
}

func newDecoder(r io.Reader, pos int64, registry *page.Registry) *decoder {
	return &decoder{
		r:        bufio.NewReader(r),
		pos:      pos,
		registry: registry,
	}
}

func (d *decoder) read(v any) error {
	if err := binary.Read(d.r, binary.BigEndian, v); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errTornRecord
		}

		return err
	}

	d.pos += int64(binary.Size(v))
	return nil
}

func corruptf(offset int64, format string, args ...any) error {
	args = append([]any{offset}, args...)
	return errors.Wrapf(ErrCorruptLog, "record at %d: "+format, args...)
}

// readRecord decodes the next record. It returns io.EOF when the stream ends
// exactly on a record boundary and errTornRecord when it ends inside one.
func (d *decoder) readRecord() (LogRecord, int64, error) {
	start := d.pos

	var tag int32
	if err := binary.Read(d.r, binary.BigEndian, &tag); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, start, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, start, errTornRecord
		default:
			return nil, start, err
		}
	}
	d.pos += 4

	typeTag := LogRecordTypeTag(tag)
	if !typeTag.Valid() {
		return nil, start, corruptf(start, "unknown type tag %d", tag)
	}

	var rawTxnID int64
	if err := d.read(&rawTxnID); err != nil {
		return nil, start, err
	}
	txnID := common.TxnID(rawTxnID)

	var rec LogRecord
	switch typeTag {
	case TypeBegin:
		rec = NewBeginLogRecord(txnID)
	case TypeCommit:
		rec = NewCommitLogRecord(txnID)
	case TypeAbort:
		rec = NewAbortLogRecord(txnID)
	case TypeUpdate:
		before, err := d.readPageImage(start)
		if err != nil {
			return nil, start, err
		}

		after, err := d.readPageImage(start)
		if err != nil {
			return nil, start, err
		}

		rec = NewUpdateLogRecord(txnID, before, after)
	case TypeCheckpoint:
		active, err := d.readCheckpoint(start)
		if err != nil {
			return nil, start, err
		}

		rec = NewCheckpointLogRecord(active)
	}

	var self int64
	if err := d.read(&self); err != nil {
		return nil, start, err
	}

	if self != start {
		return nil, start, corruptf(start, "trailing offset is %d", self)
	}

	return rec, start, nil
}

func (d *decoder) readPageImage(start int64) (page.Page, error) {
	var kind, count int32
	if err := d.read(&kind); err != nil {
		return nil, err
	}

	if err := d.read(&count); err != nil {
		return nil, err
	}

	if count != 2 && count != 3 {
		return nil, corruptf(start, "page identity has %d components", count)
	}

	components := make([]uint32, count)
	for i := range components {
		if err := d.read(&components[i]); err != nil {
			return nil, err
		}
	}

	pageIdent, err := common.PageIdentityFromComponents(components)
	if err != nil {
		return nil, corruptf(start, "%s", err)
	}

	var length int32
	if err := d.read(&length); err != nil {
		return nil, err
	}

	if int(length) != d.registry.PageSize() {
		return nil, corruptf(start, "page image of %d bytes", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(d.r, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errTornRecord
		}

		return nil, err
	}
	d.pos += int64(length)

	p, err := d.registry.Decode(page.Kind(kind), pageIdent, data)
	if err != nil {
		return nil, corruptf(start, "%s", err)
	}

	return p, nil
}

func (d *decoder) readCheckpoint(start int64) ([]CheckpointEntry, error) {
	var count int32
	if err := d.read(&count); err != nil {
		return nil, err
	}

	if count < 0 {
		return nil, corruptf(start, "checkpoint lists %d transactions", count)
	}

	active := make([]CheckpointEntry, 0, min(int(count), 1024))
	for range count {
		var txnID, offset int64
		if err := d.read(&txnID); err != nil {
			return nil, err
		}

		if err := d.read(&offset); err != nil {
			return nil, err
		}

		if offset < headerSize || offset > start {
			return nil, corruptf(start, "checkpoint entry points at %d", offset)
		}

		active = append(active, CheckpointEntry{
			TxnID:       common.TxnID(txnID),
			FirstOffset: offset,
		})
	}

	return active, nil
}

func writeHeader(w io.WriterAt, checkpoint int64) error {
	var buf [headerSize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(checkpoint))

	if _, err := w.WriteAt(buf[:], 0); err != nil {
		return errors.Wrap(err, "failed to write log header")
	}

	return nil
}

func readHeader(r io.ReaderAt) (int64, error) {
	var buf [headerSize]byte
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		return 0, errors.Wrap(err, "failed to read log header")
	}

	return int64(binary.BigEndian.Uint64(buf[:])), nil
}
