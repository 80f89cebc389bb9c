package recovery

import (
	"fmt"
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/Blackdeer1524/PageStore/src/storage/page"
)

type dumpVisitor struct {
	header     func(checkpoint, size int64)
	record     func(offset int64, rec LogRecord)
	tornRecord func(offset, size int64)
}

// walk reads the whole file as it is on disk, independent of the write
// cursor, so it also works on a log that was not recovered.
func (l *LogFile) walk(v dumpVisitor) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}

	info, err := l.file.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat log")
	}

	size := info.Size()
	if size < headerSize {
		v.header(noCheckpoint, size)
		return nil
	}

	checkpoint, err := readHeader(l.file)
	if err != nil {
		return err
	}
	v.header(checkpoint, size)

	iter := newLogRecordsIter(l.file, headerSize, size, l.registry)
	for {
		ok, err := iter.MoveForward()
		if err != nil {
			return err
		}

		if !ok {
			break
		}

		v.record(iter.Location(), iter.ReadRecord())
	}

	if iter.Torn() {
		v.tornRecord(iter.Location(), size-iter.Location())
	}

	return nil
}

// Dump prints the log in a human readable form.
func (l *LogFile) Dump(w io.Writer) error {
	var werr error
	printf := func(format string, args ...any) {
		if werr == nil {
			_, werr = fmt.Fprintf(w, format, args...)
		}
	}

	err := l.walk(dumpVisitor{
		header: func(checkpoint, size int64) {
			printf("log %s: %d bytes, last checkpoint at %d\n", l.path, size, checkpoint)
		},
		record: func(offset int64, rec LogRecord) {
			switch r := rec.(type) {
			case UpdateLogRecord:
				printf(
					"%10d %-10v txn=%d page=%v kind=%v\n",
					offset,
					r.Tag(),
					r.TxnID(),
					r.After.ID(),
					r.After.Kind(),
				)
			case CheckpointLogRecord:
				printf("%10d %-10v active=%d\n", offset, r.Tag(), len(r.Active))
				for _, entry := range r.Active {
					printf("%10s txn=%d first=%d\n", "", entry.TxnID, entry.FirstOffset)
				}
			default:
				printf("%10d %-10v txn=%d\n", offset, rec.Tag(), rec.TxnID())
			}
		},
		tornRecord: func(offset, size int64) {
			printf("%10d torn record (%d bytes)\n", offset, size)
		},
	})
	if err != nil {
		return err
	}

	return werr
}

// DumpJSON writes the log as a single JSON document.
func (l *LogFile) DumpJSON(w io.Writer) error {
	e := &jx.Encoder{}

	writePage := func(field string, p page.Page) {
		e.FieldStart(field)
		e.ObjStart()
		e.FieldStart("page")
		e.Str(p.ID().String())
		e.FieldStart("kind")
		e.Str(p.Kind().String())
		e.ObjEnd()
	}

	var torn bool
	err := l.walk(dumpVisitor{
		header: func(checkpoint, size int64) {
			e.ObjStart()
			e.FieldStart("path")
			e.Str(l.path)
			e.FieldStart("size")
			e.Int64(size)
			e.FieldStart("checkpoint")
			e.Int64(checkpoint)
			e.FieldStart("records")
			e.ArrStart()
		},
		record: func(offset int64, rec LogRecord) {
			e.ObjStart()
			e.FieldStart("offset")
			e.Int64(offset)
			e.FieldStart("type")
			e.Str(rec.Tag().String())

			switch r := rec.(type) {
			case UpdateLogRecord:
				e.FieldStart("txn")
				e.UInt64(uint64(r.TxnID()))
				writePage("before", r.Before)
				writePage("after", r.After)
			case CheckpointLogRecord:
				e.FieldStart("active")
				e.ArrStart()
				for _, entry := range r.Active {
					e.ObjStart()
					e.FieldStart("txn")
					e.UInt64(uint64(entry.TxnID))
					e.FieldStart("first_offset")
					e.Int64(entry.FirstOffset)
					e.ObjEnd()
				}
				e.ArrEnd()
			default:
				e.FieldStart("txn")
				e.UInt64(uint64(rec.TxnID()))
			}

			e.ObjEnd()
		},
		tornRecord: func(offset, size int64) {
			torn = true
			e.ArrEnd()
			e.FieldStart("torn")
			e.ObjStart()
			e.FieldStart("offset")
			e.Int64(offset)
			e.FieldStart("bytes")
			e.Int64(size)
			e.ObjEnd()
		},
	})
	if err != nil {
		return err
	}

	if !torn {
		e.ArrEnd()
	}
	e.ObjEnd()

	if _, err := w.Write(e.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write log dump")
	}

	return nil
}
