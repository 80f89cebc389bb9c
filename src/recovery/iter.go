package recovery

import (
	"io"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/PageStore/src/storage/page"
)

// LogRecordsIter walks the records of a log forward, starting at a record
// boundary. It stops quietly at the end of the log and at a torn record.
type LogRecordsIter struct {
	dec *decoder

	rec      LogRecord
	loc      int64
	validEnd int64
	torn     bool
}

func newLogRecordsIter(
	file io.ReaderAt,
	from, to int64,
	registry *page.Registry,
) *LogRecordsIter {
	section := io.NewSectionReader(file, from, to-from)

	return &LogRecordsIter{
		dec:      newDecoder(section, from, registry),
		loc:      from,
		validEnd: from,
	}
}

// MoveForward returns false once there are no more complete records.
// Only I/O failures and corruption are reported as errors.
func (iter *LogRecordsIter) MoveForward() (bool, error) {
	rec, start, err := iter.dec.readRecord()
	switch {
	case err == nil:
		iter.rec = rec
		iter.loc = start
		iter.validEnd = iter.dec.pos

		return true, nil
	case errors.Is(err, io.EOF):
		return false, nil
	case errors.Is(err, errTornRecord):
		iter.torn = true
		iter.loc = start

		return false, nil
	default:
		return false, err
	}
}

func (iter *LogRecordsIter) ReadRecord() LogRecord {
	return iter.rec
}

// Location is the offset of the current record, or of the torn one.
func (iter *LogRecordsIter) Location() int64 {
	return iter.loc
}

// ValidEnd is the offset just past the last complete record.
func (iter *LogRecordsIter) ValidEnd() int64 {
	return iter.validEnd
}

func (iter *LogRecordsIter) Torn() bool {
	return iter.torn
}
