package recovery

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/page"
)

const testPageSize = 16

func image(id common.PageIdentity, first byte) *page.RawPage {
	data := make([]byte, testPageSize)
	data[0] = first

	return page.NewRawPage(id, data)
}

func decodeOne(t *testing.T, data []byte, offset int64) (LogRecord, error) {
	t.Helper()

	dec := newDecoder(bytes.NewReader(data), offset, page.DefaultRegistry(testPageSize))
	rec, start, err := dec.readRecord()
	if err == nil {
		assert.Equal(t, offset, start)
		assert.Equal(t, offset+int64(len(data)), dec.pos)
	}

	return rec, err
}

func TestBeginRecordLayout(t *testing.T) {
	data, err := marshalRecord(NewBeginLogRecord(42), 8)
	require.NoError(t, err)

	want := []byte{
		0, 0, 0, 4, // BEGIN
		0, 0, 0, 0, 0, 0, 0, 42, // txn
		0, 0, 0, 0, 0, 0, 0, 8, // own offset
	}
	assert.Equal(t, want, data)
}

func TestCheckpointRecordLayout(t *testing.T) {
	rec := NewCheckpointLogRecord([]CheckpointEntry{{TxnID: 3, FirstOffset: 8}})

	data, err := marshalRecord(rec, 100)
	require.NoError(t, err)

	assert.Equal(t, int32(TypeCheckpoint), int32(binary.BigEndian.Uint32(data[0:4])))
	assert.Equal(t, int64(-1), int64(binary.BigEndian.Uint64(data[4:12])))
	assert.Equal(t, int32(1), int32(binary.BigEndian.Uint32(data[12:16])))
	assert.Equal(t, uint64(3), binary.BigEndian.Uint64(data[16:24]))
	assert.Equal(t, uint64(8), binary.BigEndian.Uint64(data[24:32]))
	assert.Equal(t, uint64(100), binary.BigEndian.Uint64(data[32:40]))
	assert.Len(t, data, 40)

	decoded, err := decodeOne(t, data, 100)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
	assert.Equal(t, common.NilTxnID, decoded.TxnID())
}

func TestUpdateRecordDecodes(t *testing.T) {
	heapPage := common.NewHeapPageIdentity(2, 7)
	leafPage := common.PageIdentity{TableID: 3, PageNo: 1, Category: common.CategoryLeaf}

	tests := []struct {
		name string
		id   common.PageIdentity
	}{
		{"heap", heapPage},
		{"leaf", leafPage},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := NewUpdateLogRecord(9, image(test.id, 5), image(test.id, 9))

			data, err := marshalRecord(rec, 64)
			require.NoError(t, err)

			decoded, err := decodeOne(t, data, 64)
			require.NoError(t, err)

			u, ok := decoded.(UpdateLogRecord)
			require.True(t, ok)
			assert.Equal(t, common.TxnID(9), u.TxnID())
			assert.Equal(t, test.id, u.Before.ID())
			assert.Equal(t, test.id, u.After.ID())
			assert.Equal(t, page.KindOf(test.id), u.After.Kind())
			assert.Equal(t, byte(5), u.Before.Data()[0])
			assert.Equal(t, byte(9), u.After.Data()[0])
		})
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	pageIdent := common.NewHeapPageIdentity(1, 1)
	valid, err := marshalRecord(NewUpdateLogRecord(1, image(pageIdent, 1), image(pageIdent, 2)), 8)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(data []byte)
	}{
		{"unknown tag", func(data []byte) { binary.BigEndian.PutUint32(data[0:4], 77) }},
		{"zero tag", func(data []byte) { binary.BigEndian.PutUint32(data[0:4], 0) }},
		{"bad component count", func(data []byte) { binary.BigEndian.PutUint32(data[16:20], 9) }},
		{"unknown page kind", func(data []byte) { binary.BigEndian.PutUint32(data[12:16], 99) }},
		{"wrong image length", func(data []byte) { binary.BigEndian.PutUint32(data[28:32], 3) }},
		{"offset mismatch", func(data []byte) { binary.BigEndian.PutUint64(data[len(data)-8:], 12345) }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			data := bytes.Clone(valid)
			test.mutate(data)

			_, err := decodeOne(t, data, 8)
			require.ErrorIs(t, err, ErrCorruptLog)
		})
	}
}

func TestDecodeTornRecord(t *testing.T) {
	pageIdent := common.NewHeapPageIdentity(1, 1)
	data, err := marshalRecord(NewUpdateLogRecord(1, image(pageIdent, 1), image(pageIdent, 2)), 8)
	require.NoError(t, err)

	for _, cut := range []int{1, 4, 11, 30, len(data) - 20, len(data) - 1} {
		_, err := decodeOne(t, data[:cut], 8)
		require.ErrorIs(t, err, errTornRecord, "cut at %d", cut)
	}

	_, err = decodeOne(t, nil, 8)
	require.ErrorIs(t, err, io.EOF)
}

func TestHeader(t *testing.T) {
	var buf writerAtBuffer

	require.NoError(t, writeHeader(&buf, noCheckpoint))
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 8), buf.data)

	require.NoError(t, writeHeader(&buf, 1024))
	cp, err := readHeader(bytes.NewReader(buf.data))
	require.NoError(t, err)
	assert.Equal(t, int64(1024), cp)
}

type writerAtBuffer struct {
	data []byte
}

func (w *writerAtBuffer) WriteAt(p []byte, off int64) (int, error) {
	if need := int(off) + len(p); need > len(w.data) {
		w.data = append(w.data, make([]byte, need-len(w.data))...)
	}

	return copy(w.data[off:], p), nil
}
