package recovery

import (
	"fmt"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/page"
)

type LogRecordTypeTag int32

// Type tags for each log record type. The values are part of the file format.
const (
	TypeAbort LogRecordTypeTag = iota + 1
	TypeCommit
	TypeUpdate
	TypeBegin
	TypeCheckpoint
	TypeUnknown
)

func (t LogRecordTypeTag) String() string {
	switch t {
	case TypeAbort:
		return "ABORT"
	case TypeCommit:
		return "COMMIT"
	case TypeUpdate:
		return "UPDATE"
	case TypeBegin:
		return "BEGIN"
	case TypeCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("TYPE(%d)", int32(t))
	}
}

func (t LogRecordTypeTag) Valid() bool {
	return t >= TypeAbort && t < TypeUnknown
}

type LogRecord interface {
	Tag() LogRecordTypeTag
	TxnID() common.TxnID
}

var (
	_ LogRecord = BeginLogRecord{}
	_ LogRecord = CommitLogRecord{}
	_ LogRecord = AbortLogRecord{}
	_ LogRecord = UpdateLogRecord{}
	_ LogRecord = CheckpointLogRecord{}
)

type BeginLogRecord struct {
	txnID common.TxnID
}

func NewBeginLogRecord(txnID common.TxnID) BeginLogRecord {
	return BeginLogRecord{txnID: txnID}
}

func (r BeginLogRecord) Tag() LogRecordTypeTag { return TypeBegin }
func (r BeginLogRecord) TxnID() common.TxnID   { return r.txnID }

type CommitLogRecord struct {
	txnID common.TxnID
}

func NewCommitLogRecord(txnID common.TxnID) CommitLogRecord {
	return CommitLogRecord{txnID: txnID}
}

func (r CommitLogRecord) Tag() LogRecordTypeTag { return TypeCommit }
func (r CommitLogRecord) TxnID() common.TxnID   { return r.txnID }

type AbortLogRecord struct {
	txnID common.TxnID
}

func NewAbortLogRecord(txnID common.TxnID) AbortLogRecord {
	return AbortLogRecord{txnID: txnID}
}

func (r AbortLogRecord) Tag() LogRecordTypeTag { return TypeAbort }
func (r AbortLogRecord) TxnID() common.TxnID   { return r.txnID }

// UpdateLogRecord carries full page images: the page as it was before the
// transaction touched it (or since it was last written) and as it is now.
type UpdateLogRecord struct {
	txnID  common.TxnID
	Before page.Page
	After  page.Page
}

func NewUpdateLogRecord(txnID common.TxnID, before, after page.Page) UpdateLogRecord {
	return UpdateLogRecord{
		txnID:  txnID,
		Before: before,
		After:  after,
	}
}

func (r UpdateLogRecord) Tag() LogRecordTypeTag { return TypeUpdate }
func (r UpdateLogRecord) TxnID() common.TxnID   { return r.txnID }

type CheckpointEntry struct {
	TxnID       common.TxnID
	FirstOffset int64
}

// CheckpointLogRecord lists the transactions active when it was taken, each
// with the offset of its first record. It belongs to no transaction.
type CheckpointLogRecord struct {
	Active []CheckpointEntry
}

func NewCheckpointLogRecord(active []CheckpointEntry) CheckpointLogRecord {
	return CheckpointLogRecord{Active: active}
}

func (r CheckpointLogRecord) Tag() LogRecordTypeTag { return TypeCheckpoint }
func (r CheckpointLogRecord) TxnID() common.TxnID   { return common.NilTxnID }
