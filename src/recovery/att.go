package recovery

import (
	"slices"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
)

type txnStatus byte

const (
	TxnStatusLive txnStatus = iota
	TxnStatusCommit
	TxnStatusAbort
)

func (s txnStatus) String() string {
	switch s {
	case TxnStatusLive:
		return "LIVE"
	case TxnStatusCommit:
		return "COMMITTED"
	case TxnStatusAbort:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

type ATTEntry struct {
	status      txnStatus
	firstOffset int64
	// position among commit records, used to redo in commit order
	commitSeq int
}

// ActiveTransactionsTable classifies the transactions seen while scanning the
// log by the last terminal record observed for each of them.
type ActiveTransactionsTable struct {
	table   map[common.TxnID]ATTEntry
	commits int
}

func NewATT() ActiveTransactionsTable {
	return ActiveTransactionsTable{
		table: map[common.TxnID]ATTEntry{},
	}
}

// Insert accounts for a record of transaction id found at offset. It returns
// true iff it is the first record seen for the transaction.
func (att *ActiveTransactionsTable) Insert(
	id common.TxnID,
	tag LogRecordTypeTag,
	offset int64,
) bool {
	if tag == TypeCheckpoint {
		return false
	}

	entry, alreadyExists := att.table[id]
	if !alreadyExists {
		entry = ATTEntry{status: TxnStatusLive, firstOffset: offset}
	}

	switch tag {
	case TypeCommit:
		entry.status = TxnStatusCommit
		entry.commitSeq = att.commits
		att.commits++
	case TypeAbort:
		entry.status = TxnStatusAbort
	}

	// https://stackoverflow.com/questions/42605337/cannot-assign-to-struct-field-in-a-map
	att.table[id] = entry

	return !alreadyExists
}

func (att *ActiveTransactionsTable) Status(id common.TxnID) (txnStatus, bool) {
	entry, ok := att.table[id]
	return entry.status, ok
}

func (att *ActiveTransactionsTable) Len() int {
	return len(att.table)
}

// WithStatus lists the transactions in the given state ordered by their first
// record, or by commit order for committed ones.
func (att *ActiveTransactionsTable) WithStatus(status txnStatus) []common.TxnID {
	var ids []common.TxnID
	for id, entry := range att.table {
		if entry.status == status {
			ids = append(ids, id)
		}
	}

	slices.SortFunc(ids, func(a, b common.TxnID) int {
		ea, eb := att.table[a], att.table[b]
		if status == TxnStatusCommit {
			return ea.commitSeq - eb.commitSeq
		}

		switch {
		case ea.firstOffset < eb.firstOffset:
			return -1
		case ea.firstOffset > eb.firstOffset:
			return 1
		default:
			return 0
		}
	})

	return ids
}
