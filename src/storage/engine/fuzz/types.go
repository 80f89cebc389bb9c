package fuzz

import (
	"fmt"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
)

type OpType int

const (
	OpBegin OpType = iota
	OpRead
	OpWrite
	OpCommit
	OpAbort
	OpCheckpoint
	OpCrash
)

// Operation is one step of a generated workload. Slot names a logical
// transaction of the workload; the real id is only known once it has begun.
type Operation struct {
	Type  OpType
	Slot  int
	Page  common.PageIdentity
	Value byte
}

func (op Operation) String() string {
	switch op.Type {
	case OpBegin:
		return fmt.Sprintf("Begin(slot=%d)", op.Slot)
	case OpRead:
		return fmt.Sprintf("Read(slot=%d, page=%v)", op.Slot, op.Page)
	case OpWrite:
		return fmt.Sprintf("Write(slot=%d, page=%v, value=%d)", op.Slot, op.Page, op.Value)
	case OpCommit:
		return fmt.Sprintf("Commit(slot=%d)", op.Slot)
	case OpAbort:
		return fmt.Sprintf("Abort(slot=%d)", op.Slot)
	case OpCheckpoint:
		return "Checkpoint"
	case OpCrash:
		return "Crash"
	default:
		return "unknown-op"
	}
}

type OpResult struct {
	Op      Operation
	Success bool
	ErrText string
	// value observed by a read
	Read byte
}
