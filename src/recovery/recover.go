package recovery

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
	"github.com/Blackdeer1524/PageStore/src/storage/page"
)

type RecoveryReport struct {
	// committed transactions whose after images were written again
	Redone int
	// transactions without a terminal record, rolled back and marked aborted
	Undone int
	// aborted transactions whose before images were written again
	Confirmed int
	// largest transaction id found in the log, 0 if there is none
	MaxTxnID common.TxnID
	// bytes of a torn trailing record that were cut off
	TruncatedBytes int64
}

type locatedUpdate struct {
	offset int64
	UpdateLogRecord
}

// Recover brings the backing files to the state where every committed
// transaction is applied and no other one is. It is idempotent, and must run
// before anything else is appended to an existing log.
func (l *LogFile) Recover(ctx context.Context) (RecoveryReport, error) {
	_, span := l.tracer.Start(ctx, "LogFile.Recover")
	defer span.End()

	l.mu.Lock()
	report, touched, err := l.recoverLocked()
	cache := l.cache
	l.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return report, err
	}

	if cache != nil {
		for pageIdent := range touched {
			cache.DiscardPage(pageIdent)
		}
	}

	span.SetAttributes(
		attribute.Int("recovery.redone", report.Redone),
		attribute.Int("recovery.undone", report.Undone),
		attribute.Int("recovery.confirmed", report.Confirmed),
		attribute.Int("recovery.pages", len(touched)),
	)

	l.logger.Infow(
		"recovery finished",
		"redone", report.Redone,
		"undone", report.Undone,
		"confirmed", report.Confirmed,
		"pages", len(touched),
		"truncatedBytes", report.TruncatedBytes,
	)

	return report, nil
}

func (l *LogFile) recoverLocked() (RecoveryReport, map[common.PageIdentity]struct{}, error) {
	var report RecoveryReport
	touched := map[common.PageIdentity]struct{}{}

	if l.closed {
		return report, touched, ErrLogClosed
	}

	info, err := l.file.Stat()
	if err != nil {
		return report, touched, errors.Wrap(err, "failed to stat log")
	}

	l.recoveryUndecided = false
	l.active = map[common.TxnID]int64{}

	size := info.Size()
	if size < headerSize {
		return report, touched, l.resetLocked()
	}
	l.end = size

	checkpoint, err := readHeader(l.file)
	if err != nil {
		return report, touched, err
	}

	if checkpoint != noCheckpoint && (checkpoint < headerSize || checkpoint >= size) {
		return report, touched, errors.Wrapf(
			ErrCorruptLog,
			"header points at %d, log has %d bytes",
			checkpoint,
			size,
		)
	}

	att := NewATT()
	inWindow := checkpoint == noCheckpoint

	var updates []locatedUpdate
	iter := newLogRecordsIter(l.file, headerSize, size, l.registry)
	for {
		ok, err := iter.MoveForward()
		if err != nil {
			return report, touched, err
		}

		if !ok {
			break
		}

		offset, rec := iter.Location(), iter.ReadRecord()
		if txnID := rec.TxnID(); txnID != common.NilTxnID {
			report.MaxTxnID = max(report.MaxTxnID, txnID)
		}

		if u, ok := rec.(UpdateLogRecord); ok {
			updates = append(updates, locatedUpdate{offset: offset, UpdateLogRecord: u})
		}

		if offset == checkpoint {
			cp, ok := rec.(CheckpointLogRecord)
			if !ok {
				return report, touched, errors.Wrapf(
					ErrCorruptLog,
					"header points at a %v record",
					rec.Tag(),
				)
			}

			inWindow = true
			for _, entry := range cp.Active {
				att.Insert(entry.TxnID, TypeBegin, entry.FirstOffset)
				report.MaxTxnID = max(report.MaxTxnID, entry.TxnID)
			}

			continue
		}

		if inWindow {
			att.Insert(rec.TxnID(), rec.Tag(), offset)
		}
	}

	if !inWindow {
		return report, touched, errors.Wrapf(
			ErrCorruptLog,
			"no record starts at checkpoint offset %d",
			checkpoint,
		)
	}

	if iter.Torn() {
		validEnd := iter.ValidEnd()
		if err := l.file.Truncate(validEnd); err != nil {
			return report, touched, errors.Wrap(err, "failed to cut off torn record")
		}

		report.TruncatedBytes = size - validEnd
		l.end = validEnd

		l.logger.Warnw("log ends with a torn record", "offset", validEnd, "bytes", report.TruncatedBytes)
	}

	// undo transactions that never finished, newest change first
	for i := len(updates) - 1; i >= 0; i-- {
		u := updates[i]
		if status, ok := att.Status(u.TxnID()); !ok || status != TxnStatusLive {
			continue
		}

		if err := l.writeImage(u.Before, touched); err != nil {
			return report, touched, err
		}
	}

	live := att.WithStatus(TxnStatusLive)
	for _, txnID := range live {
		if _, err := l.appendLocked(NewAbortLogRecord(txnID)); err != nil {
			return report, touched, err
		}
	}
	report.Undone = len(live)

	// aborted transactions were rolled back before the crash; do it again in
	// case their pages never made it to disk
	for i := len(updates) - 1; i >= 0; i-- {
		u := updates[i]
		if status, ok := att.Status(u.TxnID()); !ok || status != TxnStatusAbort {
			continue
		}

		if err := l.writeImage(u.Before, touched); err != nil {
			return report, touched, err
		}
	}
	report.Confirmed = len(att.WithStatus(TxnStatusAbort))

	committed := att.WithStatus(TxnStatusCommit)
	byTxn := make(map[common.TxnID][]locatedUpdate, len(committed))
	for _, u := range updates {
		if status, ok := att.Status(u.TxnID()); ok && status == TxnStatusCommit {
			byTxn[u.TxnID()] = append(byTxn[u.TxnID()], u)
		}
	}

	for _, txnID := range committed {
		for _, u := range byTxn[txnID] {
			if err := l.writeImage(u.After, touched); err != nil {
				return report, touched, err
			}
		}
	}
	report.Redone = len(committed)

	if err := l.forceLocked(); err != nil {
		return report, touched, err
	}

	return report, touched, nil
}

func (l *LogFile) writeImage(p page.Page, touched map[common.PageIdentity]struct{}) error {
	if err := l.disk.WritePage(p); err != nil {
		return errors.Wrapf(err, "failed to write page %v", p.ID())
	}

	touched[p.ID()] = struct{}{}
	return nil
}
