// Package worker applies transaction events to external mirrors.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dosmangos/internal/amqp"
	"dosmangos/internal/cache"
	"dosmangos/internal/core"
	"dosmangos/internal/log"
	"dosmangos/internal/sheets"
	"dosmangos/internal/storage"
)

const (
	versionCacheSize = 4096
	versionCacheTTL  = 24 * time.Hour
)

// TransactionGetter loads the current state of a transaction.
type TransactionGetter interface {
	Get(ctx context.Context, id uuid.UUID) (core.Transaction, error)
}

// MonthFetcher lists the transactions of one calendar month.
type MonthFetcher interface {
	Fetch(ctx context.Context, date time.Time) ([]core.Transaction, error)
}

// SyncWorker mirrors transactions into a spreadsheet as events arrive.
type SyncWorker struct {
	storage  TransactionGetter
	exporter sheets.TransactionExporter
	logger   *log.Logger

	// last applied version per transaction id
	applied *cache.LRUCache[int64]
}

func NewSyncWorker(storage TransactionGetter, exporter sheets.TransactionExporter, logger *log.Logger) *SyncWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &SyncWorker{
		storage:  storage,
		exporter: exporter,
		logger:   logger.WithComponent(log.ComponentWorker),
		applied:  cache.NewLRUCache[int64](versionCacheSize, versionCacheTTL),
	}
}

// Cache exposes the version cache so callers can register it for sweeping.
func (w *SyncWorker) Cache() *cache.LRUCache[int64] {
	return w.applied
}

// HandleEvent is an amqp.Handler. Events older than the last one applied
// for the same transaction are skipped. Returning an error requeues.
func (w *SyncWorker) HandleEvent(ctx context.Context, ev *amqp.TransactionEvent) error {
	key := ev.ID.String()
	if last, ok := w.applied.Get(key); ok && ev.Version < last {
		w.logger.InfoContext(ctx, "skipping stale event",
			log.FieldTxID, key, "version", ev.Version, "applied_version", last)
		return nil
	}

	var err error
	switch ev.Type {
	case amqp.EventCreated, amqp.EventUpdated:
		err = w.syncTransaction(ctx, ev.ID)
	case amqp.EventDeleted:
		err = w.removeTransaction(ctx, ev.ID)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	if err != nil {
		return err
	}
	w.applied.Set(key, ev.Version)
	return nil
}

func (w *SyncWorker) syncTransaction(ctx context.Context, id uuid.UUID) error {
	t, err := w.storage.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted after the event was published; the delete event follows.
		return w.removeTransaction(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	ref, err := w.exporter.Upsert(ctx, t)
	if err != nil {
		if core.IsValidationError(err) {
			w.logger.ErrorContext(ctx, "transaction cannot be exported",
				log.FieldTxID, id.String(), log.FieldError, err.Error())
			return nil
		}
		return fmt.Errorf("upsert to sheets: %w", err)
	}

	w.logger.InfoContext(ctx, "synced transaction",
		log.FieldTxID, id.String(),
		log.FieldSheetsRef, ref,
		log.FieldAmountMinor, t.Value.Minor,
		log.FieldCurrency, t.Value.Currency)
	return nil
}

func (w *SyncWorker) removeTransaction(ctx context.Context, id uuid.UUID) error {
	if err := w.exporter.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove from sheets: %w", err)
	}
	w.logger.InfoContext(ctx, "removed transaction row", log.FieldTxID, id.String())
	return nil
}

// Resync exports every transaction of the month containing date. It backs
// up the event stream after downtime.
func (w *SyncWorker) Resync(ctx context.Context, fetcher MonthFetcher, date time.Time) (int, error) {
	txs, err := fetcher.Fetch(ctx, date)
	var decodeErr *storage.DecodeError
	if err != nil && !errors.As(err, &decodeErr) {
		return 0, fmt.Errorf("fetch month: %w", err)
	}
	if decodeErr != nil {
		w.logger.WarnContext(ctx, "skipping undecodable rows", "rows", len(decodeErr.Rows))
	}

	synced := 0
	for _, t := range txs {
		if _, err := w.exporter.Upsert(ctx, t); err != nil {
			w.logger.ErrorContext(ctx, "failed to sync transaction during resync",
				log.FieldTxID, t.ID.String(), log.FieldError, err.Error())
			continue
		}
		synced++
	}
	w.logger.InfoContext(ctx, "resync completed", "total", len(txs), "synced", synced)
	return synced, nil
}
