// Package store persists the audit trail: every ledger mutation and
// every engine progress event lands in Postgres. The in-memory ledger
// stays authoritative; the journal is write-behind and never gates an
// operation.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"server/internal/engine"
	"server/internal/infra"
	"server/internal/ledger"
)

const writeTimeout = 5 * time.Second

// Journal writes ledger entries and engine events through a marker
// aware SQL executor.
type Journal struct {
	db     infra.SQLExecutor
	logger zerolog.Logger
	cancel func()
}

func NewJournal(db infra.SQLExecutor, logger zerolog.Logger) *Journal {
	return &Journal{db: db, logger: logger}
}

// EnsureSchema creates the journal tables when they do not exist yet.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, QEnsureLedgerTable); err != nil {
		return err
	}
	_, err := j.db.Exec(ctx, QEnsureEventsTable)
	return err
}

// AttachLedger hooks the ledger so every entry is journaled as it is
// appended. Writes happen off the calling goroutine.
func (j *Journal) AttachLedger(lg *ledger.Ledger) {
	lg.OnEntry(func(e ledger.Entry) {
		go j.writeEntry(e)
	})
}

// WatchEvents drains a broadcaster subscription into the journal until
// Close is called or the stream ends.
func (j *Journal) WatchEvents(b *engine.Broadcaster) {
	events, cancel := b.Subscribe()
	j.cancel = cancel
	go func() {
		for e := range events {
			j.writeEvent(e)
		}
	}()
}

// Close detaches the event subscription.
func (j *Journal) Close() {
	if j.cancel != nil {
		j.cancel()
	}
}

func (j *Journal) writeEntry(e ledger.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := j.db.Exec(ctx, QInsertLedgerEntry,
		e.Seq, e.At, string(e.Type), e.Amount, e.JobID, e.Balance)
	if err != nil {
		j.logger.Error().Err(err).Int64("seq", e.Seq).Msg("journal ledger entry failed")
	}
}

func (j *Journal) writeEvent(e engine.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := j.db.Exec(ctx, QInsertEngineEvent,
		e.At, string(e.Type), e.RunID, e.SceneID, e.Stage, e.Detail, e.Cycle, e.Balance)
	if err != nil {
		j.logger.Error().Err(err).Str("event", string(e.Type)).Msg("journal event failed")
	}
}
