package resign

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"gridtap/pkg/backend"
	"gridtap/pkg/nonce"
	"gridtap/pkg/order"
	"gridtap/pkg/storage"
	"gridtap/pkg/util"
	"gridtap/pkg/wallet"
)

// Loop recovers orders whose nonce went stale before the backend
// accepted them. Each NEEDS_RESIGN order is re-signed at most once per
// staleness episode: the attempted-set holds ids whose update the
// backend has not yet acknowledged, so a trader is never prompted twice
// for the same episode. An order the trader declines to re-sign is
// actively cancelled, never left dangling.
type Loop struct {
	backend  *backend.Client
	seq      *nonce.Sequencer
	builder  *order.Builder
	journal  *storage.OrderLog
	trader   common.Address
	interval time.Duration
	clock    util.Clock
	log      *zap.SugaredLogger

	mu        sync.Mutex
	attempted map[string]bool
	declined  map[string]bool

	kick chan struct{}
}

func NewLoop(
	client *backend.Client,
	seq *nonce.Sequencer,
	builder *order.Builder,
	journal *storage.OrderLog,
	trader common.Address,
	interval time.Duration,
	clock util.Clock,
	log *zap.SugaredLogger,
) *Loop {
	return &Loop{
		backend:   client,
		seq:       seq,
		builder:   builder,
		journal:   journal,
		trader:    trader,
		interval:  interval,
		clock:     clock,
		log:       log,
		attempted: make(map[string]bool),
		declined:  make(map[string]bool),
		kick:      make(chan struct{}, 1),
	}
}

// Kick requests an early poll cycle (e.g. on a status-stream push).
func (l *Loop) Kick() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. Runs only while tap mode is enabled;
// the engine cancels ctx on disable.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.clock.After(l.interval):
		case <-l.kick:
		}
		l.PollOnce(ctx)
	}
}

// Reset clears the attempted- and declined-sets. Called when tap mode
// is disabled.
func (l *Loop) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempted = make(map[string]bool)
	l.declined = make(map[string]bool)
}

// PollOnce fetches the trader's NEEDS_RESIGN orders and processes each
// at most once.
func (l *Loop) PollOnce(ctx context.Context) {
	records, err := l.backend.ListOrders(ctx, l.trader.Hex(), order.StatusNeedsResign)
	if err != nil {
		l.log.Warnw("resign_poll_failed", "err", err)
		return
	}

	for _, rec := range records {
		l.mu.Lock()
		if l.attempted[rec.ID] {
			// Update already sent; backend has not observed it yet.
			l.mu.Unlock()
			continue
		}
		declined := l.declined[rec.ID]
		l.attempted[rec.ID] = true
		l.mu.Unlock()

		if declined {
			// The trader already said no this episode. Keep pushing the
			// cancel until the backend acknowledges it; never re-prompt.
			l.cancelOne(ctx, rec)
			continue
		}
		l.resignOne(ctx, rec)
	}
}

func (l *Loop) resignOne(ctx context.Context, rec *backend.OrderRecord) {
	// Share the tap path's in-flight guard: a resign and a tap must not
	// read-then-sign the same nonce concurrently.
	if err := l.seq.Begin(); err != nil {
		// A tap is mid-construction; surrender this cycle's attempt.
		l.unmark(rec.ID)
		return
	}
	defer l.seq.End()

	freshNonce, err := l.seq.FetchCurrent(ctx, l.trader)
	if err != nil {
		l.log.Warnw("resign_nonce_fetch_failed", "order", rec.ID, "err", err)
		l.unmark(rec.ID) // nothing was signed; retry next cycle
		return
	}

	stale := &order.SignedOrder{
		Trader:     rec.Trader,
		Symbol:     rec.Symbol,
		IsLong:     rec.IsLong,
		Collateral: rec.Collateral,
		Leverage:   rec.Leverage,
	}

	sigHex, sessionKey, err := l.builder.Resign(ctx, stale, freshNonce)
	if err != nil {
		if errors.Is(err, wallet.ErrUserRejected) {
			l.mu.Lock()
			l.declined[rec.ID] = true
			l.mu.Unlock()
			l.cancelOne(ctx, rec)
			return
		}
		l.log.Warnw("resign_signing_failed", "order", rec.ID, "err", err)
		l.unmark(rec.ID)
		return
	}

	update := &backend.UpdateSignatureRequest{
		OrderID:    rec.ID,
		Trader:     rec.Trader,
		Nonce:      freshNonce.String(),
		Signature:  sigHex,
		SessionKey: sessionKey,
	}
	if err := l.backend.UpdateSignature(ctx, update); err != nil {
		// No acknowledgment: keep the id marked so the trader is not
		// prompted again while the backend catches up.
		l.log.Warnw("resign_update_failed", "order", rec.ID, "err", err)
		return
	}

	// Acknowledged: a future staleness episode may retry this order.
	l.unmark(rec.ID)
	l.journalStatus(rec.ID, order.StatusResigned)
	l.log.Infow("order_resigned", "order", rec.ID, "nonce", freshNonce.String(), "session_signed", sessionKey != "")
}

func (l *Loop) cancelOne(ctx context.Context, rec *backend.OrderRecord) {
	err := l.backend.CancelOrder(ctx, &backend.CancelOrderRequest{OrderID: rec.ID, Trader: rec.Trader})
	if err != nil {
		// Unmark so the next cycle retries the cancel; the declined-set
		// keeps the trader from being prompted again meanwhile. An order
		// must never sit in NEEDS_RESIGN with nothing attempting it.
		l.log.Warnw("resign_cancel_failed", "order", rec.ID, "err", err)
		l.unmark(rec.ID)
		return
	}
	l.mu.Lock()
	delete(l.attempted, rec.ID)
	delete(l.declined, rec.ID)
	l.mu.Unlock()
	l.journalStatus(rec.ID, order.StatusCancelled)
	l.log.Infow("order_cancelled_after_resign_declined", "order", rec.ID)
}

func (l *Loop) unmark(id string) {
	l.mu.Lock()
	delete(l.attempted, id)
	l.mu.Unlock()
}

func (l *Loop) journalStatus(id string, status order.Status) {
	if l.journal == nil {
		return
	}
	if err := l.journal.SetStatus(id, status); err != nil {
		l.log.Warnw("journal_update_failed", "order", id, "err", err)
	}
}
