package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridtap/pkg/backend"
	"gridtap/pkg/grid"
	"gridtap/pkg/nonce"
	"gridtap/pkg/order"
	"gridtap/pkg/resign"
	"gridtap/pkg/session"
	"gridtap/pkg/storage"
	"gridtap/pkg/util"
	"gridtap/pkg/wallet"
)

// ErrTapModeDisabled means a tap arrived while no grid session is
// enabled.
var ErrTapModeDisabled = errors.New("engine: tap-to-trade mode is not enabled")

// Config carries the engine's static parameters.
type Config struct {
	Executor           common.Address // executor contract identity, bound into every signature
	SessionDuration    time.Duration  // session key lifetime
	ResignPollInterval time.Duration  // recovery loop poll interval
}

// TapResult is returned to the chart for immediate visual feedback.
type TapResult struct {
	OrderID       string
	TriggerPrice  string
	StartTime     int64
	EndTime       int64
	IsLong        bool
	Multiplier    string
	OrderCount    int
	SessionSigned bool
}

// Engine owns the tap-to-trade control flow: session key lifecycle,
// grid frame, nonce sequencing, order construction and the resign
// recovery loop. One engine per trader.
type Engine struct {
	cfg     Config
	wallet  wallet.Signer
	client  *backend.Client
	stream  *backend.Stream
	journal *storage.OrderLog
	clock   util.Clock
	log     *zap.SugaredLogger

	sessions *session.Manager
	seq      *nonce.Sequencer
	builder  *order.Builder
	cells    *grid.CellBook

	mu               sync.Mutex
	enabled          bool
	gridSession      *grid.Session
	backendSessionID string
	pendingCancel    string // backend session whose cancel has not been acknowledged
	loop             *resign.Loop
	stopLoop         context.CancelFunc
}

func New(
	cfg Config,
	walletSigner wallet.Signer,
	chain wallet.ChainReader,
	client *backend.Client,
	stream *backend.Stream,
	journal *storage.OrderLog,
	clock util.Clock,
	log *zap.SugaredLogger,
) *Engine {
	e := &Engine{
		cfg:      cfg,
		wallet:   walletSigner,
		client:   client,
		stream:   stream,
		journal:  journal,
		clock:    clock,
		log:      log,
		sessions: session.NewManager(clock, log),
		seq:      nonce.NewSequencer(chain, cfg.Executor),
		cells:    grid.NewCellBook(),
	}
	e.builder = order.NewBuilder(cfg.Executor, e.sessions, walletSigner, true, log)

	// Session expiry is a hard cancellation point: tap mode
	// auto-disables exactly once on the valid->invalid transition.
	e.sessions.SetExpiryHandler(func() {
		e.log.Infow("session_expired_disabling_tap_mode")
		if err := e.DisableTapMode(context.Background()); err != nil {
			e.log.Warnw("auto_disable_failed", "err", err)
		}
	})
	return e
}

// EnableTapMode creates a delegated session key, registers the grid
// session with the backend and starts the recovery loop. Any previously
// enabled session is superseded first. Fails closed: a setup error
// leaves no session key behind.
func (e *Engine) EnableTapMode(ctx context.Context, gs *grid.Session) (*session.SessionKey, error) {
	if e.wallet == nil {
		return nil, wallet.ErrWalletNotFound
	}
	if err := gs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid session: %w", err)
	}

	if err := e.DisableTapMode(ctx); err != nil {
		e.log.Warnw("supersede_disable_failed", "err", err)
	}

	key, err := e.sessions.Create(ctx, e.wallet, e.cfg.SessionDuration)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.CreateGridSession(ctx, &backend.CreateSessionRequest{
		Trader:               e.wallet.Address().Hex(),
		Symbol:               gs.Symbol,
		MarginTotal:          gs.MarginTotal.StringFixed(6),
		Leverage:             gs.Leverage,
		TimeframeSeconds:     gs.TimeframeSeconds,
		GridSizeX:            gs.GridSizeX,
		GridSizeYPercent:     gs.GridSizeYPercent,
		ReferenceTime:        gs.ReferenceTime,
		ReferencePrice:       gs.ReferencePrice.StringFixed(8),
		SessionKey:           key.Address.Hex(),
		SessionExpiresAt:     key.ExpiresAt,
		SessionAuthSignature: fmt.Sprintf("0x%x", key.AuthSignature),
	})
	if err != nil {
		// Session-setup failure destroys the key material.
		e.sessions.Clear()
		return nil, fmt.Errorf("register grid session: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	loop := resign.NewLoop(e.client, e.seq, e.builder, e.journal, e.wallet.Address(), e.cfg.ResignPollInterval, e.clock, e.log)

	e.mu.Lock()
	e.enabled = true
	e.gridSession = gs
	e.backendSessionID = resp.SessionID
	e.loop = loop
	e.stopLoop = cancel
	e.cells.Clear()
	e.mu.Unlock()

	go loop.Run(loopCtx)
	if e.stream != nil {
		go e.watchStream(loopCtx, loop)
	}

	e.log.Infow("tap_mode_enabled",
		"symbol", gs.Symbol,
		"grid_session", resp.SessionID,
		"session_key", key.Address.Hex(),
	)
	return key, nil
}

// HandleTap turns a chart tap into a signed, submitted order. A tap
// arriving while another order construction is in flight is dropped
// with nonce.ErrOrderInFlight, never queued. On any failure no partial
// state remains: the cell counter moves only after backend acceptance.
func (e *Engine) HandleTap(ctx context.Context, cellX, cellY int64, currentPrice decimal.Decimal) (*TapResult, error) {
	e.mu.Lock()
	enabled, gs, sessionID := e.enabled, e.gridSession, e.backendSessionID
	e.mu.Unlock()
	if !enabled {
		return nil, ErrTapModeDisabled
	}

	if err := e.seq.Begin(); err != nil {
		return nil, err
	}
	defer e.seq.End() // guard must reset on every path

	target := gs.CellTarget(cellX, cellY)

	freshNonce, err := e.seq.FetchCurrent(ctx, e.wallet.Address())
	if err != nil {
		return nil, err
	}

	signed, err := e.builder.Build(ctx, gs, target, currentPrice, e.clock.Now().Unix(), freshNonce)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.BatchCreateOrders(ctx, &backend.BatchCreateRequest{
		SessionID: sessionID,
		Orders:    []*order.SignedOrder{signed},
	})
	if err != nil {
		return nil, err
	}

	orderID := signed.ClientID
	if len(resp.OrderIDs) > 0 {
		orderID = resp.OrderIDs[0]
	}
	e.journalOrder(orderID, signed)

	count := e.cells.Record(target)
	e.log.Infow("tap_order_submitted",
		"order", orderID,
		"cell_x", cellX,
		"cell_y", cellY,
		"trigger_price", signed.TriggerPrice,
		"is_long", signed.IsLong,
		"nonce", signed.Nonce,
		"session_signed", signed.SessionSigned(),
	)

	return &TapResult{
		OrderID:       orderID,
		TriggerPrice:  signed.TriggerPrice,
		StartTime:     signed.StartTime,
		EndTime:       signed.EndTime,
		IsLong:        signed.IsLong,
		Multiplier:    signed.Multiplier,
		OrderCount:    count,
		SessionSigned: signed.SessionSigned(),
	}, nil
}

// DisableTapMode cancels the grid session server-side, stops the
// recovery loop and discards all per-mode state: session key, cell
// book, attempted-set. Idempotent. Local teardown is unconditional
// (the session key must be wiped even if the backend is unreachable);
// when the server-side cancel fails, the session id is retained and
// re-issued by the next DisableTapMode call.
func (e *Engine) DisableTapMode(ctx context.Context) error {
	e.mu.Lock()
	if !e.enabled {
		pending := e.pendingCancel
		e.mu.Unlock()
		e.sessions.Clear() // clear is idempotent even when never enabled
		if pending == "" {
			return nil
		}
		return e.cancelBackendSession(ctx, pending)
	}
	e.enabled = false
	sessionID := e.backendSessionID
	loop, stop := e.loop, e.stopLoop
	e.gridSession = nil
	e.backendSessionID = ""
	e.loop = nil
	e.stopLoop = nil
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
	if loop != nil {
		loop.Reset()
	}
	e.cells.Clear()
	e.sessions.Clear()

	if err := e.cancelBackendSession(ctx, sessionID); err != nil {
		return err
	}

	e.log.Infow("tap_mode_disabled", "grid_session", sessionID)
	return nil
}

func (e *Engine) cancelBackendSession(ctx context.Context, sessionID string) error {
	err := e.client.CancelGridSession(ctx, &backend.CancelSessionRequest{
		SessionID: sessionID,
		Trader:    e.wallet.Address().Hex(),
	})
	e.mu.Lock()
	if err != nil {
		e.pendingCancel = sessionID
	} else if e.pendingCancel == sessionID {
		e.pendingCancel = ""
	}
	e.mu.Unlock()
	if err != nil {
		e.log.Warnw("cancel_grid_session_failed", "grid_session", sessionID, "err", err)
		return err
	}
	return nil
}

// Enabled reports whether tap mode is currently on.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// SessionState exposes the session key lifecycle state.
func (e *Engine) SessionState() session.State {
	return e.sessions.State()
}

// SessionKey returns the active delegation (no private material) or nil.
func (e *Engine) SessionKey() *session.SessionKey {
	return e.sessions.Key()
}

// GridSession returns the enabled reference frame, or nil.
func (e *Engine) GridSession() *grid.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gridSession
}

// Cells returns the per-cell order counts for the enabled session.
func (e *Engine) Cells() []grid.CellOrder {
	return e.cells.Snapshot()
}

// Orders lists the locally journaled orders.
func (e *Engine) Orders() ([]*backend.OrderRecord, error) {
	if e.journal == nil {
		return nil, nil
	}
	return e.journal.List()
}

func (e *Engine) watchStream(ctx context.Context, loop *resign.Loop) {
	go e.stream.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-e.stream.Updates():
			if e.journal != nil {
				if err := e.journal.SetStatus(update.OrderID, update.Status); err != nil {
					e.log.Warnw("journal_update_failed", "order", update.OrderID, "err", err)
				}
			}
			if update.Status == order.StatusNeedsResign {
				loop.Kick()
			}
		}
	}
}

func (e *Engine) journalOrder(orderID string, signed *order.SignedOrder) {
	if e.journal == nil {
		return
	}
	rec := &backend.OrderRecord{
		ID:           orderID,
		ClientID:     signed.ClientID,
		Trader:       signed.Trader,
		Symbol:       signed.Symbol,
		IsLong:       signed.IsLong,
		Collateral:   signed.Collateral,
		Leverage:     signed.Leverage,
		Nonce:        signed.Nonce,
		TriggerPrice: signed.TriggerPrice,
		StartTime:    signed.StartTime,
		EndTime:      signed.EndTime,
		Multiplier:   signed.Multiplier,
		Status:       order.StatusPending,
		SessionKey:   signed.SessionKey,
	}
	if err := e.journal.Put(rec); err != nil {
		e.log.Warnw("journal_put_failed", "order", orderID, "err", err)
	}
}
