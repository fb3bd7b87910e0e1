package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridtap/pkg/backend"
	"gridtap/pkg/crypto"
	"gridtap/pkg/grid"
	"gridtap/pkg/nonce"
	"gridtap/pkg/order"
	"gridtap/pkg/session"
	"gridtap/pkg/wallet"
)

var testExecutor = common.HexToAddress("0x00000000000000000000000000000000000000ee")

// fakeClock broadcasts to every waiter on fire, so the expiry watcher
// and the resign ticker can be driven deterministically.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	return ch
}

func (c *fakeClock) waiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *fakeClock) fire() {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	now := c.now
	c.mu.Unlock()
	for _, ch := range waiters {
		ch <- now
	}
}

// fakeChain serves strictly increasing nonces starting at 7.
type fakeChain struct {
	mu   sync.Mutex
	next int64
}

func (c *fakeChain) Call(context.Context, common.Address, []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	c.next++
	return crypto.PackUint256(big.NewInt(n)), nil
}

// rejectingWallet declines every signing prompt.
type rejectingWallet struct {
	addr common.Address
}

func (w *rejectingWallet) Address() common.Address { return w.addr }

func (w *rejectingWallet) PersonalSign(context.Context, []byte) ([]byte, error) {
	return nil, wallet.ErrUserRejected
}

// engineBackend mocks the execution backend's grid endpoints.
type engineBackend struct {
	mu         sync.Mutex
	creates    []backend.CreateSessionRequest
	cancels    []backend.CancelSessionRequest
	batches    []backend.BatchCreateRequest
	failCreate bool
	failCancel bool
	orderSeq   int
}

func (b *engineBackend) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/grid/create-session", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failCreate {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "maintenance"})
			return
		}
		var cr backend.CreateSessionRequest
		json.NewDecoder(req.Body).Decode(&cr)
		b.creates = append(b.creates, cr)
		json.NewEncoder(w).Encode(backend.CreateSessionResponse{SessionID: "gs-1"})
	}).Methods("POST")
	r.HandleFunc("/grid/cancel-session", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failCancel {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "maintenance"})
			return
		}
		var cr backend.CancelSessionRequest
		json.NewDecoder(req.Body).Decode(&cr)
		b.cancels = append(b.cancels, cr)
		w.Write([]byte("{}"))
	}).Methods("POST")
	r.HandleFunc("/tap-to-trade/batch-create", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		var br backend.BatchCreateRequest
		json.NewDecoder(req.Body).Decode(&br)
		b.batches = append(b.batches, br)
		ids := make([]string, len(br.Orders))
		for i := range ids {
			b.orderSeq++
			ids[i] = "ord-" + strconv.Itoa(b.orderSeq)
		}
		json.NewEncoder(w).Encode(backend.BatchCreateResponse{OrderIDs: ids})
	}).Methods("POST")
	r.HandleFunc("/tap-to-trade/orders", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("[]"))
	}).Methods("GET")
	return r
}

func (b *engineBackend) cancelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cancels)
}

func newEngineForTest(t *testing.T, bk *engineBackend, w wallet.Signer) (*Engine, *fakeClock) {
	t.Helper()

	srv := httptest.NewServer(bk.router())
	t.Cleanup(srv.Close)

	clock := newFakeClock()
	cfg := Config{
		Executor:           testExecutor,
		SessionDuration:    time.Hour,
		ResignPollInterval: 30 * time.Second,
	}
	e := New(cfg, w, &fakeChain{next: 7}, backend.NewClient(srv.URL), nil, nil, clock, zap.NewNop().Sugar())
	return e, clock
}

func testGridSession(clock *fakeClock) *grid.Session {
	now := clock.Now().Unix()
	return &grid.Session{
		Symbol:           "BTC-USD",
		MarginTotal:      decimal.NewFromInt(100),
		Leverage:         10,
		TimeframeSeconds: 60,
		GridSizeX:        1,
		GridSizeYPercent: 50,
		ReferenceTime:    grid.SnapReferenceTime(now, 1, 60),
		ReferencePrice:   decimal.NewFromInt(50000),
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEnableTapModeRegistersDelegation(t *testing.T) {
	signerKey, _ := crypto.GenerateKey()
	w := wallet.NewLocalWallet(signerKey)
	bk := &engineBackend{}
	e, clock := newEngineForTest(t, bk, w)

	key, err := e.EnableTapMode(context.Background(), testGridSession(clock))
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !e.Enabled() {
		t.Error("engine not enabled after EnableTapMode")
	}
	if e.SessionState() != session.StateActive {
		t.Errorf("session state = %s, want active", e.SessionState())
	}

	bk.mu.Lock()
	defer bk.mu.Unlock()
	if len(bk.creates) != 1 {
		t.Fatalf("create-session count = %d, want 1", len(bk.creates))
	}
	req := bk.creates[0]
	if req.Trader != w.Address().Hex() {
		t.Errorf("trader = %s, want %s", req.Trader, w.Address().Hex())
	}
	if req.SessionKey != key.Address.Hex() {
		t.Errorf("session key = %s, want %s", req.SessionKey, key.Address.Hex())
	}

	// The backend must be able to verify the delegation from the request
	// alone.
	sig, err := hexutil.Decode(req.SessionAuthSignature)
	if err != nil {
		t.Fatalf("decode auth signature: %v", err)
	}
	proof := &session.SessionKey{
		Address:       common.HexToAddress(req.SessionKey),
		ExpiresAt:     req.SessionExpiresAt,
		AuthorizedBy:  w.Address(),
		AuthSignature: sig,
	}
	if !session.VerifyAuthSignature(proof, w.Address()) {
		t.Error("delegation proof does not verify against the trader")
	}
}

func TestHandleTapSubmitsSessionSignedOrder(t *testing.T) {
	signerKey, _ := crypto.GenerateKey()
	w := wallet.NewLocalWallet(signerKey)
	bk := &engineBackend{}
	e, clock := newEngineForTest(t, bk, w)

	key, err := e.EnableTapMode(context.Background(), testGridSession(clock))
	if err != nil {
		t.Fatalf("enable: %v", err)
	}

	res, err := e.HandleTap(context.Background(), 2, -2, decimal.NewFromInt(50100))
	if err != nil {
		t.Fatalf("tap: %v", err)
	}
	if res.TriggerPrice != "49500.00000000" {
		t.Errorf("trigger price = %s, want 49500.00000000", res.TriggerPrice)
	}
	if !res.IsLong {
		t.Error("cell below reference must be long")
	}
	if !res.SessionSigned {
		t.Error("order should be session signed, no prompt needed")
	}
	if res.OrderCount != 1 {
		t.Errorf("cell order count = %d, want 1", res.OrderCount)
	}

	bk.mu.Lock()
	if len(bk.batches) != 1 || len(bk.batches[0].Orders) != 1 {
		bk.mu.Unlock()
		t.Fatalf("batch submissions = %+v, want one order", bk.batches)
	}
	signed := bk.batches[0].Orders[0]
	bk.mu.Unlock()

	if signed.Nonce != "7" {
		t.Errorf("nonce = %s, want fresh 7", signed.Nonce)
	}
	if signed.Collateral != "100.000000" {
		t.Errorf("collateral = %s, want 100.000000", signed.Collateral)
	}

	// Signature recovers to the session key, not the trader.
	nonceBig, _ := new(big.Int).SetString(signed.Nonce, 10)
	digest := order.Digest(w.Address(), signed.Symbol, signed.IsLong,
		big.NewInt(100_000_000), big.NewInt(signed.Leverage), nonceBig, testExecutor)
	sigBytes, err := hexutil.Decode(signed.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	recovered, err := crypto.RecoverAddress(crypto.PersonalSignHash(digest), sigBytes)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != key.Address {
		t.Errorf("recovered %s, want session key %s", recovered.Hex(), key.Address.Hex())
	}

	// A repeat tap on the same cell is an independent full-size order
	// with the next nonce.
	res2, err := e.HandleTap(context.Background(), 2, -2, decimal.NewFromInt(50100))
	if err != nil {
		t.Fatalf("second tap: %v", err)
	}
	if res2.OrderCount != 2 {
		t.Errorf("cell order count after repeat = %d, want 2", res2.OrderCount)
	}
	bk.mu.Lock()
	second := bk.batches[1].Orders[0]
	bk.mu.Unlock()
	if second.Nonce != "8" {
		t.Errorf("repeat nonce = %s, want 8", second.Nonce)
	}
}

func TestHandleTapRequiresTapMode(t *testing.T) {
	signerKey, _ := crypto.GenerateKey()
	w := wallet.NewLocalWallet(signerKey)
	e, _ := newEngineForTest(t, &engineBackend{}, w)

	_, err := e.HandleTap(context.Background(), 0, 1, decimal.Zero)
	if !errors.Is(err, ErrTapModeDisabled) {
		t.Errorf("err = %v, want ErrTapModeDisabled", err)
	}
}

func TestHandleTapDroppedWhileInFlight(t *testing.T) {
	signerKey, _ := crypto.GenerateKey()
	w := wallet.NewLocalWallet(signerKey)
	bk := &engineBackend{}
	e, clock := newEngineForTest(t, bk, w)

	if _, err := e.EnableTapMode(context.Background(), testGridSession(clock)); err != nil {
		t.Fatalf("enable: %v", err)
	}

	if err := e.seq.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err := e.HandleTap(context.Background(), 0, 1, decimal.Zero)
	if !errors.Is(err, nonce.ErrOrderInFlight) {
		t.Errorf("err = %v, want ErrOrderInFlight", err)
	}
	e.seq.End()

	// The guard was not consumed by the dropped tap.
	if _, err := e.HandleTap(context.Background(), 0, 1, decimal.Zero); err != nil {
		t.Errorf("tap after guard release: %v", err)
	}
}

func TestDisableTapModeIdempotent(t *testing.T) {
	signerKey, _ := crypto.GenerateKey()
	w := wallet.NewLocalWallet(signerKey)
	bk := &engineBackend{}
	e, clock := newEngineForTest(t, bk, w)

	if _, err := e.EnableTapMode(context.Background(), testGridSession(clock)); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := e.HandleTap(context.Background(), 1, 3, decimal.Zero); err != nil {
		t.Fatalf("tap: %v", err)
	}

	if err := e.DisableTapMode(context.Background()); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if e.Enabled() {
		t.Error("still enabled after disable")
	}
	if e.SessionState() == session.StateActive {
		t.Error("session key still active after disable")
	}
	if len(e.Cells()) != 0 {
		t.Error("cell book not cleared on disable")
	}
	if _, err := e.HandleTap(context.Background(), 1, 3, decimal.Zero); !errors.Is(err, ErrTapModeDisabled) {
		t.Errorf("tap after disable: err = %v, want ErrTapModeDisabled", err)
	}

	// Second disable is a no-op, not a second backend cancel.
	if err := e.DisableTapMode(context.Background()); err != nil {
		t.Fatalf("repeat disable: %v", err)
	}
	if bk.cancelCount() != 1 {
		t.Errorf("cancel-session count = %d, want 1", bk.cancelCount())
	}
}

func TestDisableRetriesBackendCancel(t *testing.T) {
	signerKey, _ := crypto.GenerateKey()
	w := wallet.NewLocalWallet(signerKey)
	bk := &engineBackend{}
	e, clock := newEngineForTest(t, bk, w)

	if _, err := e.EnableTapMode(context.Background(), testGridSession(clock)); err != nil {
		t.Fatalf("enable: %v", err)
	}

	bk.mu.Lock()
	bk.failCancel = true
	bk.mu.Unlock()

	// Local teardown always happens; the backend cancel failure is
	// surfaced and the session id retained for retry.
	if err := e.DisableTapMode(context.Background()); err == nil {
		t.Fatal("disable succeeded against failing backend")
	}
	if e.Enabled() {
		t.Error("still enabled after failed disable")
	}
	if e.SessionState() == session.StateActive {
		t.Error("session key survived failed disable")
	}
	if _, err := e.HandleTap(context.Background(), 0, 1, decimal.Zero); !errors.Is(err, ErrTapModeDisabled) {
		t.Errorf("tap after disable: err = %v, want ErrTapModeDisabled", err)
	}

	// Backend recovers: the next disable re-issues the cancel instead of
	// short-circuiting, so the grid session does not dangle server-side.
	bk.mu.Lock()
	bk.failCancel = false
	bk.mu.Unlock()
	if err := e.DisableTapMode(context.Background()); err != nil {
		t.Fatalf("retry disable: %v", err)
	}
	if bk.cancelCount() != 1 {
		t.Fatalf("cancel-session count = %d, want 1", bk.cancelCount())
	}
	bk.mu.Lock()
	cancelledID := bk.cancels[0].SessionID
	bk.mu.Unlock()
	if cancelledID != "gs-1" {
		t.Errorf("cancelled session = %s, want gs-1", cancelledID)
	}

	// Once acknowledged, further disables are plain no-ops.
	if err := e.DisableTapMode(context.Background()); err != nil {
		t.Fatalf("disable after ack: %v", err)
	}
	if bk.cancelCount() != 1 {
		t.Errorf("cancel-session count = %d, want still 1", bk.cancelCount())
	}
}

func TestEnableDeniedFailsClosed(t *testing.T) {
	w := &rejectingWallet{addr: common.HexToAddress("0x1111111111111111111111111111111111111111")}
	bk := &engineBackend{}
	e, clock := newEngineForTest(t, bk, w)

	_, err := e.EnableTapMode(context.Background(), testGridSession(clock))
	if !errors.Is(err, session.ErrAuthorizationDenied) {
		t.Fatalf("err = %v, want ErrAuthorizationDenied", err)
	}
	if e.Enabled() {
		t.Error("engine enabled after denied authorization")
	}
	bk.mu.Lock()
	defer bk.mu.Unlock()
	if len(bk.creates) != 0 {
		t.Error("grid session registered despite denied delegation")
	}
}

func TestEnableBackendFailureDestroysSessionKey(t *testing.T) {
	signerKey, _ := crypto.GenerateKey()
	w := wallet.NewLocalWallet(signerKey)
	bk := &engineBackend{failCreate: true}
	e, clock := newEngineForTest(t, bk, w)

	_, err := e.EnableTapMode(context.Background(), testGridSession(clock))
	if err == nil {
		t.Fatal("enable succeeded against failing backend")
	}
	if e.Enabled() {
		t.Error("engine enabled after backend rejection")
	}
	if e.SessionState() == session.StateActive {
		t.Error("session key survived failed setup")
	}
	if e.SessionKey() != nil {
		t.Error("session key material retained after failed setup")
	}
}

func TestSessionExpiryAutoDisables(t *testing.T) {
	signerKey, _ := crypto.GenerateKey()
	w := wallet.NewLocalWallet(signerKey)
	bk := &engineBackend{}
	e, clock := newEngineForTest(t, bk, w)

	if _, err := e.EnableTapMode(context.Background(), testGridSession(clock)); err != nil {
		t.Fatalf("enable: %v", err)
	}

	// Both the expiry watcher and the resign ticker must be parked on
	// the clock before the deadline fires.
	waitFor(t, func() bool { return clock.waiterCount() >= 2 }, "clock waiters not registered")
	clock.fire() // session deadline crosses

	waitFor(t, func() bool { return !e.Enabled() }, "tap mode not auto-disabled on expiry")
	waitFor(t, func() bool { return bk.cancelCount() == 1 }, "grid session not cancelled on expiry")

	if _, err := e.HandleTap(context.Background(), 0, 1, decimal.Zero); !errors.Is(err, ErrTapModeDisabled) {
		t.Errorf("tap after expiry: err = %v, want ErrTapModeDisabled", err)
	}
}
