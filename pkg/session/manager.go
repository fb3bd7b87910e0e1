package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"gridtap/pkg/crypto"
	"gridtap/pkg/util"
	"gridtap/pkg/wallet"
)

var (
	// ErrAuthorizationDenied means the user rejected the delegation prompt.
	ErrAuthorizationDenied = errors.New("session: authorization denied by user")

	// ErrSignatureMismatch means the wallet signature did not recover to
	// the expected trader. Fail closed: no session is created.
	ErrSignatureMismatch = errors.New("session: authorization signature does not match trader")

	// ErrSessionInvalid means there is no active, unexpired session key.
	// Callers fall back to the primary wallet.
	ErrSessionInvalid = errors.New("session: no valid session key")
)

// State of the manager's lifecycle machine.
type State int

const (
	StateIdle State = iota
	StateActive
	StateExpired
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Manager owns the session key lifecycle: Idle -> Active -> Expired/Disabled.
// Exactly one session per manager; creating a new one supersedes the old.
type Manager struct {
	mu       sync.Mutex
	clock    util.Clock
	log      *zap.SugaredLogger
	state    State
	key      *SessionKey
	signer   *crypto.Signer
	onExpire func()
	watchGen uint64 // invalidates stale expiry watchers
}

func NewManager(clock util.Clock, log *zap.SugaredLogger) *Manager {
	return &Manager{clock: clock, log: log, state: StateIdle}
}

// SetExpiryHandler registers the observer fired exactly once when the
// active session crosses its deadline. Used to auto-disable tap mode.
func (m *Manager) SetExpiryHandler(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

// Create generates a fresh ephemeral keypair and asks the primary wallet
// to authorize it until now+duration. The session is returned only after
// local recovery confirms the signer is the trader. Any previous session
// is superseded first.
func (m *Manager) Create(ctx context.Context, walletSigner wallet.Signer, duration time.Duration) (*SessionKey, error) {
	// Supersede before prompting so a failed setup never leaves a stale
	// key active.
	m.Clear()

	ephemeral, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}

	expiresAt := m.clock.Now().Add(duration)
	hash := AuthMessageHash(ephemeral.Address(), expiresAt.Unix())

	sig, err := walletSigner.PersonalSign(ctx, hash)
	if err != nil {
		ephemeral.Zero()
		if errors.Is(err, wallet.ErrUserRejected) {
			return nil, ErrAuthorizationDenied
		}
		return nil, fmt.Errorf("wallet authorization: %w", err)
	}

	key := &SessionKey{
		Address:       ephemeral.Address(),
		ExpiresAt:     expiresAt.UnixMilli(),
		AuthorizedBy:  walletSigner.Address(),
		AuthSignature: sig,
	}

	if !VerifyAuthSignature(key, walletSigner.Address()) {
		ephemeral.Zero()
		return nil, ErrSignatureMismatch
	}

	m.mu.Lock()
	m.state = StateActive
	m.key = key
	m.signer = ephemeral
	m.watchGen++
	gen := m.watchGen
	m.mu.Unlock()

	go m.watchExpiry(gen, expiresAt)

	m.log.Infow("session_key_created",
		"session", key.Address.Hex(),
		"trader", key.AuthorizedBy.Hex(),
		"expires_at", expiresAt.UnixMilli(),
	)
	return key, nil
}

func (m *Manager) watchExpiry(gen uint64, deadline time.Time) {
	<-m.clock.After(deadline.Sub(m.clock.Now()))

	m.mu.Lock()
	if m.watchGen != gen || m.state != StateActive {
		m.mu.Unlock()
		return
	}
	m.state = StateExpired
	m.wipeLocked()
	fn := m.onExpire
	m.mu.Unlock()

	m.log.Infow("session_key_expired")
	if fn != nil {
		fn()
	}
}

// Valid reports whether an active, unexpired session key is held.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validLocked()
}

func (m *Manager) validLocked() bool {
	return m.state == StateActive && m.key != nil &&
		m.clock.Now().UnixMilli() < m.key.ExpiresAt
}

// SignWithSession signs a 32-byte digest with the session key, prompt
// free, applying the same personal_sign prefix a wallet would. The
// signing address is returned alongside the signature: it is captured
// under the same lock, so it stays accurate even if the session is
// cleared or expires right after the call. Fails fast with
// ErrSessionInvalid if the session is absent or expired; the caller
// decides whether to fall back to the primary wallet.
func (m *Manager) SignWithSession(hash []byte) ([]byte, common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.validLocked() {
		return nil, common.Address{}, ErrSessionInvalid
	}
	sig, err := m.signer.Sign(crypto.PersonalSignHash(hash))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("session sign: %w", err)
	}
	return sig, m.key.Address, nil
}

// Key returns a copy of the active session key (no private material),
// or nil when no session is active.
func (m *Manager) Key() *SessionKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		return nil
	}
	cp := *m.key
	return &cp
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Clear discards the session key material. Idempotent; safe to call on
// an already-cleared manager.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateActive {
		m.state = StateDisabled
		m.log.Infow("session_key_cleared")
	}
	m.watchGen++ // cancel any pending expiry watcher
	m.wipeLocked()
}

func (m *Manager) wipeLocked() {
	if m.signer != nil {
		m.signer.Zero()
		m.signer = nil
	}
	m.key = nil
}
