package orchestrator

import (
	"sync"
	"time"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/shopspring/decimal"
)

// State is a modal's position in the per-view-id workflow FSM (§4.1).
type State string

const (
	StateIdle          State = "idle"
	StateOpened        State = "opened"
	StateQuoted        State = "quoted"
	StatePreparingRisk State = "preparing_risk"
	StateReadyToSubmit State = "ready_to_submit"
	StateSubmitting    State = "submitting"
	StateConfirmed     State = "confirmed"
	StateFailed        State = "failed"
)

// updatingField is the loop-prevention token from §4.1's bidirectional
// field derivation contract.
type updatingField string

const (
	fieldNone     updatingField = ""
	fieldQuantity updatingField = "quantity"
	fieldNotional updatingField = "notional"
)

// session is one modal instance's authoritative state, keyed by view id.
// entry_price is held here (not re-derived from the rendered block text)
// so it survives partial re-renders, per §4.1 point 4.
type session struct {
	mu sync.Mutex

	ViewID        string
	UserID        string
	CorrelationID string

	Symbol           string
	SymbolError      string // set by detachedSymbolInput when validation rejects the last-submitted symbol
	EntryPrice       decimal.Decimal
	EntryPriceSource domain.EntryPriceSource
	Quantity         int
	Notional         decimal.Decimal
	Side             domain.Side
	OrderType        domain.OrderType
	LimitPrice       *decimal.Decimal

	RiskAnalysis     *domain.RiskAnalysis
	RiskConfirmToken string // required typed confirmation when RiskAnalysis.HighRisk()

	State         State
	updating      updatingField
	CreatedAt     time.Time
	lastTradeID   string
}

// sessionStore holds every open modal's session, addressed by view id —
// the only handle a detached worker needs (§9 "message-passing via an
// owned handle to the view id").
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (s *sessionStore) create(viewID, userID string) *session {
	sess := &session{
		ViewID:    viewID,
		UserID:    userID,
		State:     StateOpened,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.sessions[viewID] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(viewID string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[viewID]
	return sess, ok
}

func (s *sessionStore) delete(viewID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, viewID)
}

// tryClaim sets updating_field to f if currently none or already f,
// returning false if another field's write is in flight (§4.1 point 2:
// drop the event, it was caused by our own write).
func (s *session) tryClaim(f updatingField) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updating != fieldNone && s.updating != f {
		return false
	}
	s.updating = f
	return true
}

// release clears updating_field after the modal update acknowledgement
// (§4.1 point 3).
func (s *session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updating = fieldNone
}
