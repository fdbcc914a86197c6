// Package orchestrator implements the Interaction Orchestrator (§4.1): a
// per-modal finite state machine driving the chat-native trade workflow,
// with strict ack deadlines satisfied by detaching all non-trivial work
// to background workers keyed by view id (§5, §9).
package orchestrator

import (
	"context"
	"time"

	"github.com/aristath/tradebot/internal/aiservice"
	"github.com/aristath/tradebot/internal/chat"
	"github.com/aristath/tradebot/internal/domain"
	"github.com/aristath/tradebot/internal/events"
	"github.com/aristath/tradebot/internal/execution"
	"github.com/aristath/tradebot/internal/marketdata"
	"github.com/aristath/tradebot/internal/notify"
	"github.com/aristath/tradebot/internal/risk"
	"github.com/aristath/tradebot/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config.ApprovedChannels gates which chat channels a slash command may open a
// modal from (§4.1's Idle guard); empty means no restriction.
type Config struct {
	ApprovedChannels map[string]struct{}
}

// Orchestrator wires the chat transport to every downstream component.
type Orchestrator struct {
	chat     chat.Client
	quotes   *marketdata.Gateway
	ai       aiservice.Client
	router   *execution.Router
	risk     *risk.Engine
	notify   *notify.Dispatcher
	store    *store.Store
	events   *events.Manager
	cfg      Config
	log      zerolog.Logger
	sessions *sessionStore
}

func New(client chat.Client, quotes *marketdata.Gateway, ai aiservice.Client, router *execution.Router,
	riskEngine *risk.Engine, dispatcher *notify.Dispatcher, st *store.Store, evt *events.Manager, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		chat:     client,
		quotes:   quotes,
		ai:       ai,
		router:   router,
		risk:     riskEngine,
		notify:   dispatcher,
		store:    st,
		events:   evt,
		cfg:      cfg,
		log:      log.With().Str("component", "orchestrator").Logger(),
		sessions: newSessionStore(),
	}
}

// ackDeadline is the chat platform's hard deadline for acknowledging a
// slash command or modal interaction (§5).
const ackDeadline = 3 * time.Second

// HandleSlashCommand is the Idle→Opened transition (§4.1 table row 1): it
// must open the modal (with a placeholder) and return well within
// ackDeadline, then hand the session to the detached detachedOpen.
func (o *Orchestrator) HandleSlashCommand(ctx context.Context, command string, ev chat.Event, user domain.User) error {
	side, ok := allowedCommands[command]
	if !ok {
		return &domain.ValidationError{Field: "command", Reason: "command not recognized"}
	}
	if user.Status != domain.UserActive {
		return &domain.PolicyError{Reason: "user is not active"}
	}
	if len(o.cfg.ApprovedChannels) > 0 {
		if _, approved := o.cfg.ApprovedChannels[ev.ChannelID]; !approved {
			return &domain.PolicyError{Reason: "channel is not approved for trading commands"}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, ackDeadline)
	defer cancel()

	viewID, err := o.chat.OpenView(ctx, ev.TriggerID, placeholderView(""))
	if err != nil {
		return err
	}

	sess := o.sessions.create(viewID, user.UserID)
	sess.Side = side
	sess.CorrelationID = uuid.NewString()
	sess.OrderType = domain.OrderMarket
	sess.Quantity = 1

	go o.detachedOpen(context.Background(), sess)
	return nil
}

// detachedOpen marks the session Opened. It fetches no quote and does not
// update the modal; the first quote is fetched by detachedSymbolInput once
// a symbol arrives.
func (o *Orchestrator) detachedOpen(ctx context.Context, sess *session) {
	sess.mu.Lock()
	sess.State = StateOpened
	sess.mu.Unlock()
	// Symbol arrives via a subsequent block action once the user types it;
	// nothing to quote yet at modal-open time.
}

// HandleBlockAction routes a block_actions interaction through the closed
// action-id set (§9 redesign), applying the bidirectional field
// derivation contract (§4.1) where it applies.
func (o *Orchestrator) HandleBlockAction(ctx context.Context, ev chat.Event) error {
	sess, ok := o.sessions.get(ev.ViewID)
	if !ok {
		return &domain.NotFoundError{Kind: "session", ID: ev.ViewID}
	}

	action := parseActionID(ev.ActionID)
	switch action {
	case ActionSymbolInput:
		go o.detachedSymbolInput(context.Background(), sess, ev.Values[string(ActionSymbolInput)])
		return nil
	case ActionQuantityInput:
		return o.handleQuantityInput(ctx, sess, ev.Values[string(ActionQuantityInput)])
	case ActionNotionalInput:
		return o.handleNotionalInput(ctx, sess, ev.Values[string(ActionNotionalInput)])
	case ActionOrderTypeSelect:
		return o.handleOrderTypeSelect(ctx, sess, ev.Values[string(ActionOrderTypeSelect)])
	case ActionLimitPriceInput:
		return o.handleLimitPriceInput(ctx, sess, ev.Values[string(ActionLimitPriceInput)])
	case ActionAnalyzeRisk:
		go o.detachedAnalyzeRisk(context.Background(), sess)
		return nil
	case ActionSubmit:
		return o.handleSubmit(ctx, sess)
	default:
		return &UnknownActionError{Raw: ev.ActionID}
	}
}
