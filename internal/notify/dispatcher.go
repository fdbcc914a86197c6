// Package notify implements the Notification Dispatcher (§4.6): chat
// delivery, per-user rate limiting (sends over the limit are counted, not
// delivered), quiet-hours suppression, and bounded retry.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/tradebot/internal/chat"
	"github.com/aristath/tradebot/internal/chat/blocks"
	"github.com/aristath/tradebot/internal/domain"
	"github.com/aristath/tradebot/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// retryDelays are the literal per-attempt delays from §4.6.
var retryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}

// maxPerMinute is the per-user notification rate from §4.6. Sends beyond
// it are not delivered; coalesce only counts them, and no digest message is
// sent.
const maxPerMinute = 30

// Dispatcher sends confirmations, alerts, and summaries to users via the
// chat platform.
type Dispatcher struct {
	chat  chat.Client
	store *store.Store
	log   zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	digests  map[string]*digestState
}

type digestState struct {
	mu      sync.Mutex
	count   int
	started time.Time
}

func New(client chat.Client, st *store.Store, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		chat:     client,
		store:    st,
		log:      log.With().Str("component", "notify").Logger(),
		limiters: make(map[string]*rate.Limiter),
		digests:  make(map[string]*digestState),
	}
}

func (d *Dispatcher) limiterFor(userID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(maxPerMinute)/60.0), maxPerMinute)
		d.limiters[userID] = lim
	}
	return lim
}

// SendConfirmation notifies a user their trade was submitted (§4.6).
// Confirmations are non-critical: suppressed during quiet hours.
func (d *Dispatcher) SendConfirmation(ctx context.Context, user domain.User, trade domain.Trade) error {
	msg := chat.Message{
		Text: fmt.Sprintf("Trade %s: %s %d %s submitted (%s)", trade.TradeID, trade.Side, trade.Quantity, trade.Symbol, trade.Status),
		Blocks: []map[string]any{
			blocks.Section(blocks.Text(fmt.Sprintf("*Trade confirmed*\n%s %d shares of %s — status: %s", trade.Side, trade.Quantity, trade.Symbol, trade.Status), true), nil),
		},
	}
	return d.send(ctx, user, msg, critical(false))
}

// SendAlert notifies a risk alert's owner that it fired against a trade
// (§4.6). Alerts are critical: never suppressed by quiet hours.
func (d *Dispatcher) SendAlert(ctx context.Context, owner domain.User, alert domain.RiskAlertConfig, trade domain.Trade, metrics map[string]string) error {
	text := fmt.Sprintf("*Alert %q triggered*\nTrade %s (%s %d %s): trade_size=%s loss_pct=%s vix=%s",
		alert.Name, trade.TradeID, trade.Side, trade.Quantity, trade.Symbol,
		metrics["trade_size"], metrics["loss_pct"], metrics["vix_level"])
	msg := chat.Message{
		Text:   text,
		Blocks: []map[string]any{blocks.Section(blocks.Text(text, true), nil)},
	}
	return d.send(ctx, owner, msg, critical(true))
}

// SendSummary sends a batch-scan digest listing up to the caller-provided
// matches (§4.3's 20-match cap is enforced by the risk engine, not here).
func (d *Dispatcher) SendSummary(ctx context.Context, owner domain.User, alert domain.RiskAlertConfig, matchTradeIDs []string) error {
	text := fmt.Sprintf("*Alert %q scan complete*: %d matching trades found.\n%v", alert.Name, len(matchTradeIDs), matchTradeIDs)
	msg := chat.Message{
		Text:   text,
		Blocks: []map[string]any{blocks.Section(blocks.Text(text, true), nil)},
	}
	return d.send(ctx, owner, msg, critical(true))
}

// UpdateModal pushes a new view payload to an already-open modal by its
// view id, per the detached-worker update pattern (§5). View ids never
// expire the way trigger ids do, so this may be called from a background
// task well after the original interaction.
func (d *Dispatcher) UpdateModal(ctx context.Context, viewID string, view chat.View) error {
	return d.chat.UpdateView(ctx, viewID, view)
}

type critical bool

// send applies quiet-hours suppression (non-critical only), rate limiting
// (a send over the limit is counted by coalesce and returns nil without
// delivery), and bounded retry.
func (d *Dispatcher) send(ctx context.Context, user domain.User, msg chat.Message, isCritical critical) error {
	if !bool(isCritical) && inQuietHours(user, time.Now()) {
		d.log.Debug().Str("user_id", user.UserID).Msg("notification suppressed by quiet hours")
		return nil
	}

	if !d.limiterFor(user.UserID).Allow() {
		d.coalesce(user.UserID)
		return nil
	}

	return d.deliverWithRetry(ctx, user, msg)
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, user domain.User, msg chat.Message) error {
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelays[attempt-1]):
			}
		}
		if err := d.chat.PostMessage(ctx, user.UserID, msg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	d.auditFailure(ctx, user, lastErr)
	return fmt.Errorf("notification delivery failed after %d attempts: %w", len(retryDelays)+1, lastErr)
}

func (d *Dispatcher) auditFailure(ctx context.Context, user domain.User, cause error) {
	entry := domain.AuditEntry{
		AuditID:     uuid.NewString(),
		Timestamp:   time.Now(),
		ActorUserID: &user.UserID,
		Action:      domain.AuditNotificationFailed,
		Severity:    domain.SeverityError,
		SubjectKind: "user",
		SubjectID:   user.UserID,
		After:       map[string]any{"error": cause.Error()},
	}
	if err := d.store.Audit.Insert(ctx, entry); err != nil {
		d.log.Error().Err(err).Msg("failed to audit notification delivery failure")
	}
}

// coalesce counts a send suppressed by the rate limit, per user, in a
// one-minute window. The count is never turned into a digest message; see
// DESIGN.md.
func (d *Dispatcher) coalesce(userID string) {
	d.mu.Lock()
	ds, ok := d.digests[userID]
	if !ok {
		ds = &digestState{started: time.Now()}
		d.digests[userID] = ds
	}
	d.mu.Unlock()

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if time.Since(ds.started) > time.Minute {
		ds.started = time.Now()
		ds.count = 0
	}
	ds.count++
}

// inQuietHours reports whether now (in UTC) falls in the user's
// configured suppression window. A window with start > end wraps
// midnight.
func inQuietHours(user domain.User, now time.Time) bool {
	if user.QuietHoursStartUTC == nil || user.QuietHoursEndUTC == nil {
		return false
	}
	hour := now.UTC().Hour()
	start, end := *user.QuietHoursStartUTC, *user.QuietHoursEndUTC
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
