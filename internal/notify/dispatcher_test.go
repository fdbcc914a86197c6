package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/tradebot/internal/chat"
	"github.com/aristath/tradebot/internal/database"
	"github.com/aristath/tradebot/internal/domain"
	"github.com/aristath/tradebot/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.New(database.Config{Path: ":memory:", Profile: database.ProfileLedger, Name: "ledger"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return store.New(db, zerolog.Nop())
}

func intPtr(v int) *int { return &v }

func TestInQuietHours_NoWindowConfiguredNeverSuppresses(t *testing.T) {
	user := domain.User{}
	assert.False(t, inQuietHours(user, time.Now()))
}

func TestInQuietHours_NonWrappingWindow(t *testing.T) {
	user := domain.User{QuietHoursStartUTC: intPtr(22), QuietHoursEndUTC: intPtr(23)}
	inside := time.Date(2024, 1, 1, 22, 30, 0, 0, time.UTC)
	outside := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, inQuietHours(user, inside))
	assert.False(t, inQuietHours(user, outside))
}

func TestInQuietHours_WrappingMidnightWindow(t *testing.T) {
	user := domain.User{QuietHoursStartUTC: intPtr(22), QuietHoursEndUTC: intPtr(6)}
	lateNight := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	earlyMorning := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	midday := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, inQuietHours(user, lateNight))
	assert.True(t, inQuietHours(user, earlyMorning))
	assert.False(t, inQuietHours(user, midday))
}

func TestInQuietHours_EqualStartAndEndNeverSuppresses(t *testing.T) {
	user := domain.User{QuietHoursStartUTC: intPtr(9), QuietHoursEndUTC: intPtr(9)}
	assert.False(t, inQuietHours(user, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)))
}

func TestDispatcher_SendConfirmation_SuppressedDuringQuietHours(t *testing.T) {
	client := chat.NewMemoryClient()
	d := New(client, newTestStore(t), zerolog.Nop())

	now := time.Now().UTC()
	start := now.Hour()
	end := (start + 1) % 24
	user := domain.User{UserID: "user-1", QuietHoursStartUTC: intPtr(start), QuietHoursEndUTC: intPtr(end)}

	err := d.SendConfirmation(context.Background(), user, domain.Trade{TradeID: "t1", Side: domain.SideBuy, Quantity: 10, Symbol: "AAPL", Status: domain.TradeFilled})
	require.NoError(t, err)
	assert.Empty(t, client.Messages, "confirmations must be suppressed during quiet hours")
}

func TestDispatcher_SendAlert_NotSuppressedDuringQuietHours(t *testing.T) {
	client := chat.NewMemoryClient()
	d := New(client, newTestStore(t), zerolog.Nop())

	now := time.Now().UTC()
	start := now.Hour()
	end := (start + 1) % 24
	owner := domain.User{UserID: "user-1", QuietHoursStartUTC: intPtr(start), QuietHoursEndUTC: intPtr(end)}

	err := d.SendAlert(context.Background(), owner, domain.RiskAlertConfig{Name: "big loss"}, domain.Trade{TradeID: "t1", Side: domain.SideBuy, Quantity: 10, Symbol: "AAPL"}, map[string]string{})
	require.NoError(t, err)
	assert.Len(t, client.Messages, 1, "alerts are critical and must never be suppressed by quiet hours")
}

func TestDispatcher_SendSummary_DeliversDigest(t *testing.T) {
	client := chat.NewMemoryClient()
	d := New(client, newTestStore(t), zerolog.Nop())

	owner := domain.User{UserID: "user-1"}
	err := d.SendSummary(context.Background(), owner, domain.RiskAlertConfig{Name: "scan"}, []string{"t1", "t2"})
	require.NoError(t, err)
	require.Len(t, client.Messages, 1)
}

func TestDispatcher_UpdateModal_DelegatesToClient(t *testing.T) {
	client := chat.NewMemoryClient()
	d := New(client, newTestStore(t), zerolog.Nop())

	viewID, err := client.OpenView(context.Background(), "trigger-1", chat.View{"step": 1})
	require.NoError(t, err)

	require.NoError(t, d.UpdateModal(context.Background(), viewID, chat.View{"step": 2}))
	assert.Equal(t, chat.View{"step": 2}, client.Views[viewID])
}

func TestDispatcher_Send_RateLimitExhaustionCoalescesInsteadOfDelivering(t *testing.T) {
	client := chat.NewMemoryClient()
	d := New(client, newTestStore(t), zerolog.Nop())
	user := domain.User{UserID: "user-1"}

	for i := 0; i < maxPerMinute; i++ {
		require.NoError(t, d.send(context.Background(), user, chat.Message{Text: "x"}, critical(false)))
	}
	require.Len(t, client.Messages, maxPerMinute)

	require.NoError(t, d.send(context.Background(), user, chat.Message{Text: "overflow"}, critical(false)))
	assert.Len(t, client.Messages, maxPerMinute, "the burst-exceeding send must be coalesced, not delivered")

	d.mu.Lock()
	digest, ok := d.digests[user.UserID]
	d.mu.Unlock()
	require.True(t, ok)
	digest.mu.Lock()
	assert.Equal(t, 1, digest.count)
	digest.mu.Unlock()
}

func TestDispatcher_DeliverWithRetry_SucceedsOnFirstAttempt(t *testing.T) {
	client := chat.NewMemoryClient()
	d := New(client, newTestStore(t), zerolog.Nop())
	user := domain.User{UserID: "user-1"}

	err := d.deliverWithRetry(context.Background(), user, chat.Message{Text: "hi"})
	require.NoError(t, err)
	require.Len(t, client.Messages, 1)
}

func TestDispatcher_DeliverWithRetry_ContextCancellationAbortsWait(t *testing.T) {
	client := &failingClient{err: errors.New("down")}
	d := New(client, newTestStore(t), zerolog.Nop())
	user := domain.User{UserID: "user-1"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := d.deliverWithRetry(ctx, user, chat.Message{Text: "hi"})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, elapsed, 500*time.Millisecond, "a cancelled context must abort the retry wait immediately")
}

func TestDispatcher_DeliverWithRetry_ExhaustionAuditsFailure(t *testing.T) {
	original := retryDelays
	retryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { retryDelays = original }()

	client := &failingClient{err: errors.New("always down")}
	st := newTestStore(t)
	require.NoError(t, st.Users.Create(context.Background(), domain.User{
		UserID: "user-1", ChatID: "chat-1", DisplayName: "Test", Role: domain.RoleTrader,
		Status: domain.UserActive, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	d := New(client, st, zerolog.Nop())
	user := domain.User{UserID: "user-1"}

	err := d.deliverWithRetry(context.Background(), user, chat.Message{Text: "hi"})
	require.Error(t, err)

	entries, err := st.Audit.ListByCorrelationID(context.Background(), "")
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Action == domain.AuditNotificationFailed && e.SubjectID == "user-1" {
			found = true
		}
	}
	assert.True(t, found, "exhausted retries must audit the failure")
}

type failingClient struct {
	err error
}

func (f *failingClient) OpenView(ctx context.Context, triggerID string, view chat.View) (string, error) {
	return "", f.err
}
func (f *failingClient) UpdateView(ctx context.Context, viewID string, view chat.View) error {
	return f.err
}
func (f *failingClient) PostMessage(ctx context.Context, userID string, msg chat.Message) error {
	return f.err
}
func (f *failingClient) PostEphemeral(ctx context.Context, userID, channelID string, msg chat.Message) error {
	return f.err
}
