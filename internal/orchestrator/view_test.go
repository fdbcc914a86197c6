package orchestrator

import (
	"strings"
	"testing"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceholderView_IsAModalWithLoadingText(t *testing.T) {
	view := placeholderView("AAPL")
	assert.Equal(t, "modal", view["type"])
	assert.NotContains(t, view, "submit", "no input blocks yet, so no submit definition is needed")
}

func TestRenderView_CarriesSubmitButtonAlongsideInputBlocks(t *testing.T) {
	s := &session{Symbol: "AAPL", OrderType: domain.OrderMarket}
	view := renderView(s)
	require.Contains(t, view, "submit")
	assert.Equal(t, "Submit", view["submit"].(map[string]any)["text"])
}

func TestRenderView_SymbolErrorIsSurfacedAsASection(t *testing.T) {
	s := &session{Symbol: "", SymbolError: "symbol not recognized", OrderType: domain.OrderMarket}
	view := renderView(s)
	found := false
	for _, b := range view["blocks"].([]map[string]any) {
		if text, ok := b["text"].(map[string]any); ok {
			if txt, _ := text["text"].(string); txt == "symbol not recognized" {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestRenderView_OmitsPriceSectionWhenEntryPriceIsZero(t *testing.T) {
	s := &session{Symbol: "AAPL", OrderType: domain.OrderMarket}
	view := renderView(s)
	blocksList := view["blocks"].([]map[string]any)
	for _, b := range blocksList {
		if text, ok := b["text"].(map[string]any); ok {
			assert.NotContains(t, text["text"], "Current price")
		}
	}
}

func TestRenderView_IncludesPriceSectionWhenEntryPriceSet(t *testing.T) {
	s := &session{Symbol: "AAPL", EntryPrice: decimal.NewFromInt(150), OrderType: domain.OrderMarket}
	view := renderView(s)
	found := false
	for _, b := range view["blocks"].([]map[string]any) {
		if text, ok := b["text"].(map[string]any); ok {
			if txt, _ := text["text"].(string); strings.Contains(txt, "Current price") {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestRenderView_LimitOrderWithoutPriceShowsRequiredWarning(t *testing.T) {
	s := &session{Symbol: "AAPL", OrderType: domain.OrderLimit, EntryPrice: decimal.NewFromInt(150)}
	view := renderView(s)
	blocksList := view["blocks"].([]map[string]any)
	sawWarning := false
	for _, b := range blocksList {
		if text, ok := b["text"].(map[string]any); ok {
			if txt, _ := text["text"].(string); txt == "Limit price is required for this order type." {
				sawWarning = true
			}
		}
	}
	assert.True(t, sawWarning)
}

func TestRenderView_HighRiskAnalysisAddsConfirmationPrompt(t *testing.T) {
	s := &session{
		Symbol:       "AAPL",
		OrderType:    domain.OrderMarket,
		EntryPrice:   decimal.NewFromInt(150),
		RiskAnalysis: &domain.RiskAnalysis{Score: 9, Narrative: "volatile"},
	}
	view := renderView(s)
	sawPrompt := false
	for _, b := range view["blocks"].([]map[string]any) {
		if text, ok := b["text"].(map[string]any); ok {
			if txt, _ := text["text"].(string); strings.Contains(txt, `type "AAPL" to confirm`) {
				sawPrompt = true
			}
		}
	}
	assert.True(t, sawPrompt)
}

func TestRenderView_PrivateMetadataCarriesEntryPriceAndCorrelationID(t *testing.T) {
	s := &session{Symbol: "AAPL", EntryPrice: decimal.NewFromInt(150), CorrelationID: "corr-1", OrderType: domain.OrderMarket}
	view := renderView(s)
	meta, ok := view["private_metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "corr-1", meta["correlation_id"])
	assert.Equal(t, "150", meta["entry_price"])
}
