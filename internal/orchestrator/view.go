package orchestrator

import (
	"fmt"

	"github.com/aristath/tradebot/internal/chat"
	"github.com/aristath/tradebot/internal/chat/blocks"
)

// renderView builds the full modal payload from a session's current
// state. The entry_price is embedded in private_metadata so it survives
// a partial re-render (§4.1 point 4) instead of being re-parsed from the
// rendered currency string.
func renderView(s *session) chat.View {
	var viewBlocks []map[string]any

	if s.SymbolError != "" {
		viewBlocks = append(viewBlocks, blocks.Section(blocks.Text(s.SymbolError, false), nil))
	}

	viewBlocks = append(viewBlocks, blocks.Input("symbol_block", "Symbol", string(ActionSymbolInput),
		blocks.PlainTextInput(string(ActionSymbolInput), s.Symbol, false)))

	if !s.EntryPrice.IsZero() {
		viewBlocks = append(viewBlocks, blocks.Section(
			blocks.Text(fmt.Sprintf("Current price: $%s", s.EntryPrice.StringFixed(4)), false), nil))
	}

	viewBlocks = append(viewBlocks,
		blocks.Input("quantity_block", "Quantity", string(ActionQuantityInput),
			blocks.PlainTextInput(string(ActionQuantityInput), fmt.Sprintf("%d", s.Quantity), false)),
		blocks.Input("notional_block", "Notional ($)", string(ActionNotionalInput),
			blocks.PlainTextInput(string(ActionNotionalInput), s.Notional.StringFixed(2), false)),
	)

	if s.OrderType == "limit" || s.OrderType == "stop_limit" {
		limitText := ""
		if s.LimitPrice != nil {
			limitText = s.LimitPrice.StringFixed(4)
		} else {
			viewBlocks = append(viewBlocks, blocks.Section(blocks.Text("Limit price is required for this order type.", false), nil))
		}
		viewBlocks = append(viewBlocks, blocks.Input("limit_price_block", "Limit price", string(ActionLimitPriceInput),
			blocks.PlainTextInput(string(ActionLimitPriceInput), limitText, false)))
	}

	if s.RiskAnalysis != nil {
		riskText := fmt.Sprintf("Risk score: %d/10\n%s", s.RiskAnalysis.Score, s.RiskAnalysis.Narrative)
		if s.RiskAnalysis.HighRisk() {
			riskText += fmt.Sprintf("\n⚠️ High risk — type %q to confirm.", s.Symbol)
		}
		viewBlocks = append(viewBlocks, blocks.Section(blocks.Text(riskText, true), nil))
	}

	submitDisabled := s.Quantity < 1 || s.EntryPrice.IsZero()
	if (s.OrderType == "limit" || s.OrderType == "stop_limit") && s.LimitPrice == nil {
		submitDisabled = true
	}

	actionButtons := []map[string]any{
		blocks.Button("Analyze risk", string(ActionAnalyzeRisk), "", ""),
	}
	submitStyle := "primary"
	if submitDisabled {
		submitStyle = ""
	}
	actionButtons = append(actionButtons, blocks.Button("Submit", string(ActionSubmit), "", submitStyle))
	viewBlocks = append(viewBlocks, blocks.Actions(actionButtons...))

	view := chat.View{
		"type":   "modal",
		"blocks": viewBlocks,
		"private_metadata": map[string]any{
			"entry_price":        s.EntryPrice.String(),
			"entry_price_source": string(s.EntryPriceSource),
			"correlation_id":     s.CorrelationID,
		},
	}
	for _, b := range viewBlocks {
		if b["type"] == "input" {
			view["submit"] = blocks.Submit("Submit")
			break
		}
	}
	return view
}

// placeholderView is what's shown immediately on ack, before the detached
// worker's first quote arrives.
func placeholderView(symbol string) chat.View {
	return chat.View{
		"type": "modal",
		"blocks": []map[string]any{
			blocks.Section(blocks.Text(fmt.Sprintf("Loading quote for %s…", symbol), false), nil),
		},
	}
}
