package orchestrator

import "github.com/aristath/tradebot/internal/domain"

// ActionID is a closed set of every block action id the orchestrator
// understands (§9 "dynamic routing by string action ids" redesign:
// enumerate at compile time, reject unknowns with a typed error instead
// of a regex fallback).
type ActionID string

const (
	ActionSymbolInput    ActionID = "symbol_input"
	ActionQuantityInput  ActionID = "quantity_input"
	ActionNotionalInput  ActionID = "notional_input"
	ActionOrderTypeSelect ActionID = "order_type_select"
	ActionLimitPriceInput ActionID = "limit_price_input"
	ActionAnalyzeRisk    ActionID = "analyze_risk"
	ActionSubmit         ActionID = "submit_trade"
	ActionUnknown        ActionID = "unknown"
)

func parseActionID(raw string) ActionID {
	switch ActionID(raw) {
	case ActionSymbolInput, ActionQuantityInput, ActionNotionalInput,
		ActionOrderTypeSelect, ActionLimitPriceInput, ActionAnalyzeRisk, ActionSubmit:
		return ActionID(raw)
	default:
		return ActionUnknown
	}
}

// UnknownActionError is returned when a block action id falls outside the
// closed set above.
type UnknownActionError struct {
	Raw string
}

func (e *UnknownActionError) Error() string {
	return "unknown action id: " + e.Raw
}

// allowedCommands is the closed set of slash commands the orchestrator
// opens a modal for (§4.1's Idle→Opened guard).
var allowedCommands = map[string]domain.Side{
	"/buy":  domain.SideBuy,
	"/sell": domain.SideSell,
}
