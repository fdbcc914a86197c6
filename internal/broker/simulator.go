package broker

import (
	"context"
	"math/rand"

	"github.com/aristath/tradebot/internal/domain"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"
)

// Simulator is the local fallback fill engine (§4.2): a single synchronous
// call applies deterministic slippage and (for large orders) a partial
// fill, with no network I/O at all.
type Simulator struct {
	rng *rand.Rand
}

// NewSimulator builds a Simulator. src seeds the slippage distributions; a
// fixed source makes fills reproducible in tests.
func NewSimulator(src rand.Source) *Simulator {
	if src == nil {
		src = rand.NewSource(1)
	}
	return &Simulator{rng: rand.New(src)}
}

func (s *Simulator) Venue() domain.Venue { return domain.VenueSimulator }

// Account reports unlimited buying power; the simulator never rejects on funds.
func (s *Simulator) Account(ctx context.Context) (domain.BrokerAccount, error) {
	return domain.BrokerAccount{BuyingPower: decimal.NewFromInt(1 << 30), Status: "active"}, nil
}

func (s *Simulator) IsSymbolTradable(ctx context.Context, symbol string) (bool, error) {
	return true, nil
}

func (s *Simulator) IsMarketOpen(ctx context.Context, symbol string, orderType domain.OrderType) (bool, error) {
	return true, nil
}

// Fill computes the deterministic simulated fill for a trade (§4.2):
//
//	fill_price = entry_price * (1 + epsilon), epsilon ~ N(0, sigma^2)
//
// sigma = 0.0005 for quantity < 1000, 0.0015 otherwise. Sell orders get the
// sign of epsilon inverted, mirroring a bid/ask spread in the user's favor.
// Orders over 10,000 shares split into two fills within the same call, the
// first sized uniform(30%, 70%) of quantity.
func (s *Simulator) Fill(trade domain.Trade) (fillPrice decimal.Decimal, firstFillQty int, secondFillQty int) {
	sigma := 0.0005
	if trade.Quantity >= 1000 {
		sigma = 0.0015
	}

	slippage := distuv.Normal{Mu: 0, Sigma: sigma, Src: s.rng}
	epsilon := slippage.Rand()
	if trade.Side == domain.SideSell {
		epsilon = -epsilon
	}

	fillPrice = trade.EntryPrice.Mul(decimal.NewFromFloat(1 + epsilon)).Round(4)

	if trade.Quantity > 10_000 {
		split := distuv.Uniform{Min: 0.3, Max: 0.7, Src: s.rng}
		first := int(float64(trade.Quantity) * split.Rand())
		if first < 1 {
			first = 1
		}
		if first >= trade.Quantity {
			first = trade.Quantity - 1
		}
		return fillPrice, first, trade.Quantity - first
	}

	return fillPrice, trade.Quantity, 0
}
