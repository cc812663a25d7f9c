// Package arbitrage detects cross-source price spreads in a batch of quotes
// and ranks them by profitability.
package arbitrage

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Config configures the analyzer.
type Config struct {
	ThresholdPercent float64 // inclusive lower bound on ProfitPercent
	MaxPositionSize  float64 // USD cap on the notional of a single opportunity
	Now              func() time.Time
}

// Analyzer evaluates every ordered pair of quotes per symbol. It holds no
// state between calls and is safe for concurrent use.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an Analyzer. A nil Now defaults to time.Now.
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Analyzer{cfg: cfg}
}

// Threshold returns the configured minimum profit percent.
func (a *Analyzer) Threshold() float64 { return a.cfg.ThresholdPercent }

// Analyze returns every directed opportunity that meets the threshold,
// sorted by ProfitPercent descending. Ties keep generation order: symbols in
// first-seen order, then pair (i, j) before (j, i) for i < j.
func (a *Analyzer) Analyze(quotes []domain.Quote) []domain.Opportunity {
	now := a.cfg.Now()

	var (
		order  []string
		groups = make(map[string][]domain.Quote)
	)
	for _, q := range quotes {
		if _, ok := groups[q.Symbol]; !ok {
			order = append(order, q.Symbol)
		}
		groups[q.Symbol] = append(groups[q.Symbol], q)
	}

	var out []domain.Opportunity
	for _, symbol := range order {
		group := groups[symbol]
		if len(group) < 2 {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if opp, ok := a.evaluate(group[i], group[j], now); ok {
					out = append(out, opp)
				}
				if opp, ok := a.evaluate(group[j], group[i], now); ok {
					out = append(out, opp)
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ProfitPercent > out[j].ProfitPercent
	})
	return out
}

// evaluate prices the direction "buy on buy.Source at its ask, sell on
// sell.Source at its bid".
func (a *Analyzer) evaluate(buy, sell domain.Quote, now time.Time) (domain.Opportunity, bool) {
	if buy.Source == sell.Source {
		return domain.Opportunity{}, false
	}
	if !buy.Buyable() || !sell.Sellable() {
		return domain.Opportunity{}, false
	}
	buyPrice, sellPrice := buy.Ask, sell.Bid

	pct := (sellPrice - buyPrice) / buyPrice * 100
	if pct < a.cfg.ThresholdPercent {
		return domain.Opportunity{}, false
	}

	position := PositionSize(a.cfg.MaxPositionSize, buy.Volume, buyPrice)

	return domain.Opportunity{
		ID:            uuid.Must(uuid.NewRandom()).String(),
		Symbol:        buy.Symbol,
		BuySource:     buy.Source,
		SellSource:    sell.Source,
		BuyPrice:      buyPrice,
		SellPrice:     sellPrice,
		ProfitPercent: pct,
		ProfitUSD:     position * pct / 100,
		Volume:        position / buyPrice,
		DetectedAt:    now,
	}, true
}

// PositionSize caps the notional at maxPosition and at the buy venue's
// reported base volume valued at buyPrice.
func PositionSize(maxPosition, buyVolume, buyPrice float64) float64 {
	return math.Min(maxPosition, buyVolume*buyPrice)
}
