package detector

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/model"
	"arbiter/internal/orderbook"
	"arbiter/internal/registry"
)

// TriangularConfig holds the tunable thresholds for cycle detection.
type TriangularConfig struct {
	TickTTL            time.Duration
	ThrottlePerPath     time.Duration
	MaxSlippagePerTrade float64
	MaxSlippage         float64
	TakerFeePercent     float64
	OpportunityTTL      time.Duration
	MinConfidence       float64
}

// DefaultTriangularConfig returns sane defaults for cycle detection.
func DefaultTriangularConfig() TriangularConfig {
	return TriangularConfig{
		TickTTL:             2 * time.Second,
		ThrottlePerPath:     100 * time.Millisecond,
		MaxSlippagePerTrade: 0.5,
		MaxSlippage:         1.0,
		TakerFeePercent:     0.10,
		OpportunityTTL:      30 * time.Second,
		MinConfidence:       60,
	}
}

// TriangularDetector simulates a fixed set of three-leg conversion
// cycles on each relevant tick.
type TriangularDetector struct {
	cfg    TriangularConfig
	prices *registry.PriceRegistry
	books  *orderbook.BookRegistry
	paths  []model.TriangularPath

	mu            sync.Mutex
	opportunities map[string]model.TriangularOpportunity
	lastCheck     map[string]time.Time
	idSeq         int64
}

// NewTriangularDetector builds a detector over a fixed path set.
func NewTriangularDetector(cfg TriangularConfig, prices *registry.PriceRegistry, books *orderbook.BookRegistry, paths []model.TriangularPath) *TriangularDetector {
	return &TriangularDetector{
		cfg:           cfg,
		prices:        prices,
		books:         books,
		paths:         paths,
		opportunities: make(map[string]model.TriangularOpportunity),
		lastCheck:     make(map[string]time.Time),
	}
}

// OnTick re-evaluates every path that has a leg on (tick.Venue, tick.Symbol).
func (d *TriangularDetector) OnTick(tick model.PriceTick, now time.Time) []model.TriangularOpportunity {
	var found []model.TriangularOpportunity
	for _, path := range d.paths {
		if path.Venue != tick.Venue {
			continue
		}
		touches := false
		for _, s := range path.Symbols {
			if s == tick.Symbol {
				touches = true
				break
			}
		}
		if !touches {
			continue
		}

		pathKey := pathKey(path)
		d.mu.Lock()
		last, throttled := d.lastCheck[pathKey]
		if throttled && now.Sub(last) < d.cfg.ThrottlePerPath {
			d.mu.Unlock()
			continue
		}
		d.lastCheck[pathKey] = now
		d.mu.Unlock()

		if opp, ok := d.evaluatePath(path, now); ok {
			found = append(found, opp)
		}
	}
	return found
}

func pathKey(path model.TriangularPath) string {
	key := path.Venue
	for i := 0; i < 3; i++ {
		key += "|" + string(path.Symbols[i]) + ":" + string(path.Directions[i])
	}
	return key
}

// evaluatePath runs the conversion simulation for one three-leg cycle.
func (d *TriangularDetector) evaluatePath(path model.TriangularPath, now time.Time) (model.TriangularOpportunity, bool) {
	var ticks [3]model.PriceTick
	for i, sym := range path.Symbols {
		t, ok := d.prices.Fresh(path.Venue, sym, now, d.cfg.TickTTL)
		if !ok {
			return model.TriangularOpportunity{}, false
		}
		ticks[i] = t
	}

	amount := path.MinAmount
	startAmount := amount

	var effectivePrices [3]decimal.Decimal
	var rawPrices [3]decimal.Decimal
	var perLegSlippage [3]float64
	var perLegFees [3]decimal.Decimal
	var totalAgeMs float64
	var totalSlippage float64
	var bookPenalty float64

	for i := 0; i < 3; i++ {
		sym := path.Symbols[i]
		dir := path.Directions[i]
		tick := ticks[i]
		totalAgeMs += float64(tick.Age(now).Milliseconds())

		side := model.SideAsk
		if dir == model.LegSell {
			side = model.SideBid
		}

		effective, slippagePercent, hasBook := d.legPrice(path.Venue, sym, side, tick, amount, now)
		rawPrices[i] = tick.Ask
		if dir == model.LegSell {
			rawPrices[i] = tick.Bid
		}
		effectivePrices[i] = effective
		perLegSlippage[i] = slippagePercent
		totalSlippage += slippagePercent
		if slippagePercent > d.cfg.MaxSlippagePerTrade {
			return model.TriangularOpportunity{}, false
		}
		if !hasBook {
			bookPenalty += 5
		} else {
			bookPenalty += math.Min(10, slippagePercent*100)
		}

		fee := decimal.NewFromFloat(d.cfg.TakerFeePercent / 100)
		if dir == model.LegBuy {
			converted := amount.Div(effective)
			perLegFees[i] = converted.Mul(fee)
			amount = converted.Sub(perLegFees[i])
		} else {
			converted := amount.Mul(effective)
			perLegFees[i] = converted.Mul(fee)
			amount = converted.Sub(perLegFees[i])
		}
	}

	endAmount := amount
	profit := endAmount.Sub(startAmount)
	if !profit.IsPositive() {
		return model.TriangularOpportunity{}, false
	}
	if totalSlippage > d.cfg.MaxSlippage {
		return model.TriangularOpportunity{}, false
	}

	profitPercent, _ := profit.Div(startAmount).Mul(decimal.NewFromInt(100)).Float64()

	confidence := 100.0
	confidence -= math.Min(20, (totalAgeMs/3)/100)
	confidence -= (totalSlippage / d.cfg.MaxSlippage) * 30
	confidence += math.Min(20, profitPercent*4)
	confidence -= math.Min(20, bookPenalty)
	confidence = math.Max(0, math.Min(100, confidence))

	if confidence < d.cfg.MinConfidence {
		return model.TriangularOpportunity{}, false
	}

	opp := model.TriangularOpportunity{
		Venue:             path.Venue,
		Path:              path.Symbols,
		Directions:        path.Directions,
		Prices:            rawPrices,
		EffectivePrices:   effectivePrices,
		PerLegSlippage:    perLegSlippage,
		StartAmount:       startAmount,
		EndAmount:         endAmount,
		PerLegFees:        perLegFees,
		Confidence:        confidence,
		ExecutionTimeHint: 3 * time.Second,
		CreatedAt:         now,
		Valid:             true,
	}
	return d.register(opp, now)
}

// legPrice computes the effective price for one leg: depth-walked from
// the book when available, otherwise ask/bid with a last-price fallback.
func (d *TriangularDetector) legPrice(venue string, symbol model.Symbol, side model.Side, tick model.PriceTick, amount decimal.Decimal, now time.Time) (decimal.Decimal, float64, bool) {
	if book, ok := d.books.FreshDefault(venue, symbol, now); ok {
		baseAmount := amount
		if side == model.SideAsk && !tick.Ask.IsZero() {
			// buying: amount is the quote currency being spent, so
			// convert it to a base quantity at the top ask. Selling:
			// amount is already in base currency units.
			baseAmount = amount.Div(tick.Ask)
		}
		result := book.WalkDepth(side, baseAmount)
		if result.Feasible {
			top := tick.Ask
			if side == model.SideBid {
				top = tick.Bid
			}
			slippagePercent := 0.0
			if !top.IsZero() {
				diff := result.EffectivePrice.Sub(top)
				if side == model.SideBid {
					diff = top.Sub(result.EffectivePrice)
				}
				slippagePercent, _ = diff.Abs().Div(top).Mul(decimal.NewFromInt(100)).Float64()
			}
			return result.EffectivePrice, slippagePercent, true
		}
	}

	if side == model.SideAsk {
		if !tick.Ask.IsZero() {
			return tick.Ask, 0, false
		}
		return tick.Last.Mul(decimal.NewFromFloat(1.0005)), 0.05, false
	}
	if !tick.Bid.IsZero() {
		return tick.Bid, 0, false
	}
	return tick.Last.Mul(decimal.NewFromFloat(0.9995)), 0.05, false
}

// register applies the dedup and GC rules: keep the higher-profit
// record for identical (venue, path, directions).
func (d *TriangularDetector) register(opp model.TriangularOpportunity, now time.Time) (model.TriangularOpportunity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, existing := range d.opportunities {
		if existing.Expired(now, d.cfg.OpportunityTTL) {
			delete(d.opportunities, k)
		}
	}

	key := opp.Key()
	if existing, ok := d.opportunities[key]; ok {
		existingProfit := existing.EndAmount.Sub(existing.StartAmount)
		newProfit := opp.EndAmount.Sub(opp.StartAmount)
		if existingProfit.GreaterThanOrEqual(newProfit) {
			return model.TriangularOpportunity{}, false
		}
	}

	d.idSeq++
	opp.ID = "tri-" + decimal.NewFromInt(d.idSeq).String()
	d.opportunities[key] = opp
	return opp, true
}

// Snapshot returns every currently registered opportunity.
func (d *TriangularDetector) Snapshot() []model.TriangularOpportunity {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.TriangularOpportunity, 0, len(d.opportunities))
	for _, o := range d.opportunities {
		out = append(out, o)
	}
	return out
}
