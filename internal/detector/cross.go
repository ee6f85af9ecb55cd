// Package detector implements the cross-venue and triangular
// opportunity detectors.
package detector

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/exchange"
	"arbiter/internal/model"
	"arbiter/internal/orderbook"
	"arbiter/internal/registry"
)

// CrossVenueConfig holds the tunable thresholds for pairwise scanning.
type CrossVenueConfig struct {
	MinLiquidity       decimal.Decimal
	MaxInvestment      decimal.Decimal
	MaxSlippagePercent float64
	BookStaleness      time.Duration
	TickTTL            time.Duration
	OpportunityTTL     time.Duration
	MinConfidence      float64
	MinLiquidityScore  float64
}

// DefaultCrossVenueConfig returns sane defaults for pairwise scanning.
func DefaultCrossVenueConfig() CrossVenueConfig {
	return CrossVenueConfig{
		MinLiquidity:       decimal.NewFromInt(1000),
		MaxInvestment:      decimal.NewFromInt(1000),
		MaxSlippagePercent: 1.0,
		BookStaleness:      10 * time.Second,
		TickTTL:            10 * time.Second,
		OpportunityTTL:     5 * time.Minute,
		MinConfidence:      60,
		MinLiquidityScore:  50,
	}
}

// CrossVenueDetector scans pairwise venue combinations for a symbol on
// every new tick.
type CrossVenueDetector struct {
	cfg      CrossVenueConfig
	prices   *registry.PriceRegistry
	books    *orderbook.BookRegistry
	venues   []string

	mu            sync.Mutex
	opportunities map[string]model.ArbitrageOpportunity
	idSeq         int64
}

// NewCrossVenueDetector builds a detector over the given set of venue
// names (used to form candidate pairs).
func NewCrossVenueDetector(cfg CrossVenueConfig, prices *registry.PriceRegistry, books *orderbook.BookRegistry, venues []string) *CrossVenueDetector {
	return &CrossVenueDetector{
		cfg:           cfg,
		prices:        prices,
		books:         books,
		venues:        venues,
		opportunities: make(map[string]model.ArbitrageOpportunity),
	}
}

// OnTick is called by the dispatcher for every PriceTick applied to the
// PriceRegistry. It re-evaluates every venue pair for tick.Symbol.
func (d *CrossVenueDetector) OnTick(tick model.PriceTick, now time.Time) []model.ArbitrageOpportunity {
	var found []model.ArbitrageOpportunity
	for _, other := range d.venues {
		if other == tick.Venue {
			continue
		}
		if opp, ok := d.evaluatePair(tick.Symbol, tick.Venue, other, now); ok {
			found = append(found, opp)
		}
		if opp, ok := d.evaluatePair(tick.Symbol, other, tick.Venue, now); ok {
			found = append(found, opp)
		}
	}
	return found
}

// evaluatePair checks whether buying on buyVenue and selling on
// sellVenue for symbol is currently profitable.
func (d *CrossVenueDetector) evaluatePair(symbol model.Symbol, buyVenue, sellVenue string, now time.Time) (model.ArbitrageOpportunity, bool) {
	buyTick, ok1 := d.prices.Fresh(buyVenue, symbol, now, d.cfg.TickTTL)
	sellTick, ok2 := d.prices.Fresh(sellVenue, symbol, now, d.cfg.TickTTL)
	if !ok1 || !ok2 {
		return model.ArbitrageOpportunity{}, false
	}

	// Step 1: require the sell venue's bid above the buy venue's ask;
	// last-trade prices are not compared.
	if !sellTick.Bid.GreaterThan(buyTick.Ask) {
		return model.ArbitrageOpportunity{}, false
	}

	buyBook, haveBuyBook := d.books.Fresh(buyVenue, symbol, now, d.cfg.BookStaleness)
	sellBook, haveSellBook := d.books.Fresh(sellVenue, symbol, now, d.cfg.BookStaleness)

	var opp model.ArbitrageOpportunity
	var ok bool
	if !haveBuyBook || !haveSellBook {
		opp, ok = d.simpleEstimate(symbol, buyVenue, sellVenue, buyTick, sellTick, now)
	} else {
		opp, ok = d.depthWalk(symbol, buyVenue, sellVenue, buyTick, sellTick, buyBook, sellBook, now)
	}
	if !ok {
		return model.ArbitrageOpportunity{}, false
	}

	return d.register(opp, now)
}

// simpleEstimate is the step-2 fallback used when either book is
// missing or stale: half-spread as slippage proxy, flat per-venue fee.
func (d *CrossVenueDetector) simpleEstimate(symbol model.Symbol, buyVenue, sellVenue string, buyTick, sellTick model.PriceTick, now time.Time) (model.ArbitrageOpportunity, bool) {
	tradeValue := d.cfg.MaxInvestment
	baseAmount := tradeValue.Div(buyTick.Ask)

	buyFeeRate := decimal.NewFromFloat(exchange.DefaultTakerFeePercent(buyVenue) / 100)
	sellFeeRate := decimal.NewFromFloat(exchange.DefaultTakerFeePercent(sellVenue) / 100)

	buyCost := baseAmount.Mul(buyTick.Ask)
	sellCost := baseAmount.Mul(sellTick.Bid)
	buyFee := buyCost.Mul(buyFeeRate)
	sellFee := sellCost.Mul(sellFeeRate)

	netProfit := sellCost.Sub(buyCost).Sub(buyFee).Sub(sellFee)
	if !netProfit.IsPositive() {
		return model.ArbitrageOpportunity{}, false
	}

	netProfitPercent, _ := netProfit.Div(buyCost).Mul(decimal.NewFromInt(100)).Float64()

	return model.ArbitrageOpportunity{
		Symbol:               symbol,
		BuyVenue:             buyVenue,
		SellVenue:            sellVenue,
		BuyPrice:             buyTick.Ask,
		SellPrice:            sellTick.Bid,
		EffectiveBuyPrice:    buyTick.Ask,
		EffectiveSellPrice:   sellTick.Bid,
		Fees:                 buyFee.Add(sellFee),
		RecommendedTradeSize: baseAmount,
		NetProfit:            netProfit,
		NetProfitPercent:     netProfitPercent,
		Confidence:           50,
		LiquidityScore:       50,
		CreatedAt:            now,
	}, true
}

// depthWalk estimates the realistic fill price and slippage by walking
// both order books when both are fresh.
func (d *CrossVenueDetector) depthWalk(symbol model.Symbol, buyVenue, sellVenue string, buyTick, sellTick model.PriceTick, buyBook, sellBook *orderbook.Replica, now time.Time) (model.ArbitrageOpportunity, bool) {
	asksTotalVolume := buyBook.TotalVolume(model.SideAsk)
	bidsTotalVolume := sellBook.TotalVolume(model.SideBid)

	availableLiquidity := decimal.Min(asksTotalVolume.Mul(buyTick.Ask), bidsTotalVolume.Mul(sellTick.Bid))
	if availableLiquidity.LessThan(d.cfg.MinLiquidity) {
		return model.ArbitrageOpportunity{}, false
	}

	tradeValue := decimal.Min(d.cfg.MaxInvestment, availableLiquidity.Mul(decimal.NewFromFloat(0.10)))
	baseAmount := tradeValue.Div(buyTick.Ask)

	buySlip := buyBook.WalkDepth(model.SideAsk, baseAmount)
	sellSlip := sellBook.WalkDepth(model.SideBid, baseAmount)
	if !buySlip.Feasible || !sellSlip.Feasible {
		return model.ArbitrageOpportunity{}, false
	}

	slippagePercent, _ := buySlip.EffectivePrice.Sub(buyTick.Ask).
		Add(sellTick.Bid.Sub(sellSlip.EffectivePrice)).
		Div(buyTick.Ask).Mul(decimal.NewFromInt(100)).Float64()
	if slippagePercent > d.cfg.MaxSlippagePercent {
		return model.ArbitrageOpportunity{}, false
	}

	buyFeeRate := decimal.NewFromFloat(exchange.DefaultTakerFeePercent(buyVenue) / 100)
	sellFeeRate := decimal.NewFromFloat(exchange.DefaultTakerFeePercent(sellVenue) / 100)
	buyFee := buySlip.EffectivePrice.Mul(buyFeeRate).Mul(baseAmount)
	sellFee := sellSlip.EffectivePrice.Mul(sellFeeRate).Mul(baseAmount)

	netProfit := sellSlip.EffectivePrice.Sub(buySlip.EffectivePrice).Mul(baseAmount).Sub(buyFee).Sub(sellFee)
	if !netProfit.IsPositive() {
		return model.ArbitrageOpportunity{}, false
	}

	netProfitPercent, _ := netProfit.Div(baseAmount.Mul(buySlip.EffectivePrice)).Mul(decimal.NewFromInt(100)).Float64()

	liquidityScore := math.Min(100, mustFloat(availableLiquidity)/mustFloat(d.cfg.MinLiquidity)*100)
	if liquidityScore < d.cfg.MinLiquidityScore {
		return model.ArbitrageOpportunity{}, false
	}

	buyAgeMs := float64(buyTick.Age(now).Milliseconds())
	sellAgeMs := float64(sellTick.Age(now).Milliseconds())
	ageFactor := math.Max(0, 100-(buyAgeMs+sellAgeMs)/200) * 0.15
	liquidityFactor := liquidityScore * 0.30
	profitFactor := math.Min(100, netProfitPercent*20) * 0.25
	avgSpreadPercent := slippagePercent // used as the spread-impact proxy per depth-walked prices
	spreadFactor := math.Max(0, 100-avgSpreadPercent*100) * 0.15
	slippageFactor := math.Max(0, 100-slippagePercent*50) * 0.15
	confidence := ageFactor + liquidityFactor + profitFactor + spreadFactor + slippageFactor

	if confidence < d.cfg.MinConfidence {
		return model.ArbitrageOpportunity{}, false
	}

	return model.ArbitrageOpportunity{
		Symbol:               symbol,
		BuyVenue:             buyVenue,
		SellVenue:            sellVenue,
		BuyPrice:             buyTick.Ask,
		SellPrice:            sellTick.Bid,
		EffectiveBuyPrice:    buySlip.EffectivePrice,
		EffectiveSellPrice:   sellSlip.EffectivePrice,
		BuySlippagePercent:   slippagePercent,
		SellSlippagePercent:  slippagePercent,
		Fees:                 buyFee.Add(sellFee),
		RecommendedTradeSize: baseAmount,
		AvailableLiquidity:   availableLiquidity,
		Confidence:           confidence,
		LiquidityScore:       liquidityScore,
		SpreadImpact:         avgSpreadPercent,
		NetProfit:            netProfit,
		NetProfitPercent:     netProfitPercent,
		CreatedAt:            now,
	}, true
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// register applies the dedup and GC rules. A candidate replaces the
// existing opportunity for the same key only if its confidence is
// strictly higher.
func (d *CrossVenueDetector) register(opp model.ArbitrageOpportunity, now time.Time) (model.ArbitrageOpportunity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, existing := range d.opportunities {
		if existing.Expired(now, d.cfg.OpportunityTTL) {
			delete(d.opportunities, k)
		}
	}

	key := opp.Key()
	if existing, ok := d.opportunities[key]; ok && existing.Confidence >= opp.Confidence {
		return model.ArbitrageOpportunity{}, false
	}

	d.idSeq++
	opp.ID = "cross-" + decimal.NewFromInt(d.idSeq).String()
	d.opportunities[key] = opp
	return opp, true
}

// Snapshot returns every currently registered opportunity.
func (d *CrossVenueDetector) Snapshot() []model.ArbitrageOpportunity {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.ArbitrageOpportunity, 0, len(d.opportunities))
	for _, o := range d.opportunities {
		out = append(out, o)
	}
	return out
}
