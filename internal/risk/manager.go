// Package risk implements the RiskManager and RiskLedger components:
// the authority for what may be traded.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/balance"
	"arbiter/internal/model"
)

// KindLimits holds the per-kind thresholds Evaluate checks.
type KindLimits struct {
	MinProfitPercent    float64
	MaxPositionSize     decimal.Decimal
	MaxConcurrentTrades int
}

// GlobalLimits holds the ledger-wide daily caps Evaluate checks.
type GlobalLimits struct {
	MaxDailyLoss   decimal.Decimal
	MaxDailyTrades int
}

// Approval is the result of RiskManager.Evaluate.
type Approval struct {
	Approved bool
	Reasons  []string
}

// Manager evaluates candidate opportunities against global enable
// flags, daily counters, concurrency caps, blacklists, minimum profit,
// and emergency stop.
type Manager struct {
	mu sync.Mutex

	ledger  *model.RiskLedger
	balance *balance.Ledger

	tradingEnabled    bool
	crossEnabled      bool
	triangularEnabled bool

	global GlobalLimits
	cross  KindLimits
	tri    KindLimits

	nowFn func() time.Time
}

// NewManager constructs a Manager with an initialized ledger reset to
// today's UTC date.
func NewManager(bal *balance.Ledger, global GlobalLimits, cross, tri KindLimits) *Manager {
	now := time.Now().UTC()
	return &Manager{
		ledger:            model.NewRiskLedger(dateKey(now)),
		balance:           bal,
		tradingEnabled:    true,
		crossEnabled:      true,
		triangularEnabled: true,
		global:            global,
		cross:             cross,
		tri:               tri,
		nowFn:             time.Now,
	}
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SetTradingEnabled toggles the global trading flag (the Go-level
// surface behind the out-of-scope POST /trading/enable|disable contract).
func (m *Manager) SetTradingEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradingEnabled = enabled
}

// SetKindEnabled toggles a specific strategy's enable flag.
func (m *Manager) SetKindEnabled(kind model.OpportunityKind, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == model.KindCrossExchange {
		m.crossEnabled = enabled
	} else {
		m.triangularEnabled = enabled
	}
}

// ResetEmergencyStop clears the sticky emergency-stop flag. Operator
// action only; nothing in this package clears it automatically.
func (m *Manager) ResetEmergencyStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.EmergencyStop = false
}

// BlacklistSymbol adds a symbol to the reject list.
func (m *Manager) BlacklistSymbol(s model.Symbol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.BlacklistedSymbols[s] = true
}

func (m *Manager) BlacklistVenue(v string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.BlacklistedVenues[v] = true
}

// maybeResetDaily resets dailyTrades/dailyLoss exactly once per UTC day,
// detected lazily at evaluate-time.
func (m *Manager) maybeResetDaily(now time.Time) {
	today := dateKey(now)
	if m.ledger.LastResetDate == today {
		return
	}
	m.ledger.LastResetDate = today
	m.ledger.DailyTrades = 0
	m.ledger.DailyLoss = decimal.Zero
	m.ledger.DailyProfit = decimal.Zero
}

// evalInput is the minimal set of fields RiskManager needs, common to
// both opportunity kinds.
type evalInput struct {
	kind            model.OpportunityKind
	symbols         []model.Symbol
	venues          []string
	profitPercent   float64
	positionSize    decimal.Decimal
	requiredBuy     map[string]decimal.Decimal // "venue|currency" -> amount
}

// Evaluate runs every risk check and collects all failing reasons
// rather than short-circuiting on the first.
func (m *Manager) Evaluate(in evalInput) Approval {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn().UTC()
	m.maybeResetDaily(now)

	var reasons []string

	if !m.tradingEnabled {
		reasons = append(reasons, "global trading disabled")
	}
	kindEnabled := m.crossEnabled
	limits := m.cross
	if in.kind == model.KindTriangular {
		kindEnabled = m.triangularEnabled
		limits = m.tri
	}
	if !kindEnabled {
		reasons = append(reasons, "kind trading disabled")
	}
	if m.ledger.EmergencyStop {
		reasons = append(reasons, "emergency stop active")
	}
	for _, s := range in.symbols {
		if m.ledger.BlacklistedSymbols[s] {
			reasons = append(reasons, "blacklisted symbol: "+string(s))
		}
	}
	for _, v := range in.venues {
		if m.ledger.BlacklistedVenues[v] {
			reasons = append(reasons, "blacklisted venue: "+v)
		}
	}
	if in.profitPercent < limits.MinProfitPercent {
		reasons = append(reasons, "profit below minimum")
	}
	for key, amount := range in.requiredBuy {
		if !m.hasAvailableKey(key, amount) {
			reasons = append(reasons, "insufficient balance: "+key)
		}
	}
	if in.positionSize.GreaterThan(limits.MaxPositionSize) {
		reasons = append(reasons, "position size exceeds maximum")
	}
	if m.ledger.ActiveTradesByKind[in.kind] >= limits.MaxConcurrentTrades {
		reasons = append(reasons, "concurrent trade cap reached")
	}
	if m.ledger.DailyTrades >= m.global.MaxDailyTrades {
		reasons = append(reasons, "daily trade cap reached")
	}
	if m.ledger.DailyLoss.GreaterThanOrEqual(m.global.MaxDailyLoss) {
		m.ledger.EmergencyStop = true
		reasons = append(reasons, "daily loss cap reached")
	}

	return Approval{Approved: len(reasons) == 0, Reasons: reasons}
}

func (m *Manager) hasAvailableKey(key string, amount decimal.Decimal) bool {
	venue, currency := splitKey(key)
	return m.balance.Available(venue, currency).GreaterThanOrEqual(amount)
}

func splitKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// IncrementActive bumps the active-trade count for kind.
func (m *Manager) IncrementActive(kind model.OpportunityKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.ActiveTradesByKind[kind]++
}

// DecrementActive decrements the active-trade count for kind.
func (m *Manager) DecrementActive(kind model.OpportunityKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledger.ActiveTradesByKind[kind] > 0 {
		m.ledger.ActiveTradesByKind[kind]--
	}
}

// Record updates the daily counters with the outcome of a completed
// trade: dailyTrades always increments; dailyLoss increments only when
// profit is negative. A dailyProfit counter is tracked alongside it
// for observability.
func (m *Manager) Record(profit decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.DailyTrades++
	if profit.IsNegative() {
		m.ledger.DailyLoss = m.ledger.DailyLoss.Add(profit.Abs())
		if m.ledger.DailyLoss.GreaterThanOrEqual(m.global.MaxDailyLoss) {
			m.ledger.EmergencyStop = true
		}
	} else {
		m.ledger.DailyProfit = m.ledger.DailyProfit.Add(profit)
	}
}

// Snapshot returns a copy of the ledger's counters for observability.
func (m *Manager) Snapshot() model.RiskLedger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.ledger
}

// NewCrossEvalInput builds the evaluate input for a cross-venue
// opportunity.
func NewCrossEvalInput(opp model.ArbitrageOpportunity, quoteCurrency, baseCurrency string, requiredBuyValue, requiredBaseAmount decimal.Decimal) evalInput {
	return evalInput{
		kind:          model.KindCrossExchange,
		symbols:       []model.Symbol{opp.Symbol},
		venues:        []string{opp.BuyVenue, opp.SellVenue},
		profitPercent: opp.NetProfitPercent,
		positionSize:  opp.RecommendedTradeSize,
		requiredBuy: map[string]decimal.Decimal{
			opp.BuyVenue + "|" + quoteCurrency:  requiredBuyValue,
			opp.SellVenue + "|" + baseCurrency:  requiredBaseAmount,
		},
	}
}

// NewTriangularEvalInput builds the evaluate input for a triangular
// opportunity.
func NewTriangularEvalInput(opp model.TriangularOpportunity, startCurrency string) evalInput {
	symbols := make([]model.Symbol, 0, 3)
	for _, s := range opp.Path {
		symbols = append(symbols, s)
	}
	return evalInput{
		kind:          model.KindTriangular,
		symbols:       symbols,
		venues:        []string{opp.Venue},
		profitPercent: opp.ProfitPercent(),
		positionSize:  opp.StartAmount,
		requiredBuy: map[string]decimal.Decimal{
			opp.Venue + "|" + startCurrency: opp.StartAmount,
		},
	}
}
