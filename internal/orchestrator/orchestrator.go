// Package orchestrator implements the TradeOrchestrator component: the
// state machine that turns an approved opportunity into executed orders
// and a journaled TradeAttempt.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/balance"
	"arbiter/internal/executor"
	"arbiter/internal/model"
	"arbiter/internal/risk"
)

// Journal is the minimal surface orchestrators write state transitions
// to; satisfied by *journal.TransactionJournal.
type Journal interface {
	Record(attempt model.TradeAttempt)
}

func newAttempt(id string, kind model.OpportunityKind) *model.TradeAttempt {
	return &model.TradeAttempt{
		ID:            id,
		OpportunityID: id,
		Kind:          kind,
		Status:        model.StatusValidating,
		PreState:      make(map[string]decimal.Decimal),
		PostState:     make(map[string]decimal.Decimal),
		StartedAt:     time.Now(),
	}
}

func finish(attempt *model.TradeAttempt, status model.TradeStatus, errMsg string) *model.TradeAttempt {
	attempt.Status = status
	attempt.Error = errMsg
	attempt.EndedAt = time.Now()
	attempt.ExecutionMs = attempt.EndedAt.Sub(attempt.StartedAt).Milliseconds()
	return attempt
}

// waitTimeout bounds the wall-clock for one Execute call end to end,
// independent of any single order's own executor-level timeout.
const waitTimeout = 30 * time.Second

// CrossOrchestrator implements the cross-venue execution flow.
type CrossOrchestrator struct {
	logger  *slog.Logger
	risk    *risk.Manager
	bal     *balance.Ledger
	exec    *executor.OrderExecutor
	journal Journal
	idSeq   int64
}

// NewCrossOrchestrator builds a CrossOrchestrator.
func NewCrossOrchestrator(logger *slog.Logger, riskMgr *risk.Manager, bal *balance.Ledger, exec *executor.OrderExecutor, journal Journal) *CrossOrchestrator {
	return &CrossOrchestrator{logger: logger, risk: riskMgr, bal: bal, exec: exec, journal: journal}
}

func (o *CrossOrchestrator) nextID() string {
	o.idSeq++
	return fmt.Sprintf("cross-trade-%d-%d", time.Now().UnixNano(), o.idSeq)
}

// Execute runs the full cross-venue state machine.
func (o *CrossOrchestrator) Execute(ctx context.Context, opp model.ArbitrageOpportunity, quoteCurrency, baseCurrency string) *model.TradeAttempt {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	attempt := newAttempt(o.nextID(), model.KindCrossExchange)
	attempt.OpportunityID = opp.ID

	requiredQuote := opp.RecommendedTradeSize.Mul(opp.EffectiveBuyPrice)
	requiredBase := opp.RecommendedTradeSize

	// Step 1: risk.evaluate.
	evalIn := risk.NewCrossEvalInput(opp, quoteCurrency, baseCurrency, requiredQuote, requiredBase)
	approval := o.risk.Evaluate(evalIn)
	if !approval.Approved {
		o.logger.Info("orchestrator: cross trade rejected", "tradeId", attempt.ID, "reasons", approval.Reasons)
		o.journal.Record(*finish(attempt, model.StatusRejected, joinReasons(approval.Reasons)))
		return attempt
	}
	attempt.Status = model.StatusApproved

	// Step 2: lock quote on buyVenue, base on sellVenue.
	if err := o.bal.Lock(attempt.ID, opp.BuyVenue, quoteCurrency, requiredQuote); err != nil {
		o.journal.Record(*finish(attempt, model.StatusFailed, err.Error()))
		return attempt
	}
	if err := o.bal.Lock(attempt.ID, opp.SellVenue, baseCurrency, requiredBase); err != nil {
		o.bal.Unlock(attempt.ID, opp.BuyVenue, quoteCurrency)
		o.journal.Record(*finish(attempt, model.StatusFailed, err.Error()))
		return attempt
	}
	defer func() {
		o.bal.Unlock(attempt.ID, opp.BuyVenue, quoteCurrency)
		o.bal.Unlock(attempt.ID, opp.SellVenue, baseCurrency)
		o.bal.Refresh(context.Background())
		o.risk.DecrementActive(model.KindCrossExchange)
	}()

	// Step 3: increment active trades.
	o.risk.IncrementActive(model.KindCrossExchange)

	// Step 4: EXECUTING - submit both orders in parallel.
	attempt.Status = model.StatusExecuting
	type legResult struct {
		order model.ExecutedOrder
		err   error
	}
	buyCh := make(chan legResult, 1)
	sellCh := make(chan legResult, 1)

	go func() {
		order, err := o.exec.Place(ctx, model.OrderRequest{
			Venue: opp.BuyVenue, Symbol: opp.Symbol, Side: model.OrderSideBuy,
			Type: model.OrderTypeMarket, Amount: opp.RecommendedTradeSize,
		})
		buyCh <- legResult{order, err}
	}()
	go func() {
		order, err := o.exec.Place(ctx, model.OrderRequest{
			Venue: opp.SellVenue, Symbol: opp.Symbol, Side: model.OrderSideSell,
			Type: model.OrderTypeMarket, Amount: opp.RecommendedTradeSize,
		})
		sellCh <- legResult{order, err}
	}()

	attempt.Status = model.StatusMonitoring
	buyRes := <-buyCh
	sellRes := <-sellCh

	if buyRes.order.OrderID != "" {
		attempt.Orders = append(attempt.Orders, buyRes.order)
	}
	if sellRes.order.OrderID != "" {
		attempt.Orders = append(attempt.Orders, sellRes.order)
	}

	switch {
	case buyRes.err != nil && sellRes.err != nil:
		o.journal.Record(*finish(attempt, model.StatusFailed, fmt.Sprintf("both legs failed: buy=%v sell=%v", buyRes.err, sellRes.err)))
		return attempt
	case buyRes.err != nil || sellRes.err != nil:
		// One leg filled, the other failed: PARTIAL, no automatic rollback.
		var errMsg string
		if buyRes.err != nil {
			errMsg = fmt.Sprintf("buy leg failed after sell filled: %v", buyRes.err)
		} else {
			errMsg = fmt.Sprintf("sell leg failed after buy filled: %v", sellRes.err)
		}
		o.journal.Record(*finish(attempt, model.StatusPartial, errMsg))
		return attempt
	}

	// Step 6: realized profit.
	buyCost := buyRes.order.AverageFillPrice.Mul(buyRes.order.FilledAmount).Add(buyRes.order.Fee)
	sellCost := sellRes.order.AverageFillPrice.Mul(sellRes.order.FilledAmount).Sub(sellRes.order.Fee)
	realizedProfit := sellCost.Sub(buyCost)
	attempt.RealizedProfit = realizedProfit

	o.risk.Record(realizedProfit)

	status := model.StatusCompleted
	if buyRes.order.State != model.OrderStateClosed || sellRes.order.State != model.OrderStateClosed {
		status = model.StatusPartial
	}

	o.journal.Record(*finish(attempt, status, ""))
	return attempt
}

// TriangularOrchestrator implements the triangular execution flow.
type TriangularOrchestrator struct {
	logger  *slog.Logger
	risk    *risk.Manager
	bal     *balance.Ledger
	exec    *executor.OrderExecutor
	journal Journal
	idSeq   int64
}

// NewTriangularOrchestrator builds a TriangularOrchestrator.
func NewTriangularOrchestrator(logger *slog.Logger, riskMgr *risk.Manager, bal *balance.Ledger, exec *executor.OrderExecutor, journal Journal) *TriangularOrchestrator {
	return &TriangularOrchestrator{logger: logger, risk: riskMgr, bal: bal, exec: exec, journal: journal}
}

func (o *TriangularOrchestrator) nextID() string {
	o.idSeq++
	return fmt.Sprintf("tri-trade-%d-%d", time.Now().UnixNano(), o.idSeq)
}

// Execute runs the full triangular state machine.
func (o *TriangularOrchestrator) Execute(ctx context.Context, opp model.TriangularOpportunity, startCurrency string) *model.TradeAttempt {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	attempt := newAttempt(o.nextID(), model.KindTriangular)
	attempt.OpportunityID = opp.ID

	evalIn := risk.NewTriangularEvalInput(opp, startCurrency)
	approval := o.risk.Evaluate(evalIn)
	if !approval.Approved {
		o.journal.Record(*finish(attempt, model.StatusRejected, joinReasons(approval.Reasons)))
		return attempt
	}
	attempt.Status = model.StatusApproved

	if err := o.bal.Lock(attempt.ID, opp.Venue, startCurrency, opp.StartAmount); err != nil {
		o.journal.Record(*finish(attempt, model.StatusFailed, err.Error()))
		return attempt
	}
	defer func() {
		o.bal.Unlock(attempt.ID, opp.Venue, startCurrency)
		o.bal.Refresh(context.Background())
		o.risk.DecrementActive(model.KindTriangular)
	}()

	o.risk.IncrementActive(model.KindTriangular)

	attempt.Status = model.StatusExecuting
	amount := opp.StartAmount
	for i := 0; i < 3; i++ {
		side := model.OrderSideBuy
		if opp.Directions[i] == model.LegSell {
			side = model.OrderSideSell
		}

		orderAmount := amount
		if side == model.OrderSideBuy {
			// amount is denominated in the currency being spent on this
			// leg; orders are sized in base-asset quantity, so estimate
			// the base quantity using the opportunity's pre-trade price
			// for this leg, the same conversion legPrice applied at
			// detection time.
			orderAmount = amount.Div(opp.EffectivePrices[i])
		}

		order, err := o.exec.Place(ctx, model.OrderRequest{
			Venue: opp.Venue, Symbol: opp.Path[i], Side: side,
			Type: model.OrderTypeMarket, Amount: orderAmount,
		})
		if order.OrderID != "" {
			attempt.Orders = append(attempt.Orders, order)
		}
		if err != nil {
			o.journal.Record(*finish(attempt, model.StatusFailed, fmt.Sprintf("leg %d failed: %v", i+1, err)))
			return attempt
		}

		// order.FilledAmount is the executed base quantity. A buy leg
		// converts into the base asset, so only the fee needs netting
		// out; a sell leg converts into the quote asset, so its proceeds
		// are the filled quantity at the average fill price, net of fee.
		amount = order.FilledAmount.Sub(order.Fee)
		if side == model.OrderSideSell {
			amount = order.FilledAmount.Mul(order.AverageFillPrice).Sub(order.Fee)
		}
	}

	attempt.Status = model.StatusMonitoring
	endAmount := amount
	realizedProfit := endAmount.Sub(opp.StartAmount)
	attempt.RealizedProfit = realizedProfit

	o.risk.Record(realizedProfit)

	o.journal.Record(*finish(attempt, model.StatusCompleted, ""))
	return attempt
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
