// Package journal implements the TransactionJournal component: a
// single-writer, append-only per-day trade record with an end-of-day
// summary generator.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"arbiter/internal/database"
	"arbiter/internal/model"
)

// record is the JSON-line shape written to trades-YYYY-MM-DD.jsonl.
// Field names are the wire contract; changing them breaks round-trip
// compatibility with historical log files.
type record struct {
	ID             string    `json:"id"`
	OpportunityID  string    `json:"opportunityId"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status"`
	RealizedProfit string    `json:"realizedProfit"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	EndedAt        time.Time `json:"endedAt"`
	ExecutionMs    int64     `json:"executionMs"`
	Orders         []orderRecord `json:"orders,omitempty"`
}

type orderRecord struct {
	Venue            string `json:"venue"`
	OrderID          string `json:"orderId"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	State            string `json:"state"`
	FilledAmount     string `json:"filledAmount"`
	AverageFillPrice string `json:"averageFillPrice"`
	Fee              string `json:"fee"`
}

func toRecord(attempt model.TradeAttempt) record {
	orders := make([]orderRecord, 0, len(attempt.Orders))
	for _, o := range attempt.Orders {
		orders = append(orders, orderRecord{
			Venue:            o.Venue,
			OrderID:          o.OrderID,
			Symbol:           string(o.Symbol),
			Side:             string(o.Side),
			State:            string(o.State),
			FilledAmount:     o.FilledAmount.String(),
			AverageFillPrice: o.AverageFillPrice.String(),
			Fee:              o.Fee.String(),
		})
	}
	return record{
		ID:             attempt.ID,
		OpportunityID:  attempt.OpportunityID,
		Kind:           string(attempt.Kind),
		Status:         string(attempt.Status),
		RealizedProfit: attempt.RealizedProfit.String(),
		Error:          attempt.Error,
		StartedAt:      attempt.StartedAt,
		EndedAt:        attempt.EndedAt,
		ExecutionMs:    attempt.ExecutionMs,
		Orders:         orders,
	}
}

// entry is one queued write.
type entry struct {
	attempt model.TradeAttempt
	done    chan struct{}
}

// TransactionJournal serializes every trade state transition through a
// single writer goroutine so concurrent trade tasks never interleave
// writes to the same day's file.
type TransactionJournal struct {
	logger  *slog.Logger
	dir     string
	repo    database.Repository
	queue   chan entry
	wg      sync.WaitGroup

	mu      sync.Mutex
	current string // currently open day, e.g. "2026-08-03"
	file    *os.File
	writer  *bufio.Writer
}

// New builds a TransactionJournal writing under dir ("logs/trades" in
// production). repo may be nil to disable Postgres mirroring.
func New(logger *slog.Logger, dir string, repo database.Repository) *TransactionJournal {
	j := &TransactionJournal{
		logger: logger,
		dir:    dir,
		repo:   repo,
		queue:  make(chan entry, 256),
	}
	j.wg.Add(1)
	go j.run()
	return j
}

// Record enqueues a trade attempt's terminal (or intermediate) state
// for journaling and blocks until the line has been written, so the
// caller's trade task completes its journal write before signaling
// termination.
func (j *TransactionJournal) Record(attempt model.TradeAttempt) {
	e := entry{attempt: attempt, done: make(chan struct{})}
	j.queue <- e
	<-e.done
}

func (j *TransactionJournal) run() {
	defer j.wg.Done()
	for e := range j.queue {
		j.write(e.attempt)
		close(e.done)
	}
}

func (j *TransactionJournal) write(attempt model.TradeAttempt) {
	day := attempt.StartedAt.UTC().Format("2006-01-02")
	if err := j.ensureFile(day); err != nil {
		j.logger.Error("journal: failed to open trade log", "day", day, "error", err)
		return
	}

	line, err := json.Marshal(toRecord(attempt))
	if err != nil {
		j.logger.Error("journal: failed to marshal trade record", "tradeId", attempt.ID, "error", err)
		return
	}
	j.mu.Lock()
	j.writer.Write(line)
	j.writer.WriteByte('\n')
	flushErr := j.writer.Flush()
	j.mu.Unlock()
	if flushErr != nil {
		j.logger.Error("journal: failed to flush trade log", "tradeId", attempt.ID, "error", flushErr)
	}

	if attempt.Status.Terminal() && j.repo != nil {
		if err := j.repo.SaveTradeAttempt(context.Background(), attempt); err != nil {
			j.logger.Error("journal: postgres mirror failed", "tradeId", attempt.ID, "error", err)
		}
	}
}

func (j *TransactionJournal) ensureFile(day string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current == day && j.file != nil {
		return nil
	}
	if j.file != nil {
		j.writer.Flush()
		j.file.Close()
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(j.dir, fmt.Sprintf("trades-%s.jsonl", day))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	j.current = day
	j.file = f
	j.writer = bufio.NewWriter(f)
	return nil
}

// Close drains the queue and closes the current file.
func (j *TransactionJournal) Close() {
	close(j.queue)
	j.wg.Wait()
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		j.writer.Flush()
		j.file.Close()
	}
}

// Summary is the end-of-day aggregate written to summary-YYYY-MM-DD.txt.
type Summary struct {
	Day            string
	Attempted      int
	Completed      int
	Failed         int
	Rejected       int
	Partial        int
	RolledBack     int
	GrossProfit    string
	NetProfit      string
	AvgExecutionMs int64
	SuccessRate    float64
	ByKind         map[model.OpportunityKind]int
}

// WriteSummary generates summary-YYYY-MM-DD.txt from the attempts given
// (typically loaded back from the day's jsonl file or the Postgres
// mirror).
func (j *TransactionJournal) WriteSummary(day string, attempts []model.TradeAttempt) error {
	summary := Summary{Day: day, ByKind: make(map[model.OpportunityKind]int)}
	var totalMs int64
	var gross, net float64

	for _, a := range attempts {
		summary.Attempted++
		summary.ByKind[a.Kind]++
		switch a.Status {
		case model.StatusCompleted:
			summary.Completed++
		case model.StatusFailed:
			summary.Failed++
		case model.StatusRejected:
			summary.Rejected++
		case model.StatusPartial:
			summary.Partial++
		case model.StatusRolledBack:
			summary.RolledBack++
		}
		totalMs += a.ExecutionMs
		profit, _ := a.RealizedProfit.Float64()
		net += profit
		if profit > 0 {
			gross += profit
		}
	}
	if summary.Attempted > 0 {
		summary.AvgExecutionMs = totalMs / int64(summary.Attempted)
		summary.SuccessRate = float64(summary.Completed) / float64(summary.Attempted) * 100
	}
	summary.GrossProfit = fmt.Sprintf("%.8f", gross)
	summary.NetProfit = fmt.Sprintf("%.8f", net)

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(j.dir, fmt.Sprintf("summary-%s.txt", day))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "Trading summary for %s\n", summary.Day)
	fmt.Fprintf(f, "Attempted: %d\n", summary.Attempted)
	fmt.Fprintf(f, "Completed: %d\n", summary.Completed)
	fmt.Fprintf(f, "Failed: %d\n", summary.Failed)
	fmt.Fprintf(f, "Rejected: %d\n", summary.Rejected)
	fmt.Fprintf(f, "Partial: %d\n", summary.Partial)
	fmt.Fprintf(f, "RolledBack: %d\n", summary.RolledBack)
	fmt.Fprintf(f, "Gross profit: %s\n", summary.GrossProfit)
	fmt.Fprintf(f, "Net profit: %s\n", summary.NetProfit)
	fmt.Fprintf(f, "Average execution ms: %d\n", summary.AvgExecutionMs)
	fmt.Fprintf(f, "Success rate: %.2f%%\n", summary.SuccessRate)
	for kind, count := range summary.ByKind {
		fmt.Fprintf(f, "  %s: %d\n", kind, count)
	}
	return nil
}
