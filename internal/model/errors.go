package model

import "errors"

// Sentinel error kinds, one per error category. No component in this
// module wraps or returns them; errors.Is works on any error that does
// wrap one with fmt.Errorf ("%w").
var (
	ErrWire               = errors.New("wire: malformed or unexpected venue message")
	ErrBookInconsistency  = errors.New("book: update-id gap or persisting crossed book")
	ErrStreamDisconnected = errors.New("stream: disconnected")
	ErrInsufficientLiquidity = errors.New("opportunity: insufficient liquidity")
	ErrStaleData          = errors.New("opportunity: stale data")
	ErrExecutionFailure   = errors.New("execution: order rejected, timed out, or venue error")
	ErrDailyLimitBreached = errors.New("risk: daily limit breached")
	ErrFatalAdapterInit   = errors.New("adapter: fatal initialization failure")
)
