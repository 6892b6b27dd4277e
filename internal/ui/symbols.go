package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Operation completed successfully
	SymbolFail     = "✗" // Operation failed
	SymbolPending  = "○" // Connection not yet established
	SymbolProgress = "◐" // Connection in progress
	SymbolActive   = "●" // Connection checked out and in use
)
