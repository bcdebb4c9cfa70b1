// Package tax implements progressive capital-gains taxation and proactive
// tax-loss harvesting.
package tax

import "factorsim/internal/config"

// Engine is a stateless progressive-bracket tax calculator.
type Engine struct {
	brackets []config.TaxBracket
}

// NewEngine creates a tax engine for the given schedule. The schedule is
// assumed validated (strictly increasing limits, unbounded top bracket).
func NewEngine(cfg config.TaxConfig) *Engine {
	return &Engine{brackets: cfg.Brackets}
}

// TaxDue returns the tax owed on a realized gain under marginal-bracket
// semantics: each band between consecutive upper limits is taxed at its own
// rate. Losses and zero gains owe nothing.
func (e *Engine) TaxDue(realizedGain float64) float64 {
	if realizedGain <= 0 {
		return 0
	}

	var due, prevLimit float64
	remaining := realizedGain
	for _, bracket := range e.brackets {
		band := bracket.UpperLimit - prevLimit
		if remaining < band {
			band = remaining
		}
		due += band * bracket.Rate
		remaining -= band
		if remaining <= 0 {
			break
		}
		prevLimit = bracket.UpperLimit
	}
	return due
}
