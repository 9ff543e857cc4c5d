// Package outcome turns start and end prices into a battle result.
package outcome

import "math"

const (
	WinnerA    = "A"
	WinnerB    = "B"
	WinnerTie  = "TIE"
	WinnerNone = ""
)

const (
	ReasonOK               = "OK"
	ReasonTie              = "TIE"
	ReasonInsufficientData = "INSUFFICIENT_DATA"
	ReasonError            = "ERROR"
)

// DefaultTieThresholdBps is 10 basis points, i.e. 0.10 percentage points.
const DefaultTieThresholdBps = 10.0

type Decision struct {
	Winner string
	Reason string
}

// Calculator decides winners. TieThresholdPct is in percentage points.
type Calculator struct {
	TieThresholdPct float64
}

// NewCalculator converts a basis-point threshold into percentage points.
// Non-positive values fall back to DefaultTieThresholdBps.
func NewCalculator(tieThresholdBps float64) Calculator {
	if tieThresholdBps <= 0 || math.IsNaN(tieThresholdBps) {
		tieThresholdBps = DefaultTieThresholdBps
	}
	return Calculator{TieThresholdPct: tieThresholdBps / 100}
}

// PercentChange returns (end-start)/start*100, or nil when either price is
// missing or start is zero.
func PercentChange(start, end *float64) *float64 {
	if start == nil || end == nil || *start == 0 {
		return nil
	}
	v := (*end - *start) / *start * 100
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (c Calculator) DecideWinner(deltaA, deltaB *float64) Decision {
	if deltaA == nil || deltaB == nil {
		return Decision{Winner: WinnerNone, Reason: ReasonInsufficientData}
	}
	if math.Abs(*deltaA-*deltaB) < c.TieThresholdPct {
		return Decision{Winner: WinnerTie, Reason: ReasonTie}
	}
	if *deltaA > *deltaB {
		return Decision{Winner: WinnerA, Reason: ReasonOK}
	}
	return Decision{Winner: WinnerB, Reason: ReasonOK}
}

// Leader reports the provisional winner for live display. It never returns
// WinnerNone when both deltas are known.
func (c Calculator) Leader(deltaA, deltaB *float64) string {
	return c.DecideWinner(deltaA, deltaB).Winner
}
