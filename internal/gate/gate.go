// Package gate implements the confidence gate: every consequential
// action passes its stated confidence through a per-criticality
// threshold before it may proceed. A critical action below the hard
// floor is rejected outright; everything else that misses its threshold
// lands in the escalation queue for a human decision.
package gate

import (
	"time"

	"memcore/internal/config"
	"memcore/internal/errs"
	"memcore/internal/logging"
)

// Criticality classifies how much damage a wrong action can do.
type Criticality string

const (
	CriticalityLow       Criticality = "low"
	CriticalityRoutine   Criticality = "routine"
	CriticalityImportant Criticality = "important"
	CriticalityCritical  Criticality = "critical"
)

// ParseCriticality validates a criticality string.
func ParseCriticality(s string) (Criticality, error) {
	switch Criticality(s) {
	case CriticalityLow, CriticalityRoutine, CriticalityImportant, CriticalityCritical:
		return Criticality(s), nil
	default:
		return "", errs.Validationf("unknown criticality %q", s)
	}
}

// Decision is the gate's verdict on one action. Margin is confidence
// minus threshold; negative when the action missed.
type Decision struct {
	Passed      bool        `json:"passed"`
	Escalate    bool        `json:"escalate"`
	Confidence  float64     `json:"confidence"`
	Threshold   float64     `json:"threshold"`
	Margin      float64     `json:"margin"`
	Criticality Criticality `json:"criticality"`
	Reason      string      `json:"reason"`
	CheckedAt   time.Time   `json:"checked_at"`
}

// Gate applies the thresholds. Adaptive mode raises thresholds when
// calibration degrades; they never drop below their configured values.
type Gate struct {
	cfg    config.GateConfig
	offset float64
	clock  func() time.Time
}

// New creates a gate.
func New(cfg config.GateConfig) *Gate {
	return &Gate{cfg: cfg, clock: time.Now}
}

// SetClock replaces the wall clock. Test hook.
func (g *Gate) SetClock(fn func() time.Time) { g.clock = fn }

// Threshold returns the effective threshold for a criticality,
// including any adaptive raise, capped at 1.
func (g *Gate) Threshold(c Criticality) float64 {
	var base float64
	switch c {
	case CriticalityLow:
		base = g.cfg.LowThreshold
	case CriticalityRoutine:
		base = g.cfg.RoutineThreshold
	case CriticalityImportant:
		base = g.cfg.ImportantThreshold
	default:
		base = g.cfg.CriticalThreshold
	}
	t := base + g.offset
	if t > 1 {
		t = 1
	}
	return t
}

// UpdateCalibration feeds the latest expected calibration error into
// the adaptive offset. The offset only ever grows: once the gate has
// seen poor calibration it stays cautious until restarted.
func (g *Gate) UpdateCalibration(ece float64) {
	if !g.cfg.AdaptiveThreshold {
		return
	}
	raise := ece - 0.05
	if raise < 0 {
		raise = 0
	}
	if raise > 0.10 {
		raise = 0.10
	}
	if raise > g.offset {
		logging.Gate("calibration degraded (ece=%.3f), raising thresholds by %.3f", ece, raise)
		g.offset = raise
	}
}

// Check gates one action. A critical action with confidence below the
// hard floor is a GateFail error and creates no escalation; every other
// miss escalates. Below the criticality's threshold the action does not
// pass and must be escalated. Important and critical actions that pass
// within the escalation margin above their threshold pass but still
// escalate for review.
func (g *Gate) Check(confidence float64, criticality Criticality) (*Decision, error) {
	if confidence < 0 || confidence > 1 {
		return nil, errs.Validationf("confidence %.3f outside [0,1]", confidence)
	}

	threshold := g.Threshold(criticality)
	d := &Decision{
		Confidence:  confidence,
		Threshold:   threshold,
		Margin:      confidence - threshold,
		Criticality: criticality,
		CheckedAt:   g.clock().UTC(),
	}

	if criticality == CriticalityCritical && confidence < g.cfg.HardFloor {
		return nil, errs.GateFailf("confidence %.3f below hard floor %.2f for critical action",
			confidence, g.cfg.HardFloor)
	}

	if confidence < threshold {
		d.Passed = false
		d.Escalate = true
		d.Reason = "confidence below threshold"
		logging.Gate("blocked %s action: confidence %.3f < threshold %.3f", criticality, confidence, threshold)
		return d, nil
	}

	nearMargin := confidence < threshold+g.cfg.EscalationMargin
	if nearMargin && (criticality == CriticalityImportant || criticality == CriticalityCritical) {
		d.Passed = true
		d.Escalate = true
		d.Reason = "passed within escalation margin"
		return d, nil
	}

	d.Passed = true
	d.Reason = "confidence clears threshold"
	return d, nil
}
