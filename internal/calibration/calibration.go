// Package calibration tracks how well stated confidences match
// observed outcomes. It extracts confidence claims from model output,
// accumulates (claimed, correct) samples, reports expected calibration
// error over equal-width bins, and rescales overconfident claims by
// temperature.
package calibration

import (
	"math"
	"sync"

	"memcore/internal/logging"
)

type sample struct {
	confidence float64
	correct    bool
}

// Calibrator accumulates outcome samples and reports calibration
// quality. Safe for concurrent use.
type Calibrator struct {
	mu      sync.Mutex
	bins    int
	samples []sample
}

// NewCalibrator creates a calibrator with the given ECE bin count.
func NewCalibrator(bins int) *Calibrator {
	if bins < 1 {
		bins = 10
	}
	return &Calibrator{bins: bins}
}

// Record adds one observed outcome. Confidence is clamped to [0,1].
func (c *Calibrator) Record(confidence float64, correct bool) {
	confidence = clamp01(confidence)
	c.mu.Lock()
	c.samples = append(c.samples, sample{confidence: confidence, correct: correct})
	c.mu.Unlock()
	logging.Get(logging.CategoryCalibration).Debugf("recorded outcome confidence=%.3f correct=%v", confidence, correct)
}

// Count returns the number of recorded samples.
func (c *Calibrator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// Accuracy is the fraction of recorded outcomes that were correct.
// Zero with no samples.
func (c *Calibrator) Accuracy() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) == 0 {
		return 0
	}
	hits := 0
	for _, s := range c.samples {
		if s.correct {
			hits++
		}
	}
	return float64(hits) / float64(len(c.samples))
}

// ECE is the expected calibration error: samples are bucketed into
// equal-width confidence bins, and each bin contributes its weighted
// gap between mean confidence and observed accuracy. Zero with no
// samples means uncalibrated-but-unmeasured, not perfect.
func (c *Calibrator) ECE() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) == 0 {
		return 0
	}

	type bin struct {
		n       int
		sumConf float64
		hits    int
	}
	bins := make([]bin, c.bins)
	for _, s := range c.samples {
		i := int(s.confidence * float64(c.bins))
		if i == c.bins {
			i--
		}
		bins[i].n++
		bins[i].sumConf += s.confidence
		if s.correct {
			bins[i].hits++
		}
	}

	total := float64(len(c.samples))
	ece := 0.0
	for _, b := range bins {
		if b.n == 0 {
			continue
		}
		meanConf := b.sumConf / float64(b.n)
		accuracy := float64(b.hits) / float64(b.n)
		ece += (float64(b.n) / total) * math.Abs(meanConf-accuracy)
	}
	return ece
}

// ApplyTemperature rescales a confidence in logit space. Temperature
// above one softens overconfident claims toward 0.5; exactly one is the
// identity. Endpoint confidences pass through unchanged since their
// logits are infinite.
func ApplyTemperature(confidence, temperature float64) float64 {
	confidence = clamp01(confidence)
	if temperature <= 0 || temperature == 1 || confidence == 0 || confidence == 1 {
		return confidence
	}
	logit := math.Log(confidence / (1 - confidence))
	return 1 / (1 + math.Exp(-logit/temperature))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
