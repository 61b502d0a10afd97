package calibration

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"memcore/internal/logging"
)

func TestMain(m *testing.M) {
	logging.InitializeForTest()
	os.Exit(m.Run())
}

func TestExtractConfidence(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		want        float64
		lowEvidence bool
	}{
		{"colon form", "The answer is 42. Confidence: 0.85", 0.85, false},
		{"equals form", "confidence = 0.7 based on the logs", 0.7, false},
		{"level of form", "My confidence level of 0.9 reflects strong evidence.", 0.9, false},
		{"percent confident", "I am 85% confident this is right.", 0.85, false},
		{"percent sure", "About 60 % sure of the diagnosis.", 0.6, false},
		{"confident at", "I remain confident at 0.75 here.", 0.75, false},
		{"probability", "with probability 0.65 the cache was cold", 0.65, false},
		{"bare decimal", "confidence .9 after review", 0.9, false},
		{"over one hundred percent clamps", "I am 150% confident!", 1.0, false},
		{"no claim", "No quantitative statement here at all.", 0.5, true},
		{"empty", "", 0.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractConfidence(tt.text)
			assert.InDelta(t, tt.want, got.Confidence, 1e-9)
			assert.Equal(t, tt.lowEvidence, got.LowEvidence)
			if !tt.lowEvidence {
				assert.NotEmpty(t, got.Phrase)
			}
		})
	}
}

func TestECEEmptyIsZero(t *testing.T) {
	c := NewCalibrator(10)
	assert.Zero(t, c.ECE())
	assert.Zero(t, c.Accuracy())
	assert.Zero(t, c.Count())
}

func TestECEPerfectCalibration(t *testing.T) {
	c := NewCalibrator(10)
	// 10 samples at 0.8 confidence with 8 correct: the 0.8 bin's
	// accuracy equals its mean confidence.
	for i := 0; i < 10; i++ {
		c.Record(0.8, i < 8)
	}
	assert.InDelta(t, 0.0, c.ECE(), 1e-9)
	assert.InDelta(t, 0.8, c.Accuracy(), 1e-9)
}

func TestECEOverconfidence(t *testing.T) {
	c := NewCalibrator(10)
	// Claims 0.95 but is right half the time.
	for i := 0; i < 10; i++ {
		c.Record(0.95, i%2 == 0)
	}
	assert.InDelta(t, 0.45, c.ECE(), 1e-9)
}

func TestECEMixedBins(t *testing.T) {
	c := NewCalibrator(10)
	// Perfect low bin, overconfident high bin, equally weighted.
	for i := 0; i < 5; i++ {
		c.Record(0.2, i == 0)
	}
	for i := 0; i < 5; i++ {
		c.Record(0.9, true)
	}
	// Low bin gap 0, high bin gap 0.1, half the mass each.
	assert.InDelta(t, 0.05, c.ECE(), 1e-9)
}

func TestECEBoundaryConfidenceLandsInTopBin(t *testing.T) {
	c := NewCalibrator(10)
	c.Record(1.0, true)
	assert.InDelta(t, 0.0, c.ECE(), 1e-9)
}

func TestApplyTemperature(t *testing.T) {
	// Identity cases.
	assert.Equal(t, 0.8, ApplyTemperature(0.8, 1))
	assert.Equal(t, 0.0, ApplyTemperature(0, 2))
	assert.Equal(t, 1.0, ApplyTemperature(1, 2))

	// T > 1 softens toward 0.5 from both sides.
	softened := ApplyTemperature(0.9, 2)
	assert.Less(t, softened, 0.9)
	assert.Greater(t, softened, 0.5)

	raisedLow := ApplyTemperature(0.2, 2)
	assert.Greater(t, raisedLow, 0.2)
	assert.Less(t, raisedLow, 0.5)

	// T < 1 sharpens.
	sharpened := ApplyTemperature(0.9, 0.5)
	assert.Greater(t, sharpened, 0.9)
}
