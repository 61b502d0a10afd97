// Package witness implements verifiable execution records: every
// consequential model output can be sealed as a witness holding the
// hashes of its context, prompt, and output alongside the stated
// confidence. Witnesses are stored as ordinary atoms, so they inherit
// the substrate's immutability, bitemporality, and content addressing.
package witness

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"memcore/internal/calibration"
	"memcore/internal/canonical"
	"memcore/internal/errs"
	"memcore/internal/gate"
	"memcore/internal/logging"
	"memcore/internal/store"
)

// Witness atoms use a dedicated modality and media type so they can be
// filtered without parsing content.
const (
	Modality  = "witness"
	MediaType = "application/json+witness"
)

// Band buckets a confidence for coarse filtering.
type Band string

const (
	BandA Band = "A" // >= 0.85
	BandB Band = "B" // 0.70 - 0.84
	BandC Band = "C" // < 0.70
)

// BandFor maps a confidence to its band.
func BandFor(confidence float64) Band {
	switch {
	case confidence >= 0.85:
		return BandA
	case confidence >= 0.70:
		return BandB
	default:
		return BandC
	}
}

// Witness is one sealed execution record. The ID is the content address
// of the atom carrying it, assigned at store time.
type Witness struct {
	ID            string `json:"id,omitempty"`
	ModelID       string `json:"model_id"`
	ModelProvider string `json:"model_provider,omitempty"`
	WeightsHash   string `json:"weights_hash,omitempty"`

	// SnapshotID binds the witness to the store snapshot whose atoms
	// formed the model's context; replay rematerializes exactly that
	// snapshot. ContextHash covers the rendered context text.
	SnapshotID  string `json:"context_snapshot_id,omitempty"`
	ContextHash string `json:"context_hash"`
	PromptHash  string `json:"prompt_hash"`
	OutputHash  string `json:"output_hash"`

	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`

	// Tools the execution invoked, with a hash over their parameters.
	ToolIDs        []string `json:"tool_ids,omitempty"`
	ToolParamsHash string   `json:"tool_params_hash,omitempty"`

	Confidence float64  `json:"confidence"`
	Band       Band     `json:"band"`
	ECEScore   *float64 `json:"ece_score,omitempty"`

	Criticality   string  `json:"criticality,omitempty"`
	GateThreshold float64 `json:"gate_threshold,omitempty"`

	// GatePassed records the gate verdict when the creation was gated;
	// nil means no gate was consulted.
	GatePassed *bool `json:"gate_passed,omitempty"`

	// Sampling controls replay re-executes with.
	Seed        int64   `json:"seed"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// LowEvidence marks a confidence that was defaulted, not stated.
	LowEvidence bool `json:"low_evidence,omitempty"`

	// Sources are the atom ids whose content informed the output;
	// Parents are earlier witnesses this one builds on.
	Sources []string `json:"sources,omitempty"`
	Parents []string `json:"parents,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Params describes one execution to seal.
type Params struct {
	ModelID       string
	ModelProvider string
	WeightsHash   string

	// SnapshotID names the store snapshot the context came from.
	SnapshotID string
	Context    string
	Prompt     string
	Output     string

	PromptTokens int
	OutputTokens int

	ToolIDs    []string
	ToolParams string

	Criticality string

	Seed        int64
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int

	// Confidence overrides extraction when non-negative. Leave at -1 to
	// have the stated confidence read out of Output.
	Confidence float64

	// ECEScore is the calibrator's expected calibration error at seal
	// time, when the caller tracks one.
	ECEScore *float64

	Sources []string
	Parents []string
}

// Generator creates and stores witnesses.
type Generator struct {
	mem   *store.MemoryStore
	clock func() time.Time
}

// NewGenerator creates a generator over a memory store.
func NewGenerator(mem *store.MemoryStore) *Generator {
	return &Generator{mem: mem, clock: time.Now}
}

// SetClock replaces the wall clock. Test hook.
func (g *Generator) SetClock(fn func() time.Time) { g.clock = fn }

// Create seals an execution into a witness without storing it. A
// caller-stated confidence wins over extraction; with neither, the
// extractor's cautious default applies and the witness is marked low
// evidence.
func (g *Generator) Create(p Params) (*Witness, error) {
	if p.ModelID == "" {
		return nil, errs.Validationf("witness requires a model id")
	}
	if p.Output == "" {
		return nil, errs.Validationf("witness requires the output it seals")
	}

	confidence := p.Confidence
	lowEvidence := false
	if confidence < 0 {
		ext := calibration.ExtractConfidence(p.Output)
		confidence = ext.Confidence
		lowEvidence = ext.LowEvidence
	}
	if confidence > 1 {
		return nil, errs.Validationf("confidence %.3f outside [0,1]", confidence)
	}

	w := &Witness{
		ModelID:       p.ModelID,
		ModelProvider: p.ModelProvider,
		WeightsHash:   p.WeightsHash,
		SnapshotID:    p.SnapshotID,
		ContextHash:   canonical.HashText(p.Context),
		PromptHash:    canonical.HashText(p.Prompt),
		OutputHash:    canonical.HashText(p.Output),
		PromptTokens:  p.PromptTokens,
		OutputTokens:  p.OutputTokens,
		TotalTokens:   p.PromptTokens + p.OutputTokens,
		ToolIDs:       p.ToolIDs,
		Confidence:    confidence,
		Band:          BandFor(confidence),
		ECEScore:      p.ECEScore,
		Criticality:   p.Criticality,
		Seed:          p.Seed,
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		TopK:          p.TopK,
		MaxTokens:     p.MaxTokens,
		LowEvidence:   lowEvidence,
		Sources:       p.Sources,
		Parents:       p.Parents,
		CreatedAt:     g.clock().UTC(),
	}
	if p.ToolParams != "" {
		w.ToolParamsHash = canonical.HashText(p.ToolParams)
	}
	return w, nil
}

// CreateChecked seals an execution and passes its confidence through
// the gate at the parameter's criticality. The decision travels back
// with the witness; a critical execution under the hard floor is a
// GateFail error and no witness is produced.
func (g *Generator) CreateChecked(p Params, gt *gate.Gate) (*Witness, *gate.Decision, error) {
	w, err := g.Create(p)
	if err != nil {
		return nil, nil, err
	}
	crit := gate.CriticalityRoutine
	if p.Criticality != "" {
		if crit, err = gate.ParseCriticality(p.Criticality); err != nil {
			return nil, nil, err
		}
	}
	d, err := gt.Check(w.Confidence, crit)
	if err != nil {
		return nil, nil, err
	}
	passed := d.Passed
	w.GatePassed = &passed
	w.GateThreshold = d.Threshold
	w.Criticality = string(crit)
	return w, d, nil
}

// Store writes a witness as an atom. The witness id is the atom's
// content address, so an identical witness stores once.
func (g *Generator) Store(ctx context.Context, w *Witness) (*Witness, error) {
	timer := logging.StartTimer(logging.CategoryWitness, "Store")
	defer timer.Stop()

	w.ID = ""
	body, err := canonical.Marshal(w)
	if err != nil {
		return nil, errs.Validationf("failed to serialize witness: %v", err)
	}

	// Categorical fields become presence tags so numeric filters can
	// select on them.
	tags := map[string]float64{
		"confidence":                              w.Confidence,
		"band_" + strings.ToLower(string(w.Band)): 1,
	}
	if w.Criticality != "" {
		tags["criticality_"+w.Criticality] = 1
	}
	if w.GatePassed != nil {
		if *w.GatePassed {
			tags["gate_passed"] = 1
		} else {
			tags["gate_passed"] = 0
		}
	}
	if w.ECEScore != nil {
		tags["ece"] = *w.ECEScore
	}
	draft := &store.Draft{
		Modality: Modality,
		Content:  store.Content{Inline: string(body), MediaType: MediaType},
		Tags:     tags,
	}
	atom, _, err := g.mem.CreateAtom(ctx, draft)
	if err != nil {
		return nil, err
	}
	w.ID = atom.ID
	logging.Witness("stored witness %s (band %s, confidence %.3f)", w.ID, w.Band, w.Confidence)
	return w, nil
}

// Load reads a witness atom back into its struct.
func (g *Generator) Load(ctx context.Context, id string) (*Witness, error) {
	atom, err := g.mem.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if atom.Modality != Modality {
		return nil, errs.Validationf("atom %s is %s, not a witness", id, atom.Modality)
	}
	var w Witness
	if err := json.Unmarshal([]byte(atom.Content.Inline), &w); err != nil {
		return nil, errs.Corruptionf("undecodable witness %s: %v", id, err)
	}
	w.ID = atom.ID
	return &w, nil
}

// List returns every current witness, oldest first.
func (g *Generator) List(ctx context.Context) ([]*Witness, error) {
	atoms, err := g.mem.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Witness
	for _, a := range atoms {
		if a.Modality != Modality {
			continue
		}
		var w Witness
		if err := json.Unmarshal([]byte(a.Content.Inline), &w); err != nil {
			logging.Get(logging.CategoryWitness).Warnf("skipping undecodable witness %s: %v", a.ID, err)
			continue
		}
		w.ID = a.ID
		out = append(out, &w)
	}
	return out, nil
}
