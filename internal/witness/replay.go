package witness

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"memcore/internal/canonical"
	"memcore/internal/config"
	"memcore/internal/errs"
	"memcore/internal/logging"
)

// Invocation is what a runner receives: the context rematerialized
// from the witness's snapshot, the sealed prompt, and the recorded
// sampling controls.
type Invocation struct {
	Context     string
	Prompt      string
	Seed        int64
	Temperature float64
}

// Runner re-executes a sealed operation. Implementations wrap whatever
// model produced the original output; the seed and temperature let
// deterministic runners reproduce sampling.
type Runner func(ctx context.Context, inv Invocation) (string, error)

// ReplayResult is the verdict for one witness. Success means the
// operation ran to completion; MatchesOriginal means its output hashed
// byte for byte to the sealed hash.
type ReplayResult struct {
	WitnessID       string `json:"witness_id"`
	Success         bool   `json:"success"`
	MatchesOriginal bool   `json:"matches_original"`
	OriginalHash    string `json:"original_hash"`
	ReplayHash      string `json:"replay_hash,omitempty"`
	Error           string `json:"error,omitempty"`
	ElapsedMS       int64  `json:"elapsed_ms"`
}

// ReplayItem pairs a witness with the prompt text to re-run. The
// substrate stores only hashes, so the caller supplies the original
// text and Replay verifies it against the seal first.
type ReplayItem struct {
	WitnessID string
	Prompt    string
}

// Replayer re-executes witnesses and measures reproducibility.
type Replayer struct {
	gen        *Generator
	seedPolicy string
}

// NewReplayer creates a replayer. The seed policy controls whether
// recorded seeds are preserved (the default, for verification) or
// randomized (for load testing, where mismatches are expected).
func NewReplayer(gen *Generator, seedPolicy string) *Replayer {
	if seedPolicy == "" {
		seedPolicy = config.SeedPolicyPreserve
	}
	return &Replayer{gen: gen, seedPolicy: seedPolicy}
}

// Replay re-runs one witness. The prompt must hash to the sealed prompt
// hash; a witness bound to a snapshot has that snapshot rematerialized
// and handed to the runner as context. A runner failure is a result
// with Success false, not an error; only a bad item (unknown witness,
// forged prompt, unloadable snapshot) aborts.
func (r *Replayer) Replay(ctx context.Context, item ReplayItem, run Runner) (*ReplayResult, error) {
	timer := logging.StartTimer(logging.CategoryWitness, "Replay")
	defer timer.Stop()

	w, err := r.gen.Load(ctx, item.WitnessID)
	if err != nil {
		return nil, err
	}
	if canonical.HashText(item.Prompt) != w.PromptHash {
		return nil, errs.Validationf("prompt does not match the sealed prompt hash of witness %s", w.ID)
	}

	var contextText string
	if w.SnapshotID != "" {
		_, atoms, err := r.gen.mem.ReplaySnapshot(ctx, w.SnapshotID)
		if err != nil {
			return nil, fmt.Errorf("failed to materialize context snapshot %s for witness %s: %w", w.SnapshotID, w.ID, err)
		}
		parts := make([]string, 0, len(atoms))
		for _, a := range atoms {
			if a.Text() != "" {
				parts = append(parts, a.Text())
			}
		}
		contextText = strings.Join(parts, "\n\n")
	}

	seed := w.Seed
	if r.seedPolicy == config.SeedPolicyRandomize {
		seed = rand.Int63()
	}

	started := time.Now()
	result := &ReplayResult{WitnessID: w.ID, OriginalHash: w.OutputHash}
	output, err := run(ctx, Invocation{
		Context:     contextText,
		Prompt:      item.Prompt,
		Seed:        seed,
		Temperature: w.Temperature,
	})
	result.ElapsedMS = time.Since(started).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		logging.Witness("replay of witness %s failed: %v", w.ID, err)
		return result, nil
	}

	result.Success = true
	result.ReplayHash = canonical.HashText(output)
	result.MatchesOriginal = result.ReplayHash == w.OutputHash
	if !result.MatchesOriginal {
		logging.Witness("witness %s did not reproduce: %s != %s", w.ID, result.ReplayHash, w.OutputHash)
	}
	return result, nil
}

// BatchReport aggregates a batch replay.
type BatchReport struct {
	Results []ReplayResult `json:"results"`
	// Rate is the fraction of attempts that succeeded and matched the
	// original, in [0,1]. Zero attempts yield zero.
	Rate float64 `json:"reproducibility_rate"`
}

// ReplayBatch re-runs a set of witnesses concurrently and reports the
// reproducibility rate. Individual failures (bad prompt, missing
// witness, runner error) are recorded per item rather than aborting
// the batch.
func (r *Replayer) ReplayBatch(ctx context.Context, items []ReplayItem, run Runner, parallelism int) (*BatchReport, error) {
	if parallelism < 1 {
		parallelism = 4
	}

	results := make([]ReplayResult, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			res, err := r.Replay(gctx, item, run)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[i] = ReplayResult{WitnessID: item.WitnessID, Error: err.Error()}
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &BatchReport{Results: results}
	matched := 0
	for _, res := range results {
		if res.Success && res.MatchesOriginal {
			matched++
		}
	}
	if len(results) > 0 {
		report.Rate = float64(matched) / float64(len(results))
	}
	logging.Witness("batch replay: %d/%d reproduced (rate %.2f)", matched, len(results), report.Rate)
	return report, nil
}
