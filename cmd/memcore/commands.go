package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"memcore/internal/config"
	"memcore/internal/embedding"
	"memcore/internal/gate"
	"memcore/internal/index"
	"memcore/internal/logging"
	"memcore/internal/retrieval"
	"memcore/internal/store"
	"memcore/internal/witness"
)

// app bundles the opened subsystems for one command invocation.
type app struct {
	cfg     *config.Config
	mem     *store.MemoryStore
	ix      *index.Index
	audit   *logging.AuditLog
	esc     *gate.Escalator
	escPath string
}

func openApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Logging.Level, cfg.Logging.Development); err != nil {
		return nil, err
	}

	mem, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	audit, err := logging.OpenAudit(filepath.Join(cfg.MemoryPath, "audit.log"))
	if err != nil {
		mem.Close()
		return nil, err
	}
	mem.SetAudit(audit)

	// The escalation queue lives next to the store so resolutions in a
	// later invocation see what earlier ones raised.
	escPath := filepath.Join(cfg.MemoryPath, "escalations.json")
	esc, err := gate.LoadEscalator(escPath)
	if err != nil {
		mem.Close()
		return nil, err
	}

	engine, err := embedding.New(cfg.Embedding)
	if err != nil {
		mem.Close()
		return nil, err
	}
	ix := index.New(engine, index.NewMemoryVectors())
	mem.SetIndexHook(ix)

	// The node forest lives in memory; rebuild it from current atoms
	// so queries see everything, not just this process's writes.
	ctx := context.Background()
	atoms, err := mem.List(ctx)
	if err != nil {
		mem.Close()
		return nil, err
	}
	for _, a := range atoms {
		if a.Content.Inline == "" || a.Priority() < cfg.LazyIndexThreshold {
			continue
		}
		if err := ix.IndexAtom(ctx, a); err != nil {
			logging.Get(logging.CategoryIndex).Warnf("failed to index atom %s: %v", a.ID, err)
		}
	}

	return &app{cfg: cfg, mem: mem, ix: ix, audit: audit, esc: esc, escPath: escPath}, nil
}

// raise files an escalation, persists the queue, and audits it.
func (a *app) raise(description string, d *gate.Decision) (*gate.Escalation, error) {
	esc := a.esc.Raise(description, d)
	if err := a.esc.Save(a.escPath); err != nil {
		return nil, err
	}
	a.audit.Record(logging.AuditEscalation, esc.ID, map[string]interface{}{
		"priority": esc.Priority,
	})
	return esc, nil
}

func (a *app) close() {
	a.mem.Close()
	a.audit.Close()
	logging.Sync()
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "memcore",
		Short:         "Content-addressed bitemporal memory substrate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config")

	withApp := func(fn func(a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			return fn(a, cmd, args)
		}
	}

	// ====== ATOMS ======

	var modality, mediaType, correlation string
	var tagPairs []string
	ingest := &cobra.Command{
		Use:   "ingest [text]",
		Short: "Store text as a new atom (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			text, err := textArgOrStdin(args)
			if err != nil {
				return err
			}
			tags, err := parseTags(tagPairs)
			if err != nil {
				return err
			}
			atom, created, err := a.mem.CreateAtom(cmd.Context(), &store.Draft{
				Modality:      modality,
				Content:       store.Content{Inline: text, MediaType: mediaType},
				Tags:          tags,
				CorrelationID: correlation,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s (created=%v)\n", atom.ID, created)
			return nil
		}),
	}
	ingest.Flags().StringVar(&modality, "modality", "text", "atom modality")
	ingest.Flags().StringVar(&mediaType, "media-type", "text/plain", "content media type")
	ingest.Flags().StringSliceVar(&tagPairs, "tag", nil, "tag as name=weight (repeatable)")
	ingest.Flags().StringVar(&correlation, "correlation", "", "external correlation id")
	root.AddCommand(ingest)

	var asOf string
	get := &cobra.Command{
		Use:   "get <atom-id>",
		Short: "Show the current revision of an atom",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			if asOf != "" {
				at, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("bad --as-of value: %w", err)
				}
				atom, err := a.mem.GetAsOf(cmd.Context(), args[0], at)
				if err != nil {
					return err
				}
				return printJSON(atom)
			}
			atom, err := a.mem.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(atom)
		}),
	}
	get.Flags().StringVar(&asOf, "as-of", "", "show the revision visible at this RFC3339 time")
	root.AddCommand(get)

	var listModality, listTag, listAsOf, listCorrelation string
	var listMinWeight float64
	var listValidTime bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List current atoms, optionally filtered or as of a past time",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			var atoms []*store.Atom
			var err error
			switch {
			case listAsOf != "":
				at, perr := time.Parse(time.RFC3339, listAsOf)
				if perr != nil {
					return fmt.Errorf("bad --as-of value: %w", perr)
				}
				atoms, err = a.mem.AsOfView(cmd.Context(), at, !listValidTime)
			default:
				atoms, err = a.mem.ListFiltered(cmd.Context(), store.Filter{
					Modality:      listModality,
					Tag:           listTag,
					MinWeight:     listMinWeight,
					CorrelationID: listCorrelation,
				})
			}
			if err != nil {
				return err
			}
			for _, atom := range atoms {
				preview := atom.Content.Inline
				if len(preview) > 60 {
					preview = preview[:57] + "..."
				}
				fmt.Printf("%s  %-10s  %s\n", atom.ID, atom.Modality, strings.ReplaceAll(preview, "\n", " "))
			}
			return nil
		}),
	}
	list.Flags().StringVar(&listModality, "modality", "", "keep only this modality")
	list.Flags().StringVar(&listTag, "tag", "", "keep only atoms carrying this tag")
	list.Flags().Float64Var(&listMinWeight, "min-weight", 0, "minimum weight for --tag")
	list.Flags().StringVar(&listCorrelation, "correlation", "", "keep only atoms with this correlation id")
	list.Flags().StringVar(&listAsOf, "as-of", "", "view the store at this RFC3339 time")
	list.Flags().BoolVar(&listValidTime, "valid-time", false, "interpret --as-of on the valid-time axis")
	root.AddCommand(list)

	root.AddCommand(&cobra.Command{
		Use:   "history <atom-id>",
		Short: "Show every revision of an atom",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			revs, err := a.mem.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(revs)
		}),
	})

	supersede := &cobra.Command{
		Use:   "supersede <atom-id> [text]",
		Short: "Replace the current revision of an atom",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			text, err := textArgOrStdin(args[1:])
			if err != nil {
				return err
			}
			tags, err := parseTags(tagPairs)
			if err != nil {
				return err
			}
			atom, err := a.mem.Supersede(cmd.Context(), args[0], &store.Draft{
				Modality:      modality,
				Content:       store.Content{Inline: text, MediaType: mediaType},
				Tags:          tags,
				CorrelationID: correlation,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s superseded at %s\n", atom.ID, store.FormatTime(atom.TTStart))
			return nil
		}),
	}
	supersede.Flags().StringVar(&modality, "modality", "text", "atom modality")
	supersede.Flags().StringVar(&mediaType, "media-type", "text/plain", "content media type")
	supersede.Flags().StringSliceVar(&tagPairs, "tag", nil, "tag as name=weight (repeatable)")
	supersede.Flags().StringVar(&correlation, "correlation", "", "external correlation id")
	root.AddCommand(supersede)

	// ====== SNAPSHOTS ======

	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Create and inspect snapshots",
	}
	var note string
	snapCreate := &cobra.Command{
		Use:   "create [atom-id...]",
		Short: "Seal the given atoms (or all current atoms) into a snapshot",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			var ids []string
			if len(args) > 0 {
				ids = args
			}
			s, err := a.mem.CreateSnapshot(cmd.Context(), ids, note)
			if err != nil {
				return err
			}
			return printJSON(s)
		}),
	}
	snapCreate.Flags().StringVar(&note, "note", "", "snapshot note (part of the id)")
	snapshot.AddCommand(snapCreate)

	snapshot.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			snaps, err := a.mem.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range snaps {
				fmt.Printf("%s  %d atoms  %s  %s\n", s.ID, s.Stats.AtomCount, store.FormatTime(s.CreatedAt), s.Note)
			}
			return nil
		}),
	})

	snapshot.AddCommand(&cobra.Command{
		Use:   "replay <snapshot-id>",
		Short: "Verify a snapshot and print its sealed atoms",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			s, atoms, err := a.mem.ReplaySnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("snapshot %s verified (%d atoms)\n", s.ID, len(atoms))
			return printJSON(atoms)
		}),
	})
	root.AddCommand(snapshot)

	// ====== RETRIEVAL ======

	var budget int
	var queryLevel string
	query := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve context for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			r := retrieval.New(a.cfg, a.ix)
			sel, err := r.Retrieve(cmd.Context(), retrieval.Request{
				Query:       strings.Join(args, " "),
				TokenBudget: budget,
				Level:       queryLevel,
			})
			if err != nil {
				return err
			}
			return printJSON(sel)
		}),
	}
	query.Flags().IntVar(&budget, "budget", 0, "token budget override")
	query.Flags().StringVar(&queryLevel, "level", "", "index level to query (document, section, paragraph, sentence)")
	root.AddCommand(query)

	// ====== WITNESSES ======

	wit := &cobra.Command{
		Use:   "witness",
		Short: "Seal and inspect execution witnesses",
	}
	var wModel, wProvider, wContext, wPrompt, wCriticality, wSnapshot string
	var wConfidence, wTemperature float64
	var wSeed int64
	witCreate := &cobra.Command{
		Use:   "create [output]",
		Short: "Seal an execution as a witness (reads output from stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			output, err := textArgOrStdin(args)
			if err != nil {
				return err
			}
			g := witness.NewGenerator(a.mem)
			w, decision, err := g.CreateChecked(witness.Params{
				ModelID:       wModel,
				ModelProvider: wProvider,
				SnapshotID:    wSnapshot,
				Context:       wContext,
				Prompt:        wPrompt,
				Output:        output,
				Criticality:   wCriticality,
				Confidence:    wConfidence,
				Seed:          wSeed,
				Temperature:   wTemperature,
			}, gate.New(a.cfg.Gate))
			if err != nil {
				return err
			}
			stored, err := g.Store(cmd.Context(), w)
			if err != nil {
				return err
			}
			a.audit.Record(logging.AuditWitnessStore, stored.ID, map[string]interface{}{
				"band":       string(stored.Band),
				"confidence": stored.Confidence,
			})
			out := map[string]interface{}{
				"witness": stored,
				"gate":    decision,
			}
			if decision.Escalate {
				esc, err := a.raise(fmt.Sprintf("witness %s: %s", stored.ID, decision.Reason), decision)
				if err != nil {
					return err
				}
				out["escalation"] = esc
			}
			return printJSON(out)
		}),
	}
	witCreate.Flags().StringVar(&wModel, "model", "", "model identifier")
	witCreate.Flags().StringVar(&wProvider, "provider", "", "model provider")
	witCreate.Flags().StringVar(&wSnapshot, "snapshot", "", "snapshot id the context came from")
	witCreate.Flags().StringVar(&wContext, "context", "", "context that informed the output")
	witCreate.Flags().StringVar(&wPrompt, "prompt", "", "prompt that produced the output")
	witCreate.Flags().StringVar(&wCriticality, "criticality", "routine", "action criticality")
	witCreate.Flags().Float64Var(&wConfidence, "confidence", -1, "stated confidence (-1 extracts from output)")
	witCreate.Flags().Int64Var(&wSeed, "seed", 0, "sampling seed")
	witCreate.Flags().Float64Var(&wTemperature, "temperature", 0, "sampling temperature")
	wit.AddCommand(witCreate)

	wit.AddCommand(&cobra.Command{
		Use:   "show <witness-id>",
		Short: "Show a stored witness",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			g := witness.NewGenerator(a.mem)
			w, err := g.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(w)
		}),
	})

	wit.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored witnesses",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			g := witness.NewGenerator(a.mem)
			witnesses, err := g.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, w := range witnesses {
				fmt.Printf("%s  band=%s  confidence=%.2f  model=%s\n", w.ID, w.Band, w.Confidence, w.ModelID)
			}
			return nil
		}),
	})
	root.AddCommand(wit)

	// ====== GATE ======

	var gCriticality, gDescription string
	gateCheck := &cobra.Command{
		Use:   "gate <confidence>",
		Short: "Check a stated confidence against the criticality thresholds",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			var confidence float64
			if _, err := fmt.Sscanf(args[0], "%g", &confidence); err != nil {
				return fmt.Errorf("confidence %q is not a number", args[0])
			}
			crit, err := gate.ParseCriticality(gCriticality)
			if err != nil {
				return err
			}
			g := gate.New(a.cfg.Gate)
			d, err := g.Check(confidence, crit)
			if err != nil {
				return err
			}
			a.audit.Record(logging.AuditGateDecision, string(d.Criticality), map[string]interface{}{
				"passed":     d.Passed,
				"escalate":   d.Escalate,
				"confidence": d.Confidence,
				"threshold":  d.Threshold,
			})
			if d.Escalate {
				esc, err := a.raise(gDescription, d)
				if err != nil {
					return err
				}
				return printJSON(map[string]interface{}{
					"decision":   d,
					"escalation": esc,
				})
			}
			return printJSON(d)
		}),
	}
	gateCheck.Flags().StringVar(&gCriticality, "criticality", "routine", "action criticality")
	gateCheck.Flags().StringVar(&gDescription, "description", "", "what the gated action would do")
	root.AddCommand(gateCheck)

	// ====== ESCALATIONS ======

	escalations := &cobra.Command{
		Use:   "escalations",
		Short: "Review and resolve pending escalations",
	}

	escalations.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending escalations, highest priority first",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			for _, esc := range a.esc.Pending() {
				fmt.Printf("%s  %-9s  priority=%.3f  confidence=%.2f/%.2f  %s\n",
					esc.ID, esc.Criticality, esc.Priority, esc.Confidence, esc.Threshold, esc.Description)
			}
			return printJSON(a.esc.Stats())
		}),
	})

	var escApprove, escReject bool
	var escNote string
	escResolve := &cobra.Command{
		Use:   "resolve <escalation-id>",
		Short: "Approve or reject a pending escalation",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			if escApprove == escReject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			resolved, err := a.esc.Resolve(args[0], escApprove, escNote)
			if err != nil {
				return err
			}
			if err := a.esc.Save(a.escPath); err != nil {
				return err
			}
			a.audit.Record(logging.AuditEscalation, resolved.ID, map[string]interface{}{
				"status": string(resolved.Status),
				"note":   resolved.Note,
			})
			return printJSON(resolved)
		}),
	}
	escResolve.Flags().BoolVar(&escApprove, "approve", false, "approve the escalated action")
	escResolve.Flags().BoolVar(&escReject, "reject", false, "reject the escalated action")
	escResolve.Flags().StringVar(&escNote, "note", "", "reviewer note (required for rejections)")
	escalations.AddCommand(escResolve)
	root.AddCommand(escalations)

	// ====== MAINTENANCE ======

	root.AddCommand(&cobra.Command{
		Use:   "integrity",
		Short: "Rescan durable storage and report damage",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			report, err := a.mem.Integrity(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(report)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show store and index statistics",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			storeStats, err := a.mem.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"store": storeStats,
				"index": a.ix.Stats(),
			})
		}),
	})

	return root
}

func textArgOrStdin(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func parseTags(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("tag %q is not name=weight", pair)
		}
		var w float64
		if _, err := fmt.Sscanf(value, "%g", &w); err != nil {
			return nil, fmt.Errorf("tag %q has a non-numeric weight", pair)
		}
		tags[name] = w
	}
	return tags, nil
}
