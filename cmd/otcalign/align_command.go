package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ieee0824/otcalign"
	"github.com/ieee0824/otcalign/config"
	"github.com/ieee0824/otcalign/decoder"
	"github.com/ieee0824/otcalign/emission"
	"github.com/ieee0824/otcalign/graph"
	"github.com/ieee0824/otcalign/internal/logging"
	"github.com/ieee0824/otcalign/internal/metrics"
	"github.com/ieee0824/otcalign/results"
	"github.com/ieee0824/otcalign/vocab"
)

type alignFlags struct {
	emissions string
	manifest  string
	testSet   string

	tokens         string
	expDir         string
	store          string
	metricsFile    string
	beam           float64
	workers        int
	bypassWeight   float64
	selfLoopWeight float64
	noBypass       bool
	noSelfLoop     bool
}

func newAlignCommand(ctx *commandContext) *cobra.Command {
	var f alignFlags

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Align a test set and write otc-alignment-<test_set>.txt",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyAlignFlags(cmd, cfg, &f); err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAlign(runCtx, cmd, cfg, &f)
		},
	}

	cmd.Flags().StringVar(&f.emissions, "emissions", "", "Model output file (gob)")
	cmd.Flags().StringVar(&f.manifest, "manifest", "", "Supervision manifest (TSV)")
	cmd.Flags().StringVar(&f.testSet, "test-set", "", "Test set name used in the output file name")
	cmd.Flags().StringVar(&f.tokens, "tokens", "", "tokens.txt (overrides paths.tokens)")
	cmd.Flags().StringVar(&f.expDir, "exp-dir", "", "Output directory (overrides paths.exp_dir)")
	cmd.Flags().StringVar(&f.store, "store", "", "SQLite result store (overrides paths.store)")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-textfile", "", "Prometheus textfile (overrides metrics.textfile)")
	cmd.Flags().Float64Var(&f.beam, "beam", 0, "Beam width (overrides decoding.beam_size)")
	cmd.Flags().IntVarP(&f.workers, "workers", "j", 0, "Concurrent utterances (overrides decoding.num_workers)")
	cmd.Flags().Float64Var(&f.bypassWeight, "bypass-weight", 0, "Bypass arc weight (overrides otc.bypass_weight)")
	cmd.Flags().Float64Var(&f.selfLoopWeight, "self-loop-weight", 0, "Self-loop arc weight (overrides otc.self_loop_weight)")
	cmd.Flags().BoolVar(&f.noBypass, "no-bypass", false, "Disable bypass arcs")
	cmd.Flags().BoolVar(&f.noSelfLoop, "no-self-loop", false, "Disable self-loop arcs")
	_ = cmd.MarkFlagRequired("emissions")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("test-set")
	return cmd
}

func applyAlignFlags(cmd *cobra.Command, cfg *config.Config, f *alignFlags) error {
	changed := cmd.Flags().Changed
	paths := []struct {
		flag string
		val  string
		dst  *string
	}{
		{"tokens", f.tokens, &cfg.Paths.Tokens},
		{"exp-dir", f.expDir, &cfg.Paths.ExpDir},
		{"store", f.store, &cfg.Paths.Store},
		{"metrics-textfile", f.metricsFile, &cfg.Metrics.Textfile},
	}
	for _, p := range paths {
		if !changed(p.flag) {
			continue
		}
		expanded, err := config.ExpandPath(strings.TrimSpace(p.val))
		if err != nil {
			return fmt.Errorf("--%s: %w", p.flag, err)
		}
		*p.dst = expanded
	}
	if changed("beam") {
		cfg.Decoding.BeamSize = f.beam
	}
	if changed("workers") {
		cfg.Decoding.NumWorkers = f.workers
	}
	if changed("bypass-weight") {
		cfg.OTC.BypassWeight = f.bypassWeight
	}
	if changed("self-loop-weight") {
		cfg.OTC.SelfLoopWeight = f.selfLoopWeight
	}
	if f.noBypass {
		cfg.OTC.AllowBypassArc = false
	}
	if f.noSelfLoop {
		cfg.OTC.AllowSelfLoopArc = false
	}
	if strings.TrimSpace(f.testSet) == "" || strings.ContainsAny(f.testSet, "/\\") {
		return fmt.Errorf("invalid --test-set %q", f.testSet)
	}
	if strings.TrimSpace(cfg.Paths.Tokens) == "" {
		return errors.New("no tokens file: pass --tokens or set paths.tokens")
	}
	return cfg.Validate()
}

func graphOptions(cfg *config.Config) graph.Options {
	return graph.Options{
		AllowBypass:    cfg.OTC.AllowBypassArc,
		AllowSelfLoop:  cfg.OTC.AllowSelfLoopArc,
		BypassWeight:   cfg.OTC.BypassWeight,
		SelfLoopWeight: cfg.OTC.SelfLoopWeight,
		RegularWeight:  cfg.OTC.RegularWeight,
	}
}

func decoderConfig(cfg *config.Config) decoder.Config {
	return decoder.Config{
		BeamWidth: cfg.Decoding.BeamSize,
		MaxActive: cfg.Decoding.MaxActiveStates,
		MinActive: cfg.Decoding.MinActiveStates,
	}
}

func settingsSummary(cfg *config.Config) string {
	return fmt.Sprintf("bypass=%t/%g self_loop=%t/%g beam=%g active=[%d,%d] subsampling=%d",
		cfg.OTC.AllowBypassArc, cfg.OTC.BypassWeight,
		cfg.OTC.AllowSelfLoopArc, cfg.OTC.SelfLoopWeight,
		cfg.Decoding.BeamSize, cfg.Decoding.MinActiveStates, cfg.Decoding.MaxActiveStates,
		cfg.Decoding.SubsamplingFactor)
}

func runAlign(ctx context.Context, cmd *cobra.Command, cfg *config.Config, f *alignFlags) error {
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	defer func() { _ = logger.Sync() }()

	runID := uuid.NewString()
	started := time.Now()
	logger = logger.With(zap.String("run_id", runID), zap.String("test_set", f.testSet))

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	v, err := vocab.LoadFile(cfg.Paths.Tokens, cfg.OTC.Token)
	if err != nil {
		return err
	}
	emissionBatches, classes, err := emission.LoadFile(f.emissions)
	if err != nil {
		return fmt.Errorf("load emissions: %w", err)
	}
	if classes != 0 && classes != v.NumClasses() {
		return fmt.Errorf("emissions have %d classes, %s has %d", classes, cfg.Paths.Tokens, v.NumClasses())
	}
	entries, err := otcalign.LoadManifestFile(f.manifest, cfg.Decoding.SubsamplingFactor)
	if err != nil {
		return err
	}
	batches, err := otcalign.Batches(entries, emissionBatches)
	if err != nil {
		return err
	}
	logger.Info("inputs loaded",
		zap.Int("vocab_size", v.Size()),
		zap.Int("batches", len(batches)),
		zap.Int("cuts", len(entries)))

	collector := metrics.NewCollector("otcalign", logger)
	aligner, err := otcalign.New(v,
		otcalign.WithGraphOptions(graphOptions(cfg)),
		otcalign.WithDecoderConfig(decoderConfig(cfg)),
		otcalign.WithPlaceholder(cfg.OTC.Placeholder),
		otcalign.WithAllowTruncate(cfg.Decoding.AllowTruncate),
		otcalign.WithWorkers(cfg.Decoding.NumWorkers),
		otcalign.WithLogger(logger),
		otcalign.WithMetrics(collector),
	)
	if err != nil {
		return err
	}

	var store *results.Store
	if cfg.Paths.Store != "" {
		store, err = results.Open(cfg.Paths.Store)
		if err != nil {
			return err
		}
		defer store.Close()
		run := results.Run{ID: runID, TestSet: f.testSet, StartedAt: started, Settings: settingsSummary(cfg)}
		if err := store.BeginRun(ctx, run); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
	}

	report, err := aligner.AlignDataset(ctx, batches)
	if err != nil {
		return err
	}

	outPath := cfg.OutputPath(f.testSet)
	if err := results.WriteFile(outPath, report.Results); err != nil {
		return err
	}
	if store != nil {
		if err := store.Put(ctx, runID, report.All); err != nil {
			return fmt.Errorf("store results: %w", err)
		}
	}
	if cfg.Metrics.Textfile != "" {
		if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			return err
		}
	}

	if report.Failures != nil {
		logger.Warn("alignment finished with failures", zap.Int("failures", len(report.Failures.Errors)))
	}
	logger.Info("alignment written",
		zap.String("path", outPath),
		zap.Duration("elapsed", time.Since(started)))

	printSummary(cmd, report, outPath, runID)
	return nil
}

func printSummary(cmd *cobra.Command, report *otcalign.DatasetReport, outPath, runID string) {
	var bypass, selfLoop, edits int
	for i := range report.Results {
		r := &report.Results[i]
		bypass += r.Bypass
		selfLoop += r.SelfLoop
		edits += r.EditDistance
	}
	byStatus := make(map[string]int)
	for i := range report.Failed {
		byStatus[report.Failed[i].Status()]++
	}

	rows := [][]string{
		{"run", runID},
		{"batches", strconv.Itoa(report.NumBatches)},
		{"utterances", strconv.Itoa(report.NumUtterances)},
		{"aligned", strconv.Itoa(len(report.Results))},
	}
	for _, s := range []string{metrics.StatusInvalidRef, metrics.StatusFrameRange, metrics.StatusNoViablePath, metrics.StatusOtherFailure} {
		if n := byStatus[s]; n > 0 {
			rows = append(rows, []string{s, strconv.Itoa(n)})
		}
	}
	rows = append(rows,
		[]string{"bypass arcs", strconv.Itoa(bypass)},
		[]string{"self-loop arcs", strconv.Itoa(selfLoop)},
		[]string{"word edits", strconv.Itoa(edits)},
		[]string{"output", outPath},
	)
	writeTable(cmd.OutOrStdout(), []string{"", "VALUE"}, rows, []columnAlignment{alignLeft, alignRight})
}
