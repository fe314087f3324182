package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"image-analyzer/internal/analyzer"
	"image-analyzer/internal/memory"
	"image-analyzer/internal/metrics"
	"image-analyzer/internal/pipeline"
	"image-analyzer/internal/runenv"
	"image-analyzer/internal/startup"
)

func newRunCommand(a *app) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Analyze every image under the input directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), quiet)
		},
	}

	cfg := &a.cfg
	flags := cmd.Flags()
	flags.StringVarP(&cfg.Analyzers, "analyzers", "a", cfg.Analyzers, "Comma list of metadata, caption, vision_language (ANALYZERS)")
	flags.StringVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "sequential or pool (CONCURRENCY)")
	flags.IntVarP(&cfg.MaxWorkers, "workers", "w", cfg.MaxWorkers, "Pool size cap (MAX_WORKERS)")
	flags.BoolVarP(&cfg.ForceReprocess, "force", "f", cfg.ForceReprocess, "Reanalyze files with complete records (FORCE_REPROCESS)")
	flags.BoolVar(&cfg.GenerateSummaries, "summaries", cfg.GenerateSummaries, "Write roll-up files after the batch (GENERATE_SUMMARIES)")
	flags.StringVar(&cfg.HashAlgorithm, "hash", cfg.HashAlgorithm, "Fingerprint algorithm (HASH_ALGORITHM)")
	flags.StringVar(&cfg.ImageExtensions, "extensions", cfg.ImageExtensions, "Image extension allow-list (IMAGE_EXTENSIONS)")
	flags.StringVar(&cfg.ExcludePatterns, "exclude", cfg.ExcludePatterns, "Comma list of glob patterns to skip (EXCLUDE_PATTERNS)")
	flags.BoolVar(&cfg.IncludeHidden, "include-hidden", cfg.IncludeHidden, "Scan dot files and directories (INCLUDE_HIDDEN)")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Status server listen address (METRICS_ADDR)")
	flags.StringVar(&cfg.CaptionURL, "caption-url", cfg.CaptionURL, "Interrogator base URL (CAPTION_API_URL)")
	flags.StringVar(&cfg.CaptionModes, "caption-modes", cfg.CaptionModes, "Comma list of caption modes (CAPTION_MODES)")
	flags.StringVar(&cfg.VisionProvider, "vision-provider", cfg.VisionProvider, "ollama or openai (VISION_PROVIDER)")
	flags.StringVar(&cfg.VisionURL, "vision-url", cfg.VisionURL, "Vision-language API base URL (VISION_API_URL)")
	flags.StringVar(&cfg.VisionModels, "vision-model", cfg.VisionModels, "Comma list of vision-language models (VISION_MODEL)")
	flags.StringVar(&cfg.VisionPrompt, "prompt", cfg.VisionPrompt, "Prompt sent with every image (VISION_PROMPT)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Do not render progress")

	return cmd
}

func (a *app) run(ctx context.Context, quiet bool) error {
	log := a.log
	startup.PrintBanner(a.stderr, log)
	startup.LogSystemInfo(log)
	memory.ConfigureFromEnv(log)

	if err := a.loadConfig(); err != nil {
		return err
	}
	startup.LogConfig(log, &a.cfg)

	m := metrics.New()
	m.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
	env := runenv.New(log, m)

	log.Section("ANALYZERS")
	analyzers, err := analyzer.Build(a.cfg.AnalyzerConfig(), log)
	if err != nil {
		return startupError(err)
	}
	for _, an := range analyzers {
		log.Info("  [OK] %s (%s retry policy)", an.Name(), an.Category())
	}

	opts := a.cfg.PipelineOptions(analyzers)
	if !quiet {
		opts.ProgressOut = a.stderr
	}

	mon := memory.NewMonitor(memory.DefaultConfig(), log, memory.WithObserver(m))
	if mon.Enabled() {
		monCtx, stopMon := context.WithCancel(ctx)
		defer stopMon()
		go mon.Run(monCtx)
		opts.Throttle = mon
	}

	batch := pipeline.NewBatch(env, opts)

	if a.cfg.MetricsAddr != "" {
		srv := metrics.NewServer(a.cfg.MetricsAddr, m, func() any { return batch.Snapshot() }, log)
		if err := srv.Start(); err != nil {
			return startupError(err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("Status server shutdown: %v", err)
			}
		}()
	}

	log.Section("BATCH " + env.ShortRunID())
	res, err := batch.Run(ctx)
	if err != nil {
		return startupError(err)
	}

	printReport(a.stdout, res)

	if code := pipeline.ExitCode(res, nil); code != pipeline.ExitOK {
		return &exitError{code: code}
	}
	return nil
}
