// Command memoria walks a raw media-export archive, detects which
// supported source produced it, and runs that source's preprocess and
// finalize stages to build a normalized, metadata-rich media library
// under an output directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"memoria/internal/config"
	"memoria/internal/logging"
	"memoria/internal/preprocess/discord"
	"memoria/internal/preprocess/googlechat"
	"memoria/internal/preprocess/googlephotos"
	"memoria/internal/preprocess/googlevoice"
	"memoria/internal/preprocess/imessage"
	"memoria/internal/preprocess/instagrammessages"
	"memoria/internal/preprocess/instagrampublic"
	"memoria/internal/preprocess/snapchatmemories"
	"memoria/internal/preprocess/snapchatmessages"
	"memoria/internal/registry"
)

const lockFilename = ".memoria.lock"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// buildRegistry registers every supported source in the fixed priority
// order DetectAll sorts by; registration order only matters for ties.
func buildRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register(googlephotos.Processor{})
	reg.Register(googlechat.Processor{})
	reg.Register(googlevoice.Processor{})
	reg.Register(snapchatmessages.Processor{})
	reg.Register(snapchatmemories.Processor{})
	reg.Register(instagrammessages.Processor{})
	reg.Register(instagrampublic.Processor{})
	reg.Register(discord.Processor{})
	reg.Register(imessage.Processor{})
	return reg
}

func newRootCommand() *cobra.Command {
	var (
		outputDir      string
		configFlag     string
		processorFlag  string
		workers        int
		skipUpload     bool
		verbose        bool
		listProcessors bool
	)

	cmd := &cobra.Command{
		Use:           "memoria INPUT_DIR",
		Short:         "Normalize a raw media-export archive into a metadata-rich library",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if listProcessors {
				return nil
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := buildRegistry()

			if listProcessors {
				printProcessorTable(cmd.OutOrStdout(), reg)
				return nil
			}

			cfg, err := config.Load(configFlag)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.InputDir = args[0]
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}
			if workers > 0 {
				cfg.Workers = workers
			}
			if skipUpload {
				cfg.SkipUpload = true
			}
			if verbose {
				cfg.LogLevel = "debug"
			}
			inputDir, err := config.ExpandPath(cfg.InputDir)
			if err != nil {
				return fmt.Errorf("resolve input_dir: %w", err)
			}
			cfg.InputDir = inputDir
			if cfg.OutputDir != "" {
				expanded, err := config.ExpandPath(cfg.OutputDir)
				if err != nil {
					return fmt.Errorf("resolve output_dir: %w", err)
				}
				cfg.OutputDir = expanded
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			logger = logging.NewComponentLogger(logger, "memoria")

			if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
				return fmt.Errorf("create output_dir: %w", err)
			}

			lock := flock.New(filepath.Join(cfg.OutputDir, lockFilename))
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire output lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("output directory %s is locked by another run", cfg.OutputDir)
			}
			defer func() { _ = lock.Unlock() }()

			var candidates []registry.Processor
			if processorFlag != "" {
				p, ok := reg.ByName(processorFlag)
				if !ok {
					return fmt.Errorf("unknown processor %q", processorFlag)
				}
				if !p.Detect(cfg.InputDir) {
					return fmt.Errorf("processor %q does not recognize %s", processorFlag, cfg.InputDir)
				}
				candidates = []registry.Processor{p}
			} else {
				candidates = reg.DetectAll(cfg.InputDir)
			}

			if len(candidates) == 0 {
				return fmt.Errorf("no processor recognized %s", cfg.InputDir)
			}

			opts := registry.Options{
				Workers:      cfg.Workers,
				SkipUpload:   cfg.SkipUpload,
				Verbose:      verbose,
				ExifToolPath: cfg.ExifToolPath,
			}

			var names []string
			var failed []string
			for _, p := range candidates {
				names = append(names, p.Name())
				logger.Info("processing started", "processor", p.Name())
				if err := p.Process(cmd.Context(), cfg.InputDir, cfg.OutputDir, opts); err != nil {
					logger.Error("processing failed", "processor", p.Name(), "error", err.Error())
					failed = append(failed, fmt.Sprintf("%s: %v", p.Name(), err))
					continue
				}
				logger.Info("processing finished", "processor", p.Name())
			}

			if verbose {
				printRunSummary(cmd.OutOrStdout(), names, failed)
			}

			if len(failed) > 0 {
				return fmt.Errorf("%d processor(s) failed:\n%s", len(failed), strings.Join(failed, "\n"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory for the normalized library")
	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&processorFlag, "processor", "", "Force a specific processor by name instead of auto-detecting")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker pool size (0 picks NumCPU-1)")
	cmd.Flags().BoolVar(&skipUpload, "skip-upload", false, "Skip any upload step a processor supports")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging and a run summary table")
	cmd.Flags().BoolVar(&listProcessors, "list-processors", false, "List registered processors and exit")

	return cmd
}

func printProcessorTable(w io.Writer, reg *registry.Registry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Name", "Priority", "Consolidates"})

	procs := reg.All()
	sort.Slice(procs, func(i, j int) bool { return procs[i].Priority() > procs[j].Priority() })
	for _, p := range procs {
		tw.AppendRow(table.Row{p.Name(), p.Priority(), p.SupportsConsolidation()})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignCenter},
	})
	tw.Render()
}

func printRunSummary(w io.Writer, attempted, failed []string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Processor", "Result"})

	failedSet := make(map[string]bool, len(failed))
	for _, f := range failed {
		name := f
		if idx := strings.Index(f, ":"); idx >= 0 {
			name = f[:idx]
		}
		failedSet[name] = true
	}
	for _, name := range attempted {
		result := "ok"
		if failedSet[name] {
			result = "failed"
		}
		tw.AppendRow(table.Row{name, result})
	}
	tw.Render()
}
