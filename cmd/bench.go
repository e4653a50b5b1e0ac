package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"shredlead/bench"
	"shredlead/clock"
	"shredlead/config"
	"shredlead/logger"
	"shredlead/types"
)

var benchDurationSecs uint64
var benchOutputPath string

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the probe for a fixed duration and emit one JSON report",
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().Uint64Var(&benchDurationSecs, "duration", 60, "benchmark duration in seconds")
	benchCmd.Flags().StringVar(&benchOutputPath, "output", "", "write the report to this path instead of stdout")
	RootCmd.AddCommand(benchCmd)
}

func runBench(_ *cobra.Command, _ []string) error {
	logger.InitLogs("bench")
	log := logger.BenchLogger

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("bench: no sources configured")
	}

	pl, err := newPipeline(cfg, log)
	if err != nil {
		return err
	}

	ids := make([]types.SourceId, 0, len(pl.sources))
	for _, src := range pl.sources {
		ids = append(ids, src.Id())
	}

	fmt.Fprintf(os.Stderr, "shredlead bench — running for %ds with %d source(s)...\n", benchDurationSecs, len(ids))

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(benchDurationSecs)*time.Second)
	defer cancel()
	go pl.run(ctx)

	progress := time.NewTicker(10 * time.Second)
	defer progress.Stop()
	elapsedSecs := uint64(0)

	for {
		select {
		case <-ctx.Done():
			report := bench.Build(pl.agg, ids, benchDurationSecs, clock.Now())
			if err := bench.WriteJSON(report, benchOutputPath); err != nil {
				return err
			}
			if benchOutputPath != "" {
				fmt.Fprintf(os.Stderr, "Report written to %s\n", benchOutputPath)
			}
			return nil
		case <-progress.C:
			elapsedSecs += 10
			fmt.Fprintf(os.Stderr, "  ...%ds / %ds\n", elapsedSecs, benchDurationSecs)
		}
	}
}
