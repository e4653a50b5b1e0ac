package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shredlead/clock"
	"shredlead/config"
	"shredlead/logger"
	"shredlead/snapshotlog"
	"shredlead/snapshotstore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the shred-vs-baseline probe continuously, emitting rolling snapshots",
	RunE:  runRun,
}

func init() {
	RootCmd.AddCommand(runCmd)
}

func runRun(_ *cobra.Command, _ []string) error {
	logger.InitLogs("run")
	log := logger.CoreLogger

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pl, err := newPipeline(cfg, log)
	if err != nil {
		return err
	}

	var snapLog *snapshotlog.Writer
	if cfg.SnapshotLogPath != "" {
		snapLog, err = snapshotlog.Open(cfg.SnapshotLogPath)
		if err != nil {
			return err
		}
		defer snapLog.Close()
	}

	var store snapshotstore.Store
	if cfg.ClickhouseEnabled {
		ch, err := snapshotstore.NewClickhouseStore(log)
		if err != nil {
			return err
		}
		if err := ch.CreateTables(); err != nil {
			return err
		}
		store = ch
		defer store.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go pl.run(ctx)

	interval := time.Duration(cfg.SnapshotIntervalSecs) * time.Second
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-tick.C:
			snaps := pl.snapshots(clock.Now())
			if snapLog != nil {
				if err := snapLog.WriteAll(snaps); err != nil {
					log.Error("snapshot log write failed", "err", err)
				}
			}
			if store != nil {
				if err := store.InsertSnapshots(snaps); err != nil {
					log.Error("snapshot store insert failed", "err", err)
				}
			}
		}
	}
}
