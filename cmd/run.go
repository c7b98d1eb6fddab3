package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/URNOTCharlotte/msquic/perfclient"
)

var runCmd = &cobra.Command{
	Use:   "run [-name:value ...]",
	Short: "run a load generation scenario",
	Long: `run parses a perfclient scenario in the "-name:value" grammar
(e.g. "-target:127.0.0.1 -conns:100 -requests:1 -upload:1000 -download:1000")
and drives it until completion or until -runtime elapses.`,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScenario(args)
	},
}

func init() {
	RootCmd.AddCommand(runCmd)
}

func runScenario(args []string) error {
	log := logrus.StandardLogger()

	client := perfclient.New(log)
	if err := client.Init(args); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received interrupt, shutting down")
		cancel()
	}()

	start := time.Now()
	if err := client.Start(ctx); err != nil {
		return err
	}

	go client.RunIntervalReports(ctx, os.Stdout, client.Interval)

	client.Wait(ctx, client.RunTime)
	elapsed := time.Since(start)

	report := client.Finalize(elapsed)
	return client.PrintFinalReport(os.Stdout, report, true)
}
