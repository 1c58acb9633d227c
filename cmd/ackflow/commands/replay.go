package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arloliu/go-ackflow/internal/sim"
	"github.com/arloliu/go-ackflow/printer"
	"github.com/spf13/cobra"
)

type replayOptions struct {
	planner     int
	command     int
	blockTime   time.Duration
	rejectEvery int
	transfer    string
}

func newReplayCommand(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Replay a G-code file against a simulated firmware",
		Long: `Replay runs FILE through the printer host and the flow controller against
an in-process firmware simulation and prints the session statistics. Use it
to try flow settings without a printer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, root, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.planner, "planner", sim.DefaultPlannerCapacity, "simulated planner buffer size")
	flags.IntVar(&opts.command, "command", sim.DefaultCommandCapacity, "simulated command buffer size")
	flags.DurationVar(&opts.blockTime, "block-time", sim.DefaultBlockTime, "time the simulated planner needs per command")
	flags.IntVar(&opts.rejectEvery, "reject-every", 0, "reject the first transmission of every n-th line (0 disables)")
	flags.StringVar(&opts.transfer, "transfer", "", "replay as a transfer to the firmware storage under this name")

	return cmd
}

func runReplay(cmd *cobra.Command, root *rootOptions, opts *replayOptions, path string) error {
	cfg, log, err := root.load(cmd)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	host, remote := net.Pipe()
	fw, err := sim.New(remote,
		sim.WithPlannerCapacity(opts.planner),
		sim.WithCommandCapacity(opts.command),
		sim.WithBlockTime(opts.blockTime),
		sim.WithRejectEvery(opts.rejectEvery),
		sim.WithLogger(log),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fwCtx, fwCancel := context.WithCancel(ctx)
	defer fwCancel()

	fwDone := make(chan error, 1)
	go func() { fwDone <- fw.Run(fwCtx) }()

	j := &job{
		cfg:      cfg,
		logger:   log,
		source:   printer.NewLineSource(file),
		transfer: opts.transfer,
	}
	res, err := j.run(ctx, host)
	fwCancel()
	if fwErr := <-fwDone; fwErr != nil {
		log.Warn("simulated firmware stopped", "error", fwErr)
	}
	if err != nil {
		return err
	}

	stats := fw.Stats()
	rows := append(res.rows(),
		[2]string{"Firmware accepted", uitoa(stats.Accepted.Load())},
		[2]string{"Firmware rejected", uitoa(stats.Rejected.Load())},
		[2]string{"Firmware overflows", uitoa(stats.Overflows.Load())},
		[2]string{"Planner starved", uitoa(stats.Starved.Load())},
	)
	printPairs(cmd.OutOrStdout(), rows)

	return res.err
}
