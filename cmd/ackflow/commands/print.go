package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-ackflow/printer"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

type printOptions struct {
	port     string
	baud     int
	transfer string
	noWatch  bool
}

func newPrintCommand(root *rootOptions) *cobra.Command {
	opts := &printOptions{}

	cmd := &cobra.Command{
		Use:   "print FILE",
		Short: "Print a G-code file over a serial port",
		Long: `Print streams FILE to the firmware on the serial port, numbering and
checksumming every line and pacing the stream by the advanced ok telemetry.

With --transfer the file is written to the firmware storage under the given
name instead (M28/M29). The configuration file is watched while printing
and changed flow settings apply to the next ok.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrint(cmd, root, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.port, "port", "p", "", "serial port (default: serial.port from the configuration)")
	flags.IntVarP(&opts.baud, "baud", "b", 0, "baud rate (default: serial.baud from the configuration)")
	flags.StringVar(&opts.transfer, "transfer", "", "write the file to the firmware storage under this name")
	flags.BoolVar(&opts.noWatch, "no-watch", false, "do not reload the configuration file on change")

	return cmd
}

func runPrint(cmd *cobra.Command, root *rootOptions, opts *printOptions, path string) error {
	cfg, log, err := root.load(cmd)
	if err != nil {
		return err
	}

	port := cfg.Serial.Port
	if opts.port != "" {
		port = opts.port
	}
	if port == "" {
		return errors.New("no serial port given, set --port or serial.port")
	}
	baud := cfg.Serial.Baud
	if opts.baud > 0 {
		baud = opts.baud
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	line, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", port, err)
	}
	log.Info("serial port opened", "port", port, "baud", baud)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j := &job{
		cfg:      cfg,
		logger:   log,
		source:   printer.NewLineSource(file),
		transfer: opts.transfer,
	}
	if !opts.noWatch {
		j.watchPath = root.watchPath()
	}

	res, err := j.run(ctx, line)
	if err != nil {
		_ = line.Close()
		return err
	}

	printPairs(cmd.OutOrStdout(), res.rows())

	return res.err
}
