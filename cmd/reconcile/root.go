package main

import (
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type cli struct {
	out      io.Writer
	errOut   io.Writer
	logLevel string
	logger   *log.Entry
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "reconcile",
		Short:         "Reconcile orders against supplier shipments and carrier tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setupLogger()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level: debug|info|warn|error")

	root.AddCommand(newRunCmd(c), newHistoryCmd(c), newVersionCmd(c))
	return root
}

func (c *cli) setupLogger() error {
	level, err := log.ParseLevel(c.logLevel)
	if err != nil {
		return err
	}
	logger := log.New()
	logger.SetOutput(c.errOut)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger.SetLevel(level)
	c.logger = logger.WithField("component", "reconcile-cli")
	return nil
}
