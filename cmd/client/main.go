package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Wa4h1h/tftp-engine/pkg/client"
	"github.com/Wa4h1h/tftp-engine/pkg/discovery"
	"github.com/Wa4h1h/tftp-engine/pkg/events"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

var (
	logLevel = utils.GetEnv[string]("TFTP_LOG_LEVEL", "info", false)
	timeout  = utils.GetEnv[time.Duration]("TFTP_TIMEOUT", "1s", false)
	numTries = utils.GetEnv[int]("TFTP_NUM_TRIES", "5", false)
)

type options struct {
	level    string
	mode     string
	timeout  time.Duration
	numTries int
	trace    bool
}

func (o *options) logger() *zap.SugaredLogger {
	return utils.NewLogger(o.level).Sugar()
}

func (o *options) client(l *zap.SugaredLogger) ([]client.Option, error) {
	mode, err := types.ParseMode(o.mode)
	if err != nil {
		return nil, err
	}

	opts := []client.Option{
		client.WithTimeout(o.timeout),
		client.WithNumTries(o.numTries),
		client.WithMode(mode),
		client.WithEvents(events.Log(l)),
	}

	if o.trace {
		opts = append(opts, client.WithTrace())
	}

	return opts, nil
}

func main() {
	o := new(options)

	cmd := &cobra.Command{
		Use:   "tftp",
		Short: "Move files to and from a TFTP server",
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.level, "log-level", logLevel, "Log level")
	flags.StringVar(&o.mode, "mode", string(types.ModeOctet), "Transfer mode (octet or netascii)")
	flags.DurationVar(&o.timeout, "timeout", timeout, "Retransmission timeout")
	flags.IntVar(&o.numTries, "retries", numTries, "Timeouts before a transfer fails")
	flags.BoolVar(&o.trace, "trace", false, "Log every block")

	cmd.AddCommand(getCmd(o), putCmd(o), shellCmd(o), discoverCmd())

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

func getCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <server> <remote file> [local file]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := o.logger()
			defer l.Sync() //nolint:errcheck

			opts, err := o.client(l)
			if err != nil {
				return err
			}

			local := ""
			if len(args) == 3 {
				local = args[2]
			}

			res, err := client.Download(cmd.Context(), l, args[0], args[1], local, opts...)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Received %d bytes in %s (%s)\n", res.Bytes, res.Duration.Round(time.Millisecond), res.Stats)

			return nil
		},
	}
}

func putCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "put <server> <local file> [remote file]",
		Short: "Upload a file",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := o.logger()
			defer l.Sync() //nolint:errcheck

			opts, err := o.client(l)
			if err != nil {
				return err
			}

			remote := ""
			if len(args) == 3 {
				remote = args[2]
			}

			res, err := client.Upload(cmd.Context(), l, args[0], args[1], remote, opts...)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sent %d bytes in %s (%s)\n", res.Bytes, res.Duration.Round(time.Millisecond), res.Stats)

			return nil
		},
	}
}

func shellCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shell [server]",
		Short: "Interactive prompt",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := o.logger()
			defer l.Sync() //nolint:errcheck

			opts, err := o.client(l)
			if err != nil {
				return err
			}

			c := client.NewClient(l, opts...)

			defer func() {
				if err := c.Close(); err != nil {
					l.Error(err.Error())
				}
			}()

			if len(args) == 1 {
				if err := c.Connect(args[0]); err != nil {
					return err
				}
			}

			return client.NewCli(l, c, cmd.InOrStdin(), cmd.OutOrStdout()).Read(cmd.Context())
		},
	}
}

func discoverCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List TFTP servers announced over mDNS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			seen := make(map[string]bool)

			return discovery.Browse(ctx, func(svc discovery.Service) {
				if seen[svc.Name] {
					return
				}

				seen[svc.Name] = true
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", svc.Name, svc.Address(), svc.Text["root"])
			})
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "How long to listen for announcements")

	return cmd
}
