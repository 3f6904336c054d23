package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Wa4h1h/tftp-engine/pkg/discovery"
	"github.com/Wa4h1h/tftp-engine/pkg/events"
	"github.com/Wa4h1h/tftp-engine/pkg/server"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

var (
	tftpAddress = utils.GetEnv[string]("TFTP_ADDRESS", "", false)
	tftpPort    = utils.GetEnv[string]("TFTP_PORT", "69", false)
	tftpBaseDir = utils.GetEnv[string]("TFTP_BASE_DIR", "", false)
	logLevel    = utils.GetEnv[string]("TFTP_LOG_LEVEL", "info", false)
	timeout     = utils.GetEnv[time.Duration]("TFTP_TIMEOUT", "1s", false)
	numTries    = utils.GetEnv[int]("TFTP_NUM_TRIES", "5", false)
	maxSessions = utils.GetEnv[int]("TFTP_MAX_SESSIONS", "0", false)
	readOnly    = utils.GetEnv[bool]("TFTP_READ_ONLY", "false", false)
)

func main() {
	cfg := server.DefaultConfig()

	var (
		level           string
		mdns            bool
		mdnsName        string
		noOverwrite     bool
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "tftpd",
		Short: "Serve a directory over TFTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Root == "" {
				cfg.Root = utils.UserHomeDirPath()
			}

			cfg.AllowOverwrite = !noOverwrite

			return run(cmd.Context(), cfg, level, mdns, mdnsName, shutdownTimeout)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Address, "address", tftpAddress, "Address to bind")
	flags.StringVar(&cfg.Port, "port", tftpPort, "Port to listen on")
	flags.StringVar(&cfg.Root, "root", tftpBaseDir, "Directory to serve (defaults to ~/tftp)")
	flags.DurationVar(&cfg.Timeout, "timeout", timeout, "Retransmission timeout")
	flags.IntVar(&cfg.NumTries, "retries", numTries, "Timeouts before a transfer fails")
	flags.DurationVar(&cfg.Dally, "dally", 0, "How long a finished upload answers a repeated last block (0 = timeout, <0 = off)")
	flags.IntVar(&cfg.MaxSessions, "max-sessions", maxSessions, "Concurrent transfers, 0 for no limit")
	flags.BoolVar(&cfg.ReadOnly, "read-only", readOnly, "Refuse write requests")
	flags.BoolVar(&noOverwrite, "no-overwrite", false, "Refuse write requests for existing files")
	flags.IntVar(&cfg.TOS, "tos", 0, "IPv4 TOS byte for transfer sockets")
	flags.BoolVar(&cfg.Trace, "trace", false, "Log every block")
	flags.StringVar(&level, "log-level", logLevel, "Log level")
	flags.BoolVar(&mdns, "mdns", false, "Announce the server over mDNS")
	flags.StringVar(&mdnsName, "mdns-name", "tftp", "mDNS instance name")
	flags.DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "How long to wait for running transfers on shutdown")

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg server.Config, level string, mdns bool, mdnsName string, shutdownTimeout time.Duration) error {
	logger := utils.NewLogger(level)
	defer logger.Sync() //nolint:errcheck

	l := logger.Sugar()
	cfg.Events = events.Log(l)

	s, err := server.NewServer(l, cfg)
	if err != nil {
		return err
	}

	if err := s.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mdns {
		go announce(ctx, l.Named("mdns"), s.Addr(), mdnsName, cfg.Root)
	}

	<-ctx.Done()
	stop()

	l.Info("shutting down, waiting for running transfers")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("error while shutting down: %w", err)
	}

	l.Infof("closed connection on %s", s.Addr())

	return nil
}

func announce(ctx context.Context, l *zap.SugaredLogger, addr net.Addr, name, root string) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		l.Errorf("error while reading listen port: %s", err.Error())

		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		l.Errorf("error while parsing listen port: %s", err.Error())

		return
	}

	svc := discovery.Service{Name: name, Port: port, Text: map[string]string{"root": root}}

	if err := discovery.Announce(ctx, svc); err != nil {
		l.Errorf("error while announcing: %s", err.Error())
	}
}
