package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	redsocks "github.com/impostorkeanu/redsocks-go"
	redsocksconfig "github.com/impostorkeanu/redsocks-go/config"
	"github.com/impostorkeanu/redsocks-go/destaddr"
	"github.com/impostorkeanu/redsocks-go/dnstc"
)

func newRunCmd() *cobra.Command {
	var configPath, pidFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a configuration file and serve until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			code := runMain(configPath, pidFile)
			if code != exitClean {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/redsocks.toml", "path to the TOML configuration file")
	cmd.Flags().StringVar(&pidFile, "pidfile", "", "write the process id to this path")
	return cmd
}

func runMain(configPath, pidFile string) int {
	cfg, err := redsocksconfig.LoadFile(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitInitFailure
	}

	log, err := buildLogger(cfg.Base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		return exitInitFailure
	}
	defer log.Sync()

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			log.Error("failed to write pidfile", zap.Error(err))
			return exitInitFailure
		}
		defer os.Remove(pidFile)
	}

	if err := dropPrivileges(cfg.Base, log); err != nil {
		log.Error("failed to drop privileges", zap.Error(err))
		return exitInitFailure
	}

	resolver, err := destaddr.New(destaddr.Backend(cfg.Base.Redirector))
	if err != nil {
		log.Error("failed to initialize destination resolver", zap.Error(err))
		return exitInitFailure
	}
	if closer, ok := resolver.(destaddr.Closer); ok {
		defer closer.Close()
	}

	var instances []*redsocks.Instance
	for _, instCfg := range cfg.Instances {
		inst, err := redsocks.NewInstance(instCfg, resolver, log)
		if err != nil {
			log.Error("failed to build instance", zap.Error(err))
			return exitInitFailure
		}
		if err := inst.Start(); err != nil {
			log.Error("failed to start instance", zap.Error(err))
			return exitInitFailure
		}
		instances = append(instances, inst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, d := range cfg.DNSTC {
		d := d
		go func() {
			if err := dnstc.Serve(ctx, dnstc.Opts{Addr: d.Addr, Port: d.Port}, log.Z()); err != nil && ctx.Err() == nil {
				log.Error("dnstc listener stopped unexpectedly", zap.Error(err))
			}
		}()
	}

	return waitForSignal(instances, log)
}

// waitForSignal blocks until a shutdown signal arrives, handling SIGUSR1
// as a diagnostics trigger (spec §6) in the meantime.
func waitForSignal(instances []*redsocks.Instance, log *redsocks.Logger) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			redsocks.DumpDiagnostics(log)
		default:
			log.Info("received shutdown signal", zap.String("signal", sig.String()))
			for _, inst := range instances {
				inst.Stop()
			}
			return exitClean
		}
	}
	return exitClean
}

func buildLogger(base redsocks.BaseConfig) (*redsocks.Logger, error) {
	level := "info"
	if base.Debug {
		level = "debug"
	}

	if base.LogDest == "syslog" {
		return buildSyslogLogger(level)
	}

	var outputs []string
	switch base.LogDest {
	case "", "stdout":
		outputs = []string{"stdout"}
	case "stderr":
		outputs = []string{"stderr"}
	default:
		outputs = []string{base.LogDest}
	}
	return redsocks.NewLogger(level, outputs, []string{"stderr"})
}

// buildSyslogLogger wires a zap core onto stdlib log/syslog: no repo in
// the pack ships a zap-to-syslog core, and this is thin plumbing around
// the real ambient logging dependency (zap), not a hand-rolled
// replacement for it (see DESIGN.md).
func buildSyslogLogger(level string) (*redsocks.Logger, error) {
	writer, err := newSyslogWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to open syslog: %w", err)
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey:  "message",
		LevelKey:    "level",
		TimeKey:     "time",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer, lvl)
	return redsocks.NewLoggerFromZap(zap.New(core)), nil
}
