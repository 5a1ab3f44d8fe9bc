package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"netmon/pkg/config"
	"netmon/pkg/daemon"
	"netmon/pkg/logging"
	"netmon/pkg/plugin"
	"netmon/pkg/targets"
	_ "netmon/plugins/dns"
	_ "netmon/plugins/file"
	_ "netmon/plugins/httpbw"
	_ "netmon/plugins/influxdb"
	_ "netmon/plugins/mtr"
	_ "netmon/plugins/ping"
	_ "netmon/plugins/speedtest"
	_ "netmon/plugins/ws"
	_ "netmon/plugins/zmq"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgFile string
	envFile string

	targetsIn    string
	targetsOut   string
	targetsProbe string
)

var rootCmd = &cobra.Command{
	Use:          "netmon",
	Short:        "Periodic bandwidth and latency monitor",
	Version:      version,
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the monitoring daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile, envFile)

		// The log settings come from the same config, so a broken config is
		// reported with defaults.
		level, format := "info", logging.FormatConsole
		if cfg != nil {
			level, format = cfg.LogLevel, cfg.LogFormat
		}
		log, lerr := logging.New(level, format, os.Stderr)
		if lerr != nil {
			return lerr
		}

		if err != nil {
			var verr *config.ValidationError
			if errors.As(err, &verr) {
				for _, p := range verr.Problems {
					log.Error().Msg(p)
				}
			}
			return err
		}

		log.Info().Str("version", version).EmbedObject(cfg).Msg("configuration loaded")

		if cfg.PIDFile != "" {
			if err := os.WriteFile(cfg.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
				log.Warn().Err(err).Str("path", cfg.PIDFile).Msg("failed to write pid file")
			} else {
				defer os.Remove(cfg.PIDFile)
			}
		}

		d, err := daemon.New(cfg, log)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return d.Run(ctx)
	},
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage latency targets",
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a SmokePing Targets file into a netmon config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := os.Open(targetsIn)
		if err != nil {
			return err
		}
		defer in.Close()

		entries, err := targets.Parse(in)
		if err != nil {
			return err
		}
		f, skipped, err := targets.Convert(entries, targetsProbe)
		if err != nil {
			return err
		}

		out, err := os.Create(targetsOut)
		if err != nil {
			return err
		}
		if err := targets.Encode(out, f); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}

		for _, e := range skipped {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s (probe %s)\n", e.Section, e.Probe)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d targets to %s\n", len(f.LatencyServers), targetsOut)
		return nil
	},
}

func init() {
	bw, lat, outs := plugin.Types()
	startCmd.Long = fmt.Sprintf("Bandwidth probes: %s\nLatency probes: %s\nOutputs: %s",
		strings.Join(bw, ", "), strings.Join(lat, ", "), strings.Join(outs, ", "))

	startCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "optional YAML config file")
	startCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded over the environment")

	convertCmd.Flags().StringVar(&targetsIn, "in", "Targets", "SmokePing Targets file")
	convertCmd.Flags().StringVar(&targetsOut, "out", "config.yaml", "config file to write")
	convertCmd.Flags().StringVar(&targetsProbe, "probe", "icmp", "latency probe to import for (icmp or dns)")

	targetsCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(startCmd, targetsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
