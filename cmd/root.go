package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sunbk201/clickrelay/internal/api"
	"github.com/sunbk201/clickrelay/internal/config"
	"github.com/sunbk201/clickrelay/internal/daemon"
	"github.com/sunbk201/clickrelay/internal/log"
	"github.com/sunbk201/clickrelay/internal/server"
	"github.com/sunbk201/clickrelay/internal/statistics"
)

var (
	AppVersion    = "Development"
	shutdownChain []func() error
)

var rootCmd = &cobra.Command{
	Use:   "clickrelay",
	Short: "clickrelay relays landing page visits to a click tracker",
	Long:  "clickrelay hosts a landing page, resolves every visit against a click tracker's click API and replays the tracker's verdict (redirect, page body, headers, cookies) to the visitor.",
	RunE:  runRoot,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Short flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringP("tracker", "t", "", "Tracker URL")
	rootCmd.PersistentFlags().StringP("token", "k", "", "Campaign token")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Surface tracker errors and print the relay log")
	rootCmd.Flags().StringP("bind", "b", "", "Bind address")
	rootCmd.Flags().IntP("port", "p", 0, "Port")
	rootCmd.Flags().BoolP("version", "v", false, "Show version")

	// Long flags
	rootCmd.PersistentFlags().Bool("insecure", false, "Skip tracker TLS verification")
	rootCmd.Flags().Bool("send-all-params", false, "Forward every query parameter to the tracker")
	rootCmd.Flags().Bool("send-utm-labels", false, "Forward utm_* query parameters to the tracker")
	rootCmd.Flags().Bool("no-sessions", false, "Disable visitor sessions")
	rootCmd.Flags().String("template", "", "Landing page html/template file")
	rootCmd.Flags().String("api", "", "Admin API listen address")
	rootCmd.Flags().String("api-secret", "", "Admin API secret")

	// Bind all flags to viper using consistent key names
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("tracker.url", rootCmd.PersistentFlags().Lookup("tracker"))
	_ = viper.BindPFlag("tracker.campaign-token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("tracker.debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("tracker.insecure-skip-verify", rootCmd.PersistentFlags().Lookup("insecure"))
	_ = viper.BindPFlag("bind-address", rootCmd.Flags().Lookup("bind"))
	_ = viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tracker.send-all-params", rootCmd.Flags().Lookup("send-all-params"))
	_ = viper.BindPFlag("tracker.send-utm-labels", rootCmd.Flags().Lookup("send-utm-labels"))
	_ = viper.BindPFlag("landing.template", rootCmd.Flags().Lookup("template"))
	_ = viper.BindPFlag("api.address", rootCmd.Flags().Lookup("api"))
	_ = viper.BindPFlag("api.secret", rootCmd.Flags().Lookup("api-secret"))

	// Bind environment variables, e.g. CLICKRELAY_TRACKER_CAMPAIGN_TOKEN
	viper.SetEnvPrefix("CLICKRELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func initConfig() {
	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.MergeInConfig(); err != nil {
			slog.Error("Failed to read config file", slog.Any("error", err))
			os.Exit(1)
		}
	}

	config.SetDefaults()
}

func runRoot(cmd *cobra.Command, args []string) error {
	// Handle -v / --version
	showVer, _ := cmd.Flags().GetBool("version")
	if showVer {
		fmt.Printf("clickrelay version %s\n", AppVersion)
		return nil
	}

	if noSessions, _ := cmd.Flags().GetBool("no-sessions"); noSessions {
		viper.Set("session.enabled", false)
	}

	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	broadcaster := log.NewBroadcaster()
	log.SetLogConf(cfg.LogLevel, broadcaster)
	log.LogHeader(AppVersion, cfg)
	daemon.Setup()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	addShutdown("recorder.Stop", func() error {
		cancel()
		return nil
	})

	var landing *server.Server
	recorder := statistics.NewRecorder(log.GetStatsFilePath("resolves"), reg, func() int {
		if landing == nil || landing.Sessions() == nil {
			return 0
		}
		return landing.Sessions().Store().Len()
	})
	recorder.Start(ctx)

	landing, err = server.New(cfg, recorder)
	if err != nil {
		slog.Error("server.New", slog.Any("error", err))
		shutdown()
		return err
	}
	addShutdown("landing.Close", landing.Close)
	if err := landing.Start(); err != nil {
		slog.Error("landing.Start", slog.Any("error", err))
		shutdown()
		return err
	}

	if cfg.API.Address != "" {
		apiServer := api.New(cfg.API.Address, AppVersion, cfg, landing, recorder, reg, broadcaster)
		addShutdown("apiServer.Close", apiServer.Close)
		if err := apiServer.Start(); err != nil {
			slog.Error("apiServer.Start", slog.Any("error", err))
			shutdown()
			return err
		}
	}

	cleanup := make(chan os.Signal, 1)
	signal.Notify(cleanup, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	for {
		s := <-cleanup
		slog.Info("Received signal", slog.String("signal", s.String()))
		switch s {
		case syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM:
			shutdown()
			return nil
		case syscall.SIGHUP:
		default:
			return nil
		}
	}
}

func addShutdown(name string, fn func() error) {
	shutdownChain = append(shutdownChain, func() error {
		if err := fn(); err != nil {
			slog.Error(name, slog.Any("error", err))
			return err
		}
		return nil
	})
}

func shutdown() {
	for i := len(shutdownChain) - 1; i >= 0; i-- {
		_ = shutdownChain[i]()
	}
	slog.Info("clickrelay exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
