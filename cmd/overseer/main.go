package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/CZERTAINLY/Overseer/internal/log"
	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/CZERTAINLY/Overseer/internal/service"
	"github.com/CZERTAINLY/Overseer/internal/tracing"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configName = "overseer.yaml"

var (
	userConfigPath string // /default/config/path/overseer on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	logSink        io.Closer

	flagConfigFilePath string // value of --config flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "overseer")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	rootCmd.PersistentFlags().String("server", service.DefaultServer, "overseer API used by client commands")
	rootCmd.PersistentFlags().Duration("timeout", service.DefaultTimeout, "timeout of client requests")
	mustBind("verbose", "verbose", "OVERSEER_VERBOSE")
	mustBind("client.server", "server", "OVERSEER_SERVER")
	mustBind("client.timeout", "timeout", "OVERSEER_TIMEOUT")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initOverseer

	submitCmd.Flags().StringVarP(&flagSpecFile, "file", "f", "-", "task spec in YAML or JSON, - reads stdin")
	listCmd.Flags().StringVar(&flagSlot, "slot", "", "show only tasks of the slot")
	listCmd.Flags().StringVar(&flagStatus, "status", "", "show only tasks with the status")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("overseer failed", "err", err)
	}
	if logSink != nil {
		_ = logSink.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func mustBind(key, flag, env string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
	if err := viper.BindEnv(key, env); err != nil {
		panic(err)
	}
}

var rootCmd = &cobra.Command{
	Use:          "overseer",
	Short:        "Supervisor of restartable subprocess tasks",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run reads the configuration and serves the supervisor API",
	Args:  cobra.NoArgs,
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of an overseer",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("overseer: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:   %s\n", configPath)
		}
		fmt.Printf("overseer: %s\n", info.Main.Version)
		fmt.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:     %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:    %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.Main.Version
	}
	return "(devel)"
}

func doRun(cmd *cobra.Command, _ []string) error {
	attrs := slog.Group("overseer",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)

	if config.Tracing.Enabled {
		shutdown, err := tracing.Init("overseer", version(), config.Tracing.Output)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				slog.ErrorContext(ctx, "shutting down tracing has failed", "error", err)
			}
		}()
	}

	svc, err := service.New(ctx, config)
	if err != nil {
		return err
	}
	return svc.Do(ctx)
}

func initOverseer(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("OVERSEERCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	var err error
	if configPath == "" {
		configPath = filepath.Join(userConfigPath, configName)
		config, err = storeDefault(configPath)
	} else {
		config, err = loadConfig(configPath)
	}
	if err != nil {
		return err
	}

	// --verbose and OVERSEER_VERBOSE have a precedence over config file
	if viper.GetBool("verbose") {
		config.Service.Verbose = true
	}

	// initialize logging
	sink, err := log.Sink(config.Service.Log)
	if err != nil {
		return fmt.Errorf("opening log %s: %w", config.Service.Log, err)
	}
	logSink = sink
	slog.SetDefault(log.New(sink, config.Service.Verbose))

	slog.Debug("overseer run", "configPath", configPath)
	slog.Debug("overseer run", "config", config)
	return nil
}

func storeDefault(path string) (model.Config, error) {
	cfg := model.DefaultConfig()
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return cfg, fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return cfg, fmt.Errorf("creating file %s: %w", path, err)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	err = enc.Encode(cfg)
	if err != nil {
		return cfg, errors.Join(fmt.Errorf("storing configuration: %w", err), f.Close())
	}
	return cfg, f.Close()
}

func loadConfig(path string) (model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid configuration", d.Attr("detail"))
		}
		return model.Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return *cfg, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
