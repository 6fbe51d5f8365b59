package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/compose-network/bridge-deployer/bridge-deployer-app/config"
	"github.com/compose-network/bridge-deployer/log"
)

const defaultConfigPath = "bridge-deployer-app/configs/config.yaml"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "bridge-deployer",
		Short: "Cross-chain bridge deployer",
		Long: "Provisions the contracts of every configured bridged token and reconciles their\n" +
			"connections, rate limits and roles until on-chain state matches the configuration.\n" +
			"Runs are idempotent: re-running after a failure resumes where the last run stopped.",
		RunE:          runApp,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Provision and configure every selected token (the default command)",
		RunE:  runApp,
	}

	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Resolve and print the desired state without touching any chain",
		RunE:  runPlan,
	}

	addressesCmd = &cobra.Command{
		Use:   "addresses",
		Short: "Export the recorded resource addresses",
		RunE:  runAddresses,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(runCmd, planCmd, addressesCmd, versionCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")
	rootCmd.PersistentFlags().StringSlice("token", nil, "token id to process (repeatable, default all)")

	// Run flags
	rootCmd.PersistentFlags().String("mode", "", "execution mode (dry-run, live)")
	rootCmd.PersistentFlags().String("output-dir", "", "directory for address maps, summaries and batch files")
	rootCmd.PersistentFlags().Bool("api", false, "serve the status API while running")
	rootCmd.PersistentFlags().String("api-addr", "", "status API listen address")

	addressesCmd.Flags().String("format", "yaml", "output format (yaml, json)")
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = defaultConfigPath
	}
}

// loadConfig loads the config file and applies flags. Commands that print
// to stdout pass os.Stderr for logs.
func loadConfig(cmd *cobra.Command, logOut io.Writer) (*config.Config, log.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, log.Logger{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, log.Logger{}, err
	}
	logger := log.NewWithWriter(logOut, cfg.Log.Level, cfg.Log.Pretty).Module(cmd.Name())
	return cfg, logger, nil
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd, os.Stdout)
	if err != nil {
		return err
	}

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	logger.Info().
		Str("config_file", cfgFile).
		Str("project", cfg.Project).
		Str("deployment_mode", cfg.DeploymentMode).
		Str("mode", cfg.ExecMode().String()).
		Int("networks", len(cfg.Networks)).
		Int("tokens", len(cfg.Tokens)).
		Str("store", cfg.Store.Backend).
		Bool("api_enabled", cfg.API.Enabled).
		Msg("Configuration loaded")

	tokens, _ := cmd.Flags().GetStringSlice("token")
	application, err := NewApp(cmd.Context(), cfg, logger.Logger, WithTokens(tokens...))
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runVersion(*cobra.Command, []string) {
	fmt.Printf("Bridge Deployer\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flag("log-level").Changed {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flag("log-pretty").Changed {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}

	if cmd.Flag("mode").Changed {
		cfg.Mode, _ = cmd.Flags().GetString("mode")
	}
	if cmd.Flag("output-dir").Changed {
		cfg.OutputDir, _ = cmd.Flags().GetString("output-dir")
	}

	if cmd.Flag("api").Changed {
		cfg.API.Enabled, _ = cmd.Flags().GetBool("api")
	}
	if cmd.Flag("api-addr").Changed {
		cfg.API.ListenAddr, _ = cmd.Flags().GetString("api-addr")
	}

	// Flags bypass Load's validation.
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}
