package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jrife/strata/persistence"
	"github.com/jrife/strata/utils/lane"
	"github.com/jrife/strata/utils/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "STRATA"

type app struct {
	out        io.Writer
	v          *viper.Viper
	configFile string
	logger     *zap.Logger
	manager    *persistence.Manager
}

func newApp(out io.Writer) *app {
	return &app{
		out:    out,
		v:      viper.New(),
		logger: zap.NewNop(),
	}
}

func (a *app) execute(args []string) error {
	rootCmd := a.rootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(a.out)

	err := rootCmd.Execute()

	if closeErr := a.close(); err == nil {
		err = closeErr
	}

	return err
}

func (a *app) rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "strata",
		Short:             "Inspect and reload a strata store",
		SilenceUsage:      true,
		PersistentPreRunE: a.start,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("data-dir", ".", "directory holding the store file")
	flags.String("schema-dir", ".", "directory holding the schema resource")
	flags.String("app-id", persistence.DefaultAppID, "names the schema resource and the store file")
	flags.String("backend", persistence.DefaultBackend, "kv backend (bbolt or memory)")
	flags.Bool("no-sync", false, "skip fsync on commit")
	flags.String("error-policy", string(persistence.ErrorPolicyFirst), "failure reported when several tiers fail (first or last)")
	flags.String("chain-policy", string(persistence.ChainPolicyQueue), "what to do with a chain submitted while another is in flight (queue or reject)")
	flags.String("log-level", "info", "log level")

	rootCmd.AddCommand(
		a.reloadCommand(),
		a.listCommand(),
		a.countCommand(),
		a.schemaCommand(),
	)

	return rootCmd
}

// bindFlags makes every flag visible to viper under its
// config key, e.g. --data-dir becomes data_dir
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error

	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Name == "config" || err != nil {
			return
		}

		err = v.BindPFlag(strings.ReplaceAll(flag.Name, "-", "_"), flag)
	})

	return err
}

func (a *app) loadConfig(cmd *cobra.Command) (persistence.Config, error) {
	var config persistence.Config

	if err := bindFlags(a.v, cmd.Root().PersistentFlags()); err != nil {
		return config, fmt.Errorf("could not bind flags: %w", err)
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	if a.configFile != "" {
		a.v.SetConfigFile(a.configFile)

		if err := a.v.ReadInConfig(); err != nil {
			return config, fmt.Errorf("could not read config file %s: %w", a.configFile, err)
		}
	}

	if err := a.v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("could not decode config: %w", err)
	}

	return config, nil
}

func (a *app) start(cmd *cobra.Command, args []string) error {
	config, err := a.loadConfig(cmd)

	if err != nil {
		return err
	}

	logger, err := log.New(a.v.GetString("log_level"))

	if err != nil {
		return err
	}

	a.logger = logger
	config.Logger = logger

	manager, err := persistence.New(config)

	if err != nil {
		return err
	}

	a.manager = manager

	return nil
}

func (a *app) close() error {
	defer a.logger.Sync()

	if a.manager == nil {
		return nil
	}

	err := a.manager.Close()
	a.manager = nil

	return err
}

// onMain runs fn on the main lane and returns its error
func (a *app) onMain(fn func(token lane.Token) error) error {
	var err error

	if laneErr := a.manager.Main().Lane().PerformAndWait(func(token lane.Token) {
		err = fn(token)
	}); laneErr != nil {
		return laneErr
	}

	return err
}
