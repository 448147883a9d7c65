package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pior/dicekv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "dicekv"

// app carries the state shared by every subcommand of one invocation.
type app struct {
	root   *cobra.Command
	v      *viper.Viper
	log    *logrus.Logger
	client *dicekv.Client
}

func newApp() *app {
	a := &app{
		v:   viper.New(),
		log: logrus.New(),
	}
	a.root = a.rootCmd()
	return a
}

// execute runs the command line and closes the client, whatever the outcome.
func (a *app) execute(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	err := a.root.ExecuteContext(ctx)

	if a.client != nil {
		if cerr := a.client.Close(ctx); cerr != nil {
			a.log.WithError(cerr).Warn("close")
		}
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dicekv",
		Short: "Command line client for a dicekv server",
		Long: `dicekv runs commands against a dicekv server.

Request/response commands share a small connection pool; watch commands
stream every change of the watched value until interrupted.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.String("host", "localhost", "server host")
	flags.Int("port", 7379, "server port")
	flags.String("client-id", "", "client id announced by watch connections (generated when empty)")
	flags.Int("pool-size", dicekv.DefaultMaxPoolSize, "maximum number of pooled connections")
	flags.String("pool", "list", "connection pool implementation (list, puddle)")
	flags.Duration("conn-timeout", dicekv.DefaultConnTimeout, "timeout to connect and to acquire a connection")
	flags.Duration("query-timeout", dicekv.DefaultQueryTimeout, "timeout of each command exchange")
	flags.Duration("idle-timeout", dicekv.DefaultIdleTimeout, "close pooled connections unused for this long")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		a.pingCmd(),
		a.getCmd(),
		a.setCmd(),
		a.delCmd(),
		a.incrCmd(),
		a.execCmd(),
		a.watchCmd(),
		a.statsCmd(),
		a.benchCmd(),
		a.replCmd(),
	)
	return root
}

// setup loads the configuration and connects the client.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(a.v.GetString("log-level"))
	if err != nil {
		return err
	}
	a.log.SetLevel(level)
	a.log.SetOutput(cmd.ErrOrStderr())

	cfg, err := a.config()
	if err != nil {
		return err
	}

	client, err := dicekv.NewClient(cfg)
	if err != nil {
		return err
	}
	if err := client.Connect(cmd.Context()); err != nil {
		_ = client.Close(cmd.Context())
		return err
	}
	a.client = client
	return nil
}

func (a *app) config() (dicekv.Config, error) {
	cfg := dicekv.Config{
		Host:         a.v.GetString("host"),
		Port:         a.v.GetInt("port"),
		ClientID:     a.v.GetString("client-id"),
		MaxPoolSize:  a.v.GetInt("pool-size"),
		ConnTimeout:  a.v.GetDuration("conn-timeout"),
		QueryTimeout: a.v.GetDuration("query-timeout"),
		IdleTimeout:  a.v.GetDuration("idle-timeout"),
		Logger:       a.log,
	}

	switch pool := a.v.GetString("pool"); pool {
	case "list", "":
		cfg.Pool = dicekv.NewListPool
	case "puddle":
		cfg.Pool = dicekv.NewPuddlePool
	default:
		return cfg, fmt.Errorf("invalid pool %q", pool)
	}
	return cfg, nil
}
