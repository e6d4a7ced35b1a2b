package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/smartrecall/internal/app"
	"github.com/ashureev/smartrecall/internal/config"
)

// Flag keys shared through viper. Each can also come from SMARTRECALL_<KEY>.
const (
	keyDB      = "db"
	keyConfig  = "config"
	keyJSON    = "json"
	keySession = "session"
	keyChat    = "chat"
	keyProfile = "profile"
	keyNoCache = "no-cache"
)

// cli carries the state shared by all subcommands.
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix("SMARTRECALL")
	c.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "smartrecall",
		Short:         "SmartRecall CLI: talk to the assistant and manage its sessions",
		Long:          "smartrecall runs assistant turns against the local database and semantic cache, ends sessions, manages carts, explains cache policies and probes a running server's health.",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String(keyDB, "", "SQLite database path (overrides DB_PATH)")
	flags.String(keyConfig, "", "config file (overrides CONFIG_FILE)")
	flags.Bool(keyJSON, false, "print JSON output")
	for _, k := range []string{keyDB, keyConfig, keyJSON} {
		_ = c.v.BindPFlag(k, flags.Lookup(k))
	}

	rootCmd.AddCommand(
		c.newAskCmd(),
		c.newEndSessionCmd(),
		c.newSessionCmd(),
		c.newClassifyCmd(),
		c.newCartCmd(),
		c.newHealthCmd(),
	)
	return rootCmd
}

// loadConfig applies flag overrides on top of the environment.
func (c *cli) loadConfig() (*config.Config, error) {
	if path := c.v.GetString(keyConfig); path != "" {
		if err := os.Setenv("CONFIG_FILE", path); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if db := c.v.GetString(keyDB); db != "" {
		cfg.DBPath = db
	}
	return cfg, nil
}

// withApp builds the application for one command and releases it afterwards.
func (c *cli) withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	runErr := fn(a)
	if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	return runErr
}

func (c *cli) print(cmd *cobra.Command, v any, text string) error {
	if c.v.GetBool(keyJSON) {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}
