package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/config"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/mastodon"
)

// Version is set at build time.
var Version = "v0.1.0-dev"

var (
	configPath string
	envFile    string
	portFlag   string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "diffusebot",
	Short: "Mastodon bot that draws prompts and hosts a guess-the-prompt game",
	Long: `diffusebot listens to its Mastodon user stream and answers mentions.

  #diffuse_me <prompt>          render the prompt and reply with the images
  #diffuse_game <prompt>        start a game with a hidden prompt
  #diffuse_game_stop            stop the running game (questioner only)

Configuration comes from the environment, an optional .env file, the
./config directory (access_token.txt, endpoint_url.txt, toot_listen_start.txt,
toot_listen_end.txt, proc_kwargs.json) and an optional YAML file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if portFlag != "" {
			cfg.Port = portFlag
		}
		return cfg.Validate()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), cfg)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen to the stream and serve the admin API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), cfg)
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Check the access token and print the bot account",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := mastodon.New(cfg.EndpointURL, cfg.AccessToken)
		me, err := client.VerifyCredentials(cmd.Context())
		if err != nil {
			return fmt.Errorf("verify credentials: %w", err)
		}
		fmt.Printf("acct: %s\nurl:  %s\n", me.Acct, me.URL)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("diffusebot %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load if present")
	rootCmd.PersistentFlags().StringVar(&portFlag, "port", "", "port for the admin API (overrides PORT)")
	rootCmd.AddCommand(runCmd, whoamiCmd, versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
