package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/locdata/locharvest/internal/utils"
	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	closeLogs func() error
)

const (
	LOGO = `	 _            _                           _
	| | ___   ___| |__   __ _ _ ____   _____ ___| |_
	| |/ _ \ / __| '_ \ / _' | '__\ \ / / _ / __| __|
	| | (_) | (__| | | | (_| | |   \ V /  __\__ \ |_
	|_|\___/ \___|_| |_|\__,_|_|    \_/ \___|___/\__|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "locharvest",
	Short: "Harvest loc.gov search results and item records into flat tables.",
	Long: LOGO + `locharvest pages through loc.gov searches, downloads item and resource
records politely, and writes them out as item, resource and file tables.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		closer, err := utils.SetupLogFiles(viper.GetString("logdir"), verbose)
		if err != nil {
			return err
		}
		closeLogs = closer
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLogs == nil {
			return nil
		}
		return closeLogs()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.locharvest.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Print info messages to the console, not only warnings and errors")
	rootCmd.PersistentFlags().String("logdir", "logs", "Directory for log.log and error.log")
	rootCmd.PersistentFlags().String("env", "prod", "loc.gov environment: prod, dev or test")
	rootCmd.PersistentFlags().Float64("pause", 5, "Seconds between requests, also the backoff unit between retries")
	rootCmd.PersistentFlags().String("user-agent", "", "Contact details appended to the locharvest User-Agent")
	rootCmd.PersistentFlags().Int("timeout", 60, "Request timeout in seconds")
	rootCmd.PersistentFlags().Int("max-attempts", 10, "Attempts per request before giving up")
	rootCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default: ~/.config/locharvest/locharvest.sqlite)")
	rootCmd.PersistentFlags().String("output-dir", "output", "Directory that receives one sub-directory per run")

	for key, flag := range map[string]string{
		"logdir":       "logdir",
		"env":          "env",
		"pause":        "pause",
		"user_agent":   "user-agent",
		"timeout":      "timeout",
		"max_attempts": "max-attempts",
		"dbpath":       "dbpath",
		"output_dir":   "output-dir",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Defaults go first so that a freshly created config file carries them.
	viper.SetDefault("env", "prod")
	viper.SetDefault("pause", 5)
	viper.SetDefault("user_agent", "")
	viper.SetDefault("timeout", 60)
	viper.SetDefault("max_attempts", 10)
	viper.SetDefault("per_page", 100)
	viper.SetDefault("buffer", 10)
	viper.SetDefault("logdir", "logs")
	viper.SetDefault("output_dir", "output")
	viper.SetDefault("output_prefix", "")
	viper.SetDefault("dbpath", "")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".locharvest")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("LOCHARVEST")
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := filepath.Join(home, ".locharvest.yaml")
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
