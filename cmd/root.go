package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"steadytls/internal/banner"
	"steadytls/internal/logging"
)

const envPrefix = "STEADYTLS"

var (
	cfgFile   string
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "steadytls",
	Short: "steadytls - HTTPS micro-benchmark driver",
	Long: `
steadytls drives a controlled, concurrent stream of HTTPS requests against a
target with explicit control over TLS version, cipher suites and connection
reuse, and reports latency percentiles and throughput.

Commands:
  run      benchmark a target (headless by default, --tui for the dashboard)
  dummy    start a local HTTPS target to benchmark against
  history  browse previous runs`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := logging.Setup(logging.Options{
			Level: viper.GetString("log-level"),
			File:  viper.GetString("log-file"),
			JSON:  viper.GetBool("log-json"),
		})
		if err != nil {
			return err
		}
		logCloser = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(runCmd, dummyCmd, historyCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.steadytls.yaml)")
	pf.String("log-level", "warn", "log level (trace, debug, info, warn, error)")
	pf.String("log-file", "", "write logs to this file (rotated) instead of stderr")
	pf.Bool("log-json", false, "log as JSON")
	cobra.CheckErr(viper.BindPFlags(pf))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".steadytls")
		}
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("file", viper.ConfigFileUsed()).Debug("Using config file")
	} else if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
	}
}
