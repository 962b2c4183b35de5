package main

import (
	"fmt"
	"os"

	"colonrate/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logger = logrus.New()

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "colonrate",
		Short:         "Poisson rate models of early-onset colon cancer incidence",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				config.LoadDotEnv(envFile)
			} else {
				config.LoadDotEnv()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Env file to load (default .env when present)")

	rootCmd.AddCommand(
		newDescribeCmd(),
		newFitCmd(),
		newPredictCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and configures the logger from it
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level, _ := logrus.ParseLevel(cfg.Log.Level)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)
	return cfg, nil
}
