package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flagConfig string
	flagJSON   bool

	cfg *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:           "contractctl",
	Short:         "Offline tools for ContractFlow contract templates",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}
		cfg = v
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./contractctl.yaml if present)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(migrateCmd)
}
