package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"contractflow/api/internal/identity"
)

var keyFlags struct {
	campaign   string
	influencer string
	contract   string
	strategy   string
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Derive the collaboration key for a campaign, influencer and contract",
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy := keyFlags.strategy
		if strategy == "" {
			strategy = cfg.GetString(cfgKeyIDStrategy)
		}
		return writeKey(cmd.OutOrStdout(), strategy, keyFlags.campaign, keyFlags.influencer, keyFlags.contract, flagJSON)
	},
}

func init() {
	f := keyCmd.Flags()
	f.StringVar(&keyFlags.campaign, "campaign", "", "campaign id")
	f.StringVar(&keyFlags.influencer, "influencer", "", "influencer id")
	f.StringVar(&keyFlags.contract, "contract", "", "contract id (optional)")
	f.StringVar(&keyFlags.strategy, "strategy", "", "id strategy: rolling or uuidv5")
}

func writeKey(w io.Writer, strategy, campaign, influencer, contract string, asJSON bool) error {
	key, err := identity.NewDeriver(identity.NewGenerator(strategy)).Derive(campaign, influencer, contract)
	if err != nil {
		return err
	}
	if asJSON {
		return json.NewEncoder(w).Encode(key)
	}
	_, err = fmt.Fprintln(w, key.Composite)
	return err
}
