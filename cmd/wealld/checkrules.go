package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weallnet/weall/rules"
)

func init() {
	rootCmd.AddCommand(checkRulesCmd)
}

var checkRulesCmd = &cobra.Command{
	Use:   "check-rules <file>",
	Short: "Validate a rule definition file without starting the engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := rules.LoadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ok: version %d, weighting %s, %d proposal classes\n",
			def.Version, def.Weighting, len(def.ProposalClasses))
		return nil
	},
}
