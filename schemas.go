package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevemurr/typed-doc-server/model"
)

var schemasCmd = &cobra.Command{
	Use:   "schemas [collection]",
	Short: "Print the JSON schema of registered collections",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := make(map[string]any)
		for _, info := range model.All() {
			out[info.Name] = info.Schema()
		}
		var v any = out
		if len(args) == 1 {
			info, ok := model.LookupName(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", model.ErrNotRegistered, args[0])
			}
			v = info.Schema()
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	},
}

func init() {
	rootCmd.AddCommand(schemasCmd)
}
