package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/pkg/provenance"
)

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <export.json>",
		Short: "Verify a provenance chain export offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			valid, reason := provenance.VerifyExport(data)
			if !valid {
				return fmt.Errorf("chain export invalid: %s", reason)
			}
			fmt.Println("chain export verified")
			return nil
		},
	}
}
