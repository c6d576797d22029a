package main

import (
	"fmt"

	"github.com/example/go-tts-unlimited/internal/tts"
	"github.com/spf13/cobra"
)

func newVoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices offered by the form",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, id := range tts.NewVoiceManager().IDs() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), id); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
