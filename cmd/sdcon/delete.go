package main

import (
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <file.json>",
	Short: "Tear down every VM named in a virtual-topology document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, closeFn, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := cancelOnSignal()
		defer cancel()

		if err := o.Delete(ctx, args[0]); err != nil {
			return err
		}
		saveRunState()
		return nil
	},
}
