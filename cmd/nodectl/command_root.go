package main

import "github.com/spf13/cobra"

const version = "0.1.0"

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nodectl",
		Short:         "Start, supervise and share a local Ethereum node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	return root
}
