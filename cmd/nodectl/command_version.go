package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/nodectl/internal/node"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var kind string
	var binary string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the nodectl version, and the node version with --node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "nodectl %s\n", version)
			if kind == "" {
				return nil
			}
			cfg := node.DefaultConfig()
			if binary != "" {
				cfg.Paths = map[string]string{kind: binary}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			v, err := node.NewSupervisor(cfg).Version(ctx, kind)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", kind, v)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "node", "", "also print the version of this node kind (geth or eth)")
	cmd.Flags().StringVar(&binary, "path", "", "node binary to query")
	return cmd
}
