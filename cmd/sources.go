package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/news-archive-harvester/internal/adapter"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the registered sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, key := range adapter.Keys() {
				a, err := adapter.Lookup(key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-10s %s\n", key, a.Granularity(), a.Name())
			}
			return nil
		},
	}
}
