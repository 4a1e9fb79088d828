package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chapterforge/internal/server"
)

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List the sites books can be fetched from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			sites, err := server.LoadSites(e.cfg.Sites)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDOMAINS")
			for _, s := range sites {
				fmt.Fprintf(tw, "%s\t%s\n", s.Name, strings.Join(s.Domains, ", "))
			}
			return tw.Flush()
		},
	}
}
