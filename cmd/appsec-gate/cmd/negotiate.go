package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
)

var negotiateCmd = &cobra.Command{
	Use:   "negotiate [accept-header]",
	Short: "Show the block content type chosen for an Accept header",
	Long: `Print the block page format an automatic block response would use for
the given Accept header value. With no argument the request is treated as
having no Accept header, which selects JSON.

Examples:
  appsec-gate negotiate 'text/html,application/json;q=0.9'
  appsec-gate negotiate ''`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		accept, present := "", false
		if len(args) == 1 {
			accept, present = args[0], true
		}
		writeNegotiation(cmd.OutOrStdout(), accept, present)
	},
}

func init() {
	rootCmd.AddCommand(negotiateCmd)
}

func writeNegotiation(w io.Writer, accept string, present bool) {
	ct := blocking.Negotiate(accept, present)
	fmt.Fprintf(w, "%s\t%s\n", ct, ct.HeaderValue())
}
