package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/link-publisher/internal/retrieval"
)

func newFetchCmd() *cobra.Command {
	var fetchType string
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Retrieve a link's content through the fallback chain and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			mode, err := retrieval.ParseMode(fetchType)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), a.Retriever().FetchAs(cmd.Context(), args[0], mode))
		},
	}
	cmd.Flags().StringVar(&fetchType, "type", "auto", "force the fetch path: auto, wechat, github or webpage")
	return cmd
}
