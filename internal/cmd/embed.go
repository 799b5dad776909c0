package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PauloHFS/llmcache/internal/llm"
)

const previewValues = 8

func newEmbedCmd(a *app) *cobra.Command {
	var (
		model      string
		dimensions int
		output     string
	)

	cmd := &cobra.Command{
		Use:   "embed <text...>",
		Short: "Request an embedding vector (never cached)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient(llm.NewMemoryStore())
			if err != nil {
				return err
			}

			req := llm.EmbeddingRequest{
				Model: llm.ModelID(model),
				Input: strings.Join(args, " "),
			}
			if dimensions > 0 {
				req.Dimensions = &dimensions
			}

			resp, err := client.Embed(cmd.Context(), req)
			if err != nil {
				return err
			}

			if output != "" {
				return writeOutput(cmd.OutOrStdout(), output, resp)
			}

			vec := resp.Data[0].Embedding
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "model:      %s\n", resp.Model)
			fmt.Fprintf(w, "dimensions: %d\n", len(vec))

			preview := make([]string, 0, previewValues)
			for _, v := range vec[:min(len(vec), previewValues)] {
				preview = append(preview, fmt.Sprintf("%.6f", v))
			}
			suffix := ""
			if len(vec) > previewValues {
				suffix = ", ..."
			}
			fmt.Fprintf(w, "values:     [%s%s]\n", strings.Join(preview, ", "), suffix)
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "embedding model (default from LLM_EMBEDDING_MODEL)")
	cmd.Flags().IntVar(&dimensions, "dimensions", 0, "truncate vectors to this many dimensions")
	cmd.Flags().StringVarP(&output, "output", "o", "", "print the full response as json or yaml")

	return cmd
}
