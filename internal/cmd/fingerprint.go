package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/PauloHFS/llmcache/internal/llm"
)

func newFingerprintCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <request.json|->",
		Short: "Print the cache fingerprint of a request document",
		Long: "Reads a request document (model, instructions, messages, tools, ...) and prints the\n" +
			"fingerprint it is cached under. A missing model is filled from LLM_MODEL.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read request: %w", err)
			}

			var req llm.ChatRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("failed to decode request: %w", err)
			}
			if req.Model() == "" {
				req = req.WithModel(llm.ModelID(a.cfg.LLM.Model))
			}

			fp, err := llm.FingerprintOf(req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), fp)
			return nil
		},
	}
}
