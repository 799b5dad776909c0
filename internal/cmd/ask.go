package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PauloHFS/llmcache/internal/llm"
)

type askResult struct {
	Fingerprint llm.Fingerprint   `json:"fingerprint"`
	Cached      bool              `json:"cached"`
	Response    *llm.ChatResponse `json:"response"`
}

func newAskCmd(a *app) *cobra.Command {
	var (
		system      string
		model       string
		output      string
		noCache     bool
		maxTokens   int
		temperature float64
	)

	cmd := &cobra.Command{
		Use:   "ask <prompt...>",
		Short: "Send one chat request through the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var store llm.Store = llm.NewMemoryStore()
			if !noCache {
				b, err := a.openCache(ctx)
				if err != nil {
					return err
				}
				defer b.Close()
				store = b
			}

			client, err := a.newClient(store)
			if err != nil {
				return err
			}

			if model == "" {
				model = client.Model().String()
			}
			req := llm.NewChatRequest(llm.ModelID(model), llm.UserMessage(strings.Join(args, " ")))
			if system != "" {
				req = req.WithInstructions(system)
			}
			if cmd.Flags().Changed("max-tokens") {
				req = req.WithMaxTokens(maxTokens)
			}
			if cmd.Flags().Changed("temperature") {
				req = req.WithTemperature(temperature)
			}

			resp, cached, err := client.MakeRequest(ctx, req)
			if err != nil {
				return err
			}
			fp, err := llm.FingerprintOf(req)
			if err != nil {
				return err
			}

			if output != "" {
				return writeOutput(cmd.OutOrStdout(), output, askResult{
					Fingerprint: fp,
					Cached:      cached,
					Response:    resp,
				})
			}

			printReply(cmd.OutOrStdout(), resp)
			source := "service"
			if cached {
				source = "cache"
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s %s, %d tokens]\n", source, fp.Short(), resp.Usage.TotalTokens)
			return nil
		},
	}

	cmd.Flags().StringVar(&system, "system", "", "instructions sent ahead of the prompt")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model to use (default from LLM_MODEL)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the configured cache")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "limit the completion length")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().StringVarP(&output, "output", "o", "", "print the full response as json or yaml")

	return cmd
}

func printReply(w io.Writer, resp *llm.ChatResponse) {
	msg, _ := resp.FirstMessage()
	if msg.Content != nil {
		fmt.Fprintln(w, *msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		fmt.Fprintf(w, "-> %s(%s)\n", tc.Function.Name, tc.Function.Arguments)
	}
}
