package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PauloHFS/llmcache/internal/llm"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the response cache",
	}

	cmd.AddCommand(
		newCacheStatsCmd(a),
		newCacheGetCmd(a),
		newCacheDeleteCmd(a),
		newCachePurgeCmd(a),
	)
	return cmd
}

func newCacheStatsCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entry count and age range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			st, err := b.Stats(cmd.Context())
			if err != nil {
				return err
			}

			if output != "" {
				return writeOutput(cmd.OutOrStdout(), output, st)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "backend\t%s\n", st.Backend)
			if st.Location != "" {
				fmt.Fprintf(w, "location\t%s\n", st.Location)
			}
			fmt.Fprintf(w, "entries\t%d\n", st.Entries)
			if st.Capacity > 0 {
				fmt.Fprintf(w, "capacity\t%d\n", st.Capacity)
			}
			if st.Oldest != nil {
				fmt.Fprintf(w, "oldest\t%s\n", st.Oldest.Format(time.RFC3339))
				fmt.Fprintf(w, "newest\t%s\n", st.Newest.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output format: json or yaml")
	return cmd
}

func parseFingerprint(arg string) (llm.Fingerprint, error) {
	fp := llm.Fingerprint(arg)
	if !fp.Valid() {
		return "", fmt.Errorf("%q is not a fingerprint (want 64 hex characters)", arg)
	}
	return fp, nil
}

func newCacheGetCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <fingerprint>",
		Short: "Print a cached entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := parseFingerprint(args[0])
			if err != nil {
				return err
			}

			b, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			e, ok, err := b.Get(cmd.Context(), fp)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no entry for %s", fp.Short())
			}
			return writeOutput(cmd.OutOrStdout(), output, e)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func newCacheDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <fingerprint>",
		Short: "Remove one cached entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := parseFingerprint(args[0])
			if err != nil {
				return err
			}

			b, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			return b.Delete(cmd.Context(), fp)
		},
	}
}

func newCachePurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			st, err := b.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if err := b.Purge(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries from %s cache\n", st.Entries, st.Backend)
			return nil
		},
	}
}
