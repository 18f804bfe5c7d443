package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hdrproxy/core"
	"hdrproxy/pkg/cache"
)

// newCacheCmd groups cache-inspection subcommands that share no state with
// the long-running "serve" endpoint: computing the object key a URL maps
// to (honoring the records cache_generation tunable) and decoding a
// cache-alternate image from disk.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect cache-alternate object keys and images",
	}
	cmd.AddCommand(newCacheKeyCmd())
	cmd.AddCommand(newCacheShowCmd())
	return cmd
}

func newCacheKeyCmd() *cobra.Command {
	var strict string
	cmd := &cobra.Command{
		Use:   "key <url>",
		Short: "Print the object key a URL maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strictness := strictnessFromFlag(strict, rec)
			heap := core.NewHeaderHeap()
			u, err := core.ParseURL(heap, []byte(args[0]), strictness)
			if err != nil {
				return fmt.Errorf("parse url: %w", err)
			}
			generation := core.NoCacheGeneration
			if rec != nil {
				generation = rec.Current().CacheGeneration
			}
			key, err := cache.KeyForURL(u, generation)
			if err != nil {
				return fmt.Errorf("derive object key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&strict, "strictness", "", "off|mostly|strict (default: from records config)")
	return cmd
}

func newCacheShowCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Decode a MarshalAlternate-encoded image and summarize it",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := inputReader(cmd, file)
			if err != nil {
				return err
			}
			defer r.Close()
			raw, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			alt, err := cache.UnmarshalAlternate(raw)
			if err != nil {
				return fmt.Errorf("decode alternate: %w", err)
			}
			req, resp, err := cache.LoadAlternateHeaps(alt)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key=%s generation=%d request_time=%d response_time=%d request_bytes=%d response_bytes=%d fragments=%d\n",
				alt.Key.String(), alt.Generation, alt.RequestTime, alt.ResponseTime,
				len(alt.Request), len(alt.Response), len(alt.FragmentOffsets))
			if req != nil && req.Root != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "request: method=%s\n", req.Root.Method.Bytes())
			}
			if resp != nil && resp.Root != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "response: status=%d\n", resp.Root.StatusCode)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "alternate image file (default stdin)")
	return cmd
}
