// Command hdrctl is a small operator CLI around the header-heap arena: it
// parses a message from a file or stdin, round-trips it through
// marshal/unmarshal to sanity-check the encoding, inspects the object
// cache, and can run a debug HTTP endpoint over the same machinery.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hdrproxy/core"
	"hdrproxy/internal/records"
)

var (
	envFile    string
	configFile string
	rec        *records.Records
	log        = logrus.New()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hdrctl",
		Short:         "Inspect and exercise the header-heap arena",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			core.InitTokenTable()
			if envFile != "" {
				_ = godotenv.Load(envFile) // optional: absence is not an error
			}
			rec = records.New()
			if configFile != "" {
				if err := rec.Load(envFile, configFile); err != nil {
					return err
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file to load")
	root.PersistentFlags().StringVar(&configFile, "config", "", "records tunables YAML file")

	root.AddCommand(newParseCmd())
	root.AddCommand(newRoundtripCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newServeCmd())
	return root
}
