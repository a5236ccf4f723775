package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/whoisproxy/whoisproxy"
)

type options struct {
	out      string
	logLevel string
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "whois-compile <source-dir>",
		Short: "Compile IANA/RIR source tables into the proxy's routing tables",
		Long: `Compile IANA/RIR source tables into the proxy's routing tables.

Reads the IANA top-level assignment tables and the five RIR
delegated-extended files from the given source directory and writes
three compiled tables (ipv4, ipv6, asn) to the output directory.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return compile(args[0], opt)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&opt.out, "out", "data", "output directory for the compiled tables")
	cmd.Flags().StringVarP(&opt.logLevel, "log-level", "l", "info", "log level (panic,fatal,error,warn,info,debug,trace)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func compile(sourceDir string, opt options) error {
	lvl, err := logrus.ParseLevel(opt.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	whoisproxy.Log.SetLevel(lvl)

	out, err := whoisproxy.RunPipeline(sourceDir)
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	if err := whoisproxy.WriteCompiled(out, opt.out); err != nil {
		return fmt.Errorf("writing compiled tables: %w", err)
	}
	whoisproxy.Log.WithField("out", opt.out).Info("compiled routing tables")
	return nil
}
