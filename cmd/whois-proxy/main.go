package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/whoisproxy/whoisproxy"
)

type options struct {
	defaultServer string
	port          int
	dataDir       string
	logLevel      string
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "whois-proxy",
		Short: "WHOIS referral proxy",
		Long: `WHOIS referral proxy.

Accepts WHOIS client connections, resolves the authoritative registry
for the queried resource against a compiled routing table, and proxies
the conversation to that upstream server.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(opt)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&opt.defaultServer, "default-server", "whois.iana.org", "server used when a query resolves to no route")
	cmd.Flags().IntVar(&opt.port, "port", 4343, "listening port")
	cmd.Flags().StringVar(&opt.dataDir, "data-dir", "data", "directory holding the compiled ipv4/ipv6/asn tables")
	cmd.Flags().StringVarP(&opt.logLevel, "log-level", "l", "info", "log level (panic,fatal,error,warn,info,debug,trace)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(opt options) error {
	lvl, err := logrus.ParseLevel(opt.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	whoisproxy.Log.SetLevel(lvl)

	ipv4Path := filepath.Join(opt.dataDir, "ipv4")
	ipv6Path := filepath.Join(opt.dataDir, "ipv6")
	asnPath := filepath.Join(opt.dataDir, "asn")

	ctx, err := whoisproxy.FromCompiled(ipv4Path, ipv6Path, asnPath)
	if err != nil {
		return fmt.Errorf("loading compiled data: %w", err)
	}

	live := whoisproxy.NewAtomicContext(ctx)
	watcher := whoisproxy.NewWatcher(ipv4Path, ipv6Path, asnPath, live)
	stop := make(chan struct{})
	go watcher.Run(stop)

	addr := fmt.Sprintf("0.0.0.0:%d", opt.port)
	server := whoisproxy.NewServer("whois-proxy", addr, opt.defaultServer, live)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		close(stop)
		return err
	case <-sigCh:
		close(stop)
		whoisproxy.Log.Info("shutting down")
		return nil
	}
}
