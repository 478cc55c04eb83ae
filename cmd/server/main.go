// Command server runs storeguard in front of a storefront API.
//
// Usage:
//
//	server serve --config storeguard.yaml --upstream http://localhost:3000
//	STOREGUARD_ADMIN_TOKEN=... server serve --admin-addr 127.0.0.1:9090
//	server validate --config storeguard.yaml
//	server policies
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/yourusername/storeguard/pkg/storeguard"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Start the guard server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`
	Policies PoliciesCmd `cmd:"" help:"List the configured rate limit policies."`

	Config   string `short:"c" help:"Path to YAML config file." type:"path" env:"STOREGUARD_CONFIG"`
	LogLevel string `help:"Override the configured log level (debug, info, warn, error)."`
}

// load reads the configuration and builds the logger it describes
func (cli *CLI) load() (*storeguard.Config, *slog.Logger, error) {
	config, err := storeguard.LoadConfig(cli.Config)
	if err != nil {
		return nil, nil, err
	}
	if cli.LogLevel != "" {
		config.Logging.Level = cli.LogLevel
	}

	logger, err := config.Logging.NewLogger(os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return config, logger, nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr            string        `help:"Address to listen on." default:":8080" env:"STOREGUARD_ADDR"`
	Upstream        *url.URL      `help:"Storefront backend to proxy allowed requests to. Without it a stub backend answers." env:"STOREGUARD_UPSTREAM"`
	AdminAddr       string        `help:"Serve /admin, /metrics and /dashboard on this address instead of --addr."`
	ShutdownTimeout time.Duration `help:"Grace period for in-flight requests on shutdown." default:"10s"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	config, logger, err := cli.load()
	if err != nil {
		return err
	}
	if c.AdminAddr != "" {
		config.Admin.Addr = c.AdminAddr
	}
	if config.Admin.Token == "" {
		logger.Warn("no admin token configured, admin endpoints will reject every request")
	}

	guard, err := storeguard.NewGuard(
		storeguard.WithConfig(config),
		storeguard.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := guard.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()
	guard.Start()

	router, err := newRouter(guard, c.Upstream, logger)
	if err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:              c.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if config.Admin.Addr != "" {
		servers = append(servers, &http.Server{
			Addr:              config.Admin.Addr,
			Handler:           newAdminRouter(guard, logger),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				errCh <- err
			}
		}()
	}

	logger.Info("storeguard listening",
		"addr", c.Addr,
		"admin_addr", config.Admin.Addr,
		"store", config.Store.Type,
		"detector", config.Detector.Enabled,
		"adaptive", config.Adaptive.Enabled,
		"dashboard", "/dashboard",
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	if serveErr != nil {
		return serveErr
	}
	logger.Info("server stopped")
	return nil
}

// ValidateCmd validates the configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	config, _, err := cli.load()
	if err != nil {
		return err
	}
	fmt.Printf("Configuration is valid: %d policies, %s store\n", len(config.Policies), config.Store.Type)
	return nil
}

// PoliciesCmd prints the effective policies.
type PoliciesCmd struct{}

func (c *PoliciesCmd) Run(cli *CLI) error {
	config, _, err := cli.load()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POLICY\tWINDOW\tMAX\tIDENTIFIER\tROUTES")
	for _, name := range policyNames(config) {
		policy := config.Policies[name]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", name, policy.Window, policy.MaxRequests, policy.Identifier, routesFor(name))
	}
	return tw.Flush()
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("storeguard"),
		kong.Description("Rate limiting and DDoS protection for storefront APIs."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(cli))
}
