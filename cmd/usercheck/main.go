// Command usercheck classifies client identifiers against a directory.
//
// Identifiers are taken from the arguments, or from standard input one per
// line, and each is printed with the class label it resolves to:
//
//	usercheck -config usercheck.yaml aa:bb:cc:dd:ee:ff 11:22:33:44:55:66
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isometry/usercheck/internal/config"
	"github.com/isometry/usercheck/internal/filesource"
	"github.com/isometry/usercheck/internal/identity"
	"github.com/isometry/usercheck/internal/ldap"
	"github.com/isometry/usercheck/internal/registry"
	"github.com/isometry/usercheck/internal/registry/metrics"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	configPath  string
	kind        identity.Kind
	envFile     string
	logLevel    hclog.Level
	metricsAddr string
	ids         []string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName("usercheck"),
		tfsdklog.WithLevel(opts.logLevel),
		tfsdklog.WithoutLocation(),
	)

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "usercheck: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("usercheck", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	var kind, level string
	fs.StringVar(&opts.configPath, "config", "usercheck.yaml", "configuration file")
	fs.StringVar(&kind, "kind", "hwaddr", "identifier kind: hwaddr or duid")
	fs.StringVar(&opts.envFile, "env-file", ".env", "environment file loaded before the configuration, if present")
	fs.StringVar(&level, "log-level", "warn", "log level: trace, debug, info, warn, error or off")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "address to serve /metrics on, disabled when empty")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch strings.ToLower(kind) {
	case "hwaddr", "hw_addr":
		opts.kind = identity.KindHWAddress
	case "duid":
		opts.kind = identity.KindDUID
	default:
		err := fmt.Errorf("invalid -kind %q: must be hwaddr or duid", kind)
		fmt.Fprintln(stderr, err)
		return nil, err
	}

	opts.logLevel = hclog.LevelFromString(level)
	if opts.logLevel == hclog.NoLevel {
		err := fmt.Errorf("invalid -log-level %q", level)
		fmt.Fprintln(stderr, err)
		return nil, err
	}

	opts.ids = fs.Args()
	return opts, nil
}

func run(ctx context.Context, opts *options, stdin io.Reader, stdout io.Writer) error {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			tflog.Debug(ctx, "Environment file not loaded", map[string]any{
				"path":  opts.envFile,
				"error": err.Error(),
			})
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	source, err := newSource(ctx, cfg)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	reg, err := registry.New(ctx, source, cfg.Policy, cfg.Labels,
		registry.WithMetrics(metrics.New(promRegistry)))
	if err != nil {
		return err
	}
	defer reg.Close()

	if opts.metricsAddr != "" {
		stopMetrics := serveMetrics(ctx, opts.metricsAddr, promRegistry)
		defer stopMetrics()
	}

	ids := opts.ids
	if len(ids) > 0 {
		for _, text := range ids {
			if ctx.Err() != nil {
				break
			}
			classify(ctx, reg, opts.kind, text, stdout)
		}
		return nil
	}

	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() && ctx.Err() == nil {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		classify(ctx, reg, opts.kind, text, stdout)
	}
	return scanner.Err()
}

func newSource(ctx context.Context, cfg *config.Config) (registry.DirectorySource, error) {
	switch cfg.SourceType {
	case config.SourceFile:
		source, err := filesource.NewSource(ctx, cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return source, nil
	case config.SourceLDAP:
		source, err := ldap.NewSource(ctx, *cfg.LDAP)
		if err != nil {
			return nil, err
		}
		return source, nil
	default:
		return nil, registry.NewConfigurationError("sourceType", fmt.Sprintf("unsupported value %q", cfg.SourceType))
	}
}

// classify prints the label for one identifier. Failures are logged and
// reported as unresolved so that the remaining identifiers are still served.
func classify(ctx context.Context, reg *registry.Registry, kind identity.Kind, text string, stdout io.Writer) {
	id, err := identity.Parse(kind, text)
	if err != nil {
		tflog.Error(ctx, "Invalid identifier", map[string]any{
			"input": text,
			"error": err.Error(),
		})
		fmt.Fprintf(stdout, "%s unresolved\n", text)
		return
	}

	label, _, err := reg.Classify(ctx, id)
	if err != nil {
		tflog.Error(ctx, "Failed to classify identifier", map[string]any{
			"id":    id.String(),
			"error": err.Error(),
		})
		fmt.Fprintf(stdout, "%s unresolved\n", id)
		return
	}

	fmt.Fprintf(stdout, "%s %s\n", id, label)
}

// serveMetrics exposes the registry on addr/metrics until the returned
// function is called.
func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		tflog.Info(ctx, "Serving metrics", map[string]any{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			tflog.Error(ctx, "Metrics server failed", map[string]any{"error": err.Error()})
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
