// Command techdoc researches a list of technologies and writes a markdown
// document about them.
//
//	techdoc -tech "Go,Rust" -out doc.md
//	techdoc -mode serial Kubernetes Nomad
//	techdoc -interactive
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gbaeke/flowkit"
	"github.com/gbaeke/flowkit/internal/config"
	"github.com/gbaeke/flowkit/internal/llm"
	"github.com/gbaeke/flowkit/internal/search"
	"github.com/gbaeke/flowkit/internal/techdoc"
	"github.com/gbaeke/flowkit/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintln(os.Stderr, "techdoc:", err)
		os.Exit(exitCode(err))
	}
}

type options struct {
	technologies []string
	configPath   string
	envFile      string
	mode         string
	out          string
	metricsAddr  string
	interactive  bool
}

func parseArgs(args []string, errOut io.Writer) (*options, error) {
	fs := flag.NewFlagSet("techdoc", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var opts options
	var techs string
	fs.StringVar(&techs, "tech", "", "comma-separated technologies to document")
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&opts.envFile, "env-file", ".env", "environment file loaded before the config")
	fs.StringVar(&opts.mode, "mode", "", "run mode: parallel or serial (overrides config)")
	fs.StringVar(&opts.out, "out", "", "write the document to this file instead of stdout")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	fs.BoolVar(&opts.interactive, "interactive", false, "prompt for technologies on stdin")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.technologies = splitTechnologies(techs)
	opts.technologies = append(opts.technologies, fs.Args()...)
	if len(opts.technologies) == 0 && !opts.interactive {
		fs.Usage()
		return nil, errors.New("no technologies given, use -tech or positional arguments")
	}
	return &opts, nil
}

func splitTechnologies(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(ctx context.Context, in io.Reader, out, errOut io.Writer, args []string) error {
	opts, err := parseArgs(args, errOut)
	if err != nil {
		return err
	}
	if opts.interactive {
		if err := promptTechnologies(in, out, opts); err != nil {
			return err
		}
	}

	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.mode != "" {
		cfg.Run.Mode = strings.ToLower(opts.mode)
	}

	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	metrics := telemetry.NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	client, err := llm.NewOpenAI(llm.Options{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	searcher := search.NewDuckDuckGo(search.Options{
		BaseURL:   cfg.Search.BaseURL,
		UserAgent: cfg.Search.UserAgent,
		Timeout:   cfg.Search.RequestTimeout,
		Logger:    logger,
	})

	gen, err := techdoc.NewGenerator(cfg, techdoc.Deps{LLM: client, Searcher: searcher, Logger: logger},
		techdoc.WithObserver(telemetry.NewLogObserver(logger)),
		techdoc.WithObserver(metrics),
	)
	if err != nil {
		return err
	}

	doc, report, err := gen.Invoke(ctx, opts.technologies)
	if err != nil {
		return err
	}

	if opts.out == "" {
		_, err = fmt.Fprintln(out, doc)
		return err
	}
	if err := os.WriteFile(opts.out, []byte(doc+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.out, err)
	}
	logger.Info("Document written.", "path", opts.out, "bytes", len(doc), "runID", report.RunID, "elapsed", report.Elapsed.Round(time.Millisecond))
	return nil
}

// defaultTechnologies are used when the interactive prompt is left empty.
var defaultTechnologies = []string{"FastAPI", "Vue.js"}

// promptTechnologies reads a comma-separated list from in. Without -out the
// document is saved to a file named after the first technologies.
func promptTechnologies(in io.Reader, out io.Writer, opts *options) error {
	if len(opts.technologies) == 0 {
		fmt.Fprintln(out, "Enter technologies to research (comma-separated):")
		fmt.Fprintln(out, "Example: FastAPI, Vue.js, Redis, Docker")
		fmt.Fprint(out, "> ")

		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read technologies: %w", err)
		}
		opts.technologies = splitTechnologies(line)
		if len(opts.technologies) == 0 {
			fmt.Fprintln(out, "No technologies provided. Using default list.")
			opts.technologies = defaultTechnologies
		}
	}
	fmt.Fprintf(out, "Selected technologies: %s\n", strings.Join(opts.technologies, ", "))
	if opts.out == "" {
		opts.out = interactiveFilename(opts.technologies)
	}
	return nil
}

func interactiveFilename(techs []string) string {
	if len(techs) > 3 {
		techs = techs[:3]
	}
	parts := make([]string, len(techs))
	for i, t := range techs {
		parts[i] = strings.ReplaceAll(strings.ToLower(t), " ", "_")
	}
	return "interactive_" + strings.Join(parts, "_") + ".md"
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics.", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed.", "error", err)
		}
	}()
	return srv
}

// exitCode maps the generator's error classes to distinct exit statuses.
func exitCode(err error) int {
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, techdoc.ErrInvalidInput):
		return 2
	case errors.Is(err, flowkit.ErrTimeout):
		return 4
	case errors.Is(err, techdoc.ErrFlowExecution):
		return 3
	case errors.Is(err, techdoc.ErrInvalidOutput):
		return 5
	default:
		return 1
	}
}
