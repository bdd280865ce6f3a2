package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tokensweep/tokensweep/api"
	"github.com/tokensweep/tokensweep/config"
	"github.com/tokensweep/tokensweep/credential"
	"github.com/tokensweep/tokensweep/metrics"
	"github.com/tokensweep/tokensweep/pipeline"
	"github.com/tokensweep/tokensweep/progress"
	"github.com/tokensweep/tokensweep/scheduler"
	"github.com/tokensweep/tokensweep/search"
	"github.com/tokensweep/tokensweep/worker"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "tokensweep",
		Short: "Run GitHub code searches across a pool of API tokens",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
		SilenceUsage: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the job API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	searchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Run one search job in-process and print the matches as JSON",
		Long:  "Run one search job in-process and print the matches as JSON. Without a query argument the query is derived from --pattern and --pattern-type.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSearch,
	}

	limitFlag       string
	extendedFlag    bool
	cooldownFlag    int
	patternFlag     string
	patternTypeFlag string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	searchCmd.Flags().StringVar(&limitFlag, "limit", "100", "results per sub-query, a positive integer or \"all\"")
	searchCmd.Flags().BoolVar(&extendedFlag, "extended", false, "partition the query by filename prefix")
	searchCmd.Flags().IntVar(&cooldownFlag, "cooldown", 0, "seconds to wait between batches (default COOLDOWN_SECONDS)")
	searchCmd.Flags().StringVar(&patternFlag, "pattern", "", "token regex to derive the query from")
	searchCmd.Flags().StringVar(&patternTypeFlag, "pattern-type", "", "token pattern type, e.g. \"GitHub Personal Access Token\"")
	rootCmd.AddCommand(serveCmd, searchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// stack is everything a job needs, built once per process
type stack struct {
	cfg      *config.Config
	pool     *credential.Pool
	registry *prometheus.Registry
	service  *pipeline.Service
}

func newStack() (*stack, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pool, err := credential.FromStrings(cfg.Tokens)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pool.OnLeasedChange(m.SetLeased)

	client, err := search.NewClient(cfg.Search())
	if err != nil {
		return nil, err
	}
	factory := func(events progress.Publisher) scheduler.Runner {
		return worker.New(client, pool, cfg.Worker(), events, m)
	}

	return &stack{
		cfg:      cfg,
		pool:     pool,
		registry: reg,
		service:  pipeline.NewService(pool, factory, cfg.Scheduler(), m),
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := newStack()
	if err != nil {
		return err
	}

	srv := api.NewServer(st.cfg, st.service, st.pool, promhttp.HandlerFor(st.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:         st.cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  time.Minute,
		WriteTimeout: 0, // Disabled for streaming
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Infof("Starting on %s (credentials: %d, reserve: %d, max workers: %d)",
			st.cfg.ListenAddr, st.pool.Total(), st.cfg.ReserveTokens, st.cfg.MaxParallelWorkers)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-sigChan
	log.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
	defer cancel()
	err = server.Shutdown(ctx)
	srv.Close()
	return err
}

func runSearch(cmd *cobra.Command, args []string) error {
	limit, err := search.ParseLimit(limitFlag)
	if err != nil {
		return err
	}
	query := search.QueryFromPattern(patternFlag, patternTypeFlag)
	if len(args) == 1 {
		query = args[0]
	}
	if query == "" {
		return fmt.Errorf("a query argument or a searchable --pattern/--pattern-type is required")
	}

	st, err := newStack()
	if err != nil {
		return err
	}

	job := &pipeline.Job{
		Query:    query,
		Limit:    limit,
		Extended: extendedFlag,
		Cooldown: st.cfg.Cooldown,
	}
	if cmd.Flags().Changed("cooldown") {
		job.Cooldown = time.Duration(cooldownFlag) * time.Second
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch := progress.NewChannel()
	done := make(chan struct{})
	logged := make(chan struct{})
	go func() {
		defer close(logged)
		logEvents(ch, done)
	}()

	out := st.service.Run(ctx, uuid.NewString(), job, ch)
	close(done)
	<-logged

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out.Matches); err != nil {
		return err
	}
	return out.Err
}

// logEvents writes each event's status line until done is closed and the
// queue is empty
func logEvents(ch *progress.Channel, done <-chan struct{}) {
	for {
		for _, ev := range ch.Drain() {
			logEvent(ev)
		}
		select {
		case <-ch.Notify():
		case <-done:
			for _, ev := range ch.Drain() {
				logEvent(ev)
			}
			return
		}
	}
}

func logEvent(ev progress.Event) {
	entry := log.WithField("event", ev.Kind)
	switch ev.Kind {
	case progress.KindPageFetched:
		entry.Debug(ev.String())
	case progress.KindFailed, progress.KindWorkerFailed:
		entry.Warn(ev.String())
	default:
		entry.Info(ev.String())
	}
}
