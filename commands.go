package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fsoi/report-queue/api"
	"github.com/fsoi/report-queue/api/pipeline"
	"github.com/fsoi/report-queue/api/report"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run queued reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()
	sugar := a.Logger

	// Log version
	sugar.Infof("Version: %s Timestamp: %s", version, timestamp)

	// Log config
	sugar.Info(a.Environment)

	requestQueue, err := a.requestQueue()
	if err != nil {
		return err
	}
	defer requestQueue.Close()

	clock := clockwork.NewRealClock()
	runner := pipeline.NewDataPipelineRunner(&a.Config, a.orchestrator(clock), a.jobs, requestQueue, a.metrics, clock)

	svc := api.Services{
		Queue:   requestQueue,
		Runner:  runner,
		Jobs:    a.jobs,
		Source:  a.source,
		Cache:   a.cache,
		Resolve: a.registry.Canonical,
		Metrics: api.MetricsHandler(),
	}
	if a.Environment.CacheBackend == backendFS {
		svc.CacheDir = a.Environment.CacheRoot
	}
	r, err := api.NewRouter(a.Config, svc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start listening for updates
	runner.Start()
	defer runner.Shutdown()

	if a.Environment.PauseTime != "" {
		err := schedulePauseWindow(ctx, clock, a.Environment.PauseTime, a.Environment.ResumeTime,
			runner.Stop, runner.Start, sugar)
		if err != nil {
			return err
		}
	}

	server := &http.Server{Addr: a.Environment.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			sugar.Warnf("Server shutdown: %v", err)
		}
	}()

	// Start listening
	sugar.Infof("Listening on %s", a.Environment.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	sugar.Info("Shutting down")
	return nil
}

func newRunCommand() *cobra.Command {
	var requestFile, callback string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one report request in the foreground and print its response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := os.ReadFile(requestFile)
			if err != nil {
				return errors.Wrapf(err, "failed to read %s", requestFile)
			}
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			req, err := report.Parse(body, a.registry.Canonical)
			if err != nil {
				return err
			}
			if callback != "" {
				if err := a.jobs.AddSubscriber(cmd.Context(), report.Hash(req), callback); err != nil {
					return err
				}
			}
			resp, err := a.orchestrator(clockwork.NewRealClock()).Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
			if resp.Failed() {
				return errors.New("report failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&requestFile, "request", "", "JSON report request file")
	cmd.Flags().StringVar(&callback, "callback", "", "address notified of progress")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func newIngestCommand() *cobra.Command {
	var opts ingestOptions
	var norm, date string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Store a raw center file and its bulk statistics in the source store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			center, ok := a.registry.Canonical(opts.Center)
			if !ok {
				return errors.Errorf("unknown center %q", opts.Center)
			}
			opts.Center = center
			opts.Norm = report.Norm(norm)
			if opts.Norm != report.NormDry && opts.Norm != report.NormMoist {
				return errors.Errorf("norm must be dry or moist, got %q", norm)
			}
			if opts.Date, err = time.Parse(report.DateLayout, date); err != nil {
				return errors.Wrapf(err, "invalid date %q", date)
			}
			_, err = ingestCenterFile(cmd.Context(), a.source, a.registry, opts, a.Logger)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "", "address of the raw center file")
	cmd.Flags().StringVar(&opts.Center, "center", "", "center the file belongs to")
	cmd.Flags().StringVar(&norm, "norm", string(report.NormDry), "error norm: dry or moist")
	cmd.Flags().StringVar(&date, "date", "", "analysis date as YYYYMMDD")
	cmd.Flags().IntVar(&opts.Cycle, "cycle", 0, "analysis hour")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token for the raw file address")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "fetch again even when the raw file is stored")
	for _, name := range []string{"url", "center", "date"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
