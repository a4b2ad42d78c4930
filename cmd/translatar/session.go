package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/capture"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/metrics"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/server"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/session"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/tracing"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/transport"
)

const shutdownTimeout = 10 * time.Second

var errCaptureAborted = errors.New("capture aborted by connection error")

// sessionRun describes one capture session driven from the command line
type sessionRun struct {
	source capture.SampleSource

	// finished, when non-nil, ends the session once the source runs dry
	finished <-chan struct{}

	// sourceErrs reports device failures that end capture
	sourceErrs <-chan error

	// linger keeps the connection open after the final flush so late results arrive
	linger time.Duration
}

// sessionConfig maps the file configuration onto per-session parameters
func (a *app) sessionConfig() session.Config {
	return session.Config{
		SourceLang:        a.cfg.Client.SourceLang,
		TargetLang:        a.cfg.Client.TargetLang,
		JWTToken:          a.cfg.Client.JWTToken,
		ChunkDuration:     a.cfg.Audio.GetChunkDuration(),
		Overlap:           a.cfg.Audio.GetOverlap(),
		MinChunkDuration:  a.cfg.Audio.GetMinChunkDuration(),
		MaxBufferDuration: a.cfg.Audio.GetMaxBufferDuration(),
		SilenceThreshold:  a.cfg.Audio.SilenceThreshold,
	}
}

func (a *app) initTracing(ctx context.Context) (tracing.ShutdownFunc, error) {
	return tracing.Init(ctx, tracing.Config{
		Enabled:        a.cfg.Tracing.Enabled,
		ServiceName:    a.cfg.Tracing.ServiceName,
		ServiceVersion: serviceVersion,
		Exporter:       a.cfg.Tracing.Exporter,
		Endpoint:       a.cfg.Tracing.Endpoint,
		SampleRate:     a.cfg.Tracing.SampleRate,
	}, a.logger)
}

// startHTTP starts the status API when enabled. The returned server may be nil.
func (a *app) startHTTP(deps server.HTTPServerDeps) (*server.HTTPServer, error) {
	if !a.cfg.HTTP.Enabled {
		return nil, nil
	}

	deps.Config = a.cfg
	deps.Gatherer = prometheus.DefaultGatherer

	api := server.NewHTTPServer(a.cfg.HTTP, a.logger, deps)
	if err := api.Start(); err != nil {
		return nil, err
	}
	return api, nil
}

func stopHTTP(logger *slog.Logger, api *server.HTTPServer) {
	if api == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := api.Stop(ctx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}
}

// runSession connects, captures until interrupted (or until the source is
// exhausted), flushes the remaining audio and shuts everything down.
func (a *app) runSession(ctx context.Context, out io.Writer, r sessionRun) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := a.initTracing(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			a.logger.Error("Error shutting down tracing", slog.String("error", err.Error()))
		}
	}()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	client, err := transport.NewClient(transport.Config{
		URL:              a.cfg.Client.WebSocketURL,
		HandshakeTimeout: a.cfg.Client.GetHandshakeTimeout(),
		WriteTimeout:     a.cfg.Client.GetWriteTimeout(),
		SendQueueSize:    a.cfg.Client.SendQueueSize,
	}, a.logger)
	if err != nil {
		return err
	}

	sessions := session.NewManager(a.logger, session.WithMetrics(appMetrics))
	ctrl, err := sessions.Create(a.sessionConfig(), r.source, client)
	if err != nil {
		client.Close()
		return err
	}

	api, err := a.startHTTP(server.HTTPServerDeps{Sessions: sessions, Metrics: appMetrics})
	if err != nil {
		sessions.StopAll()
		return err
	}
	defer stopHTTP(a.logger, api)

	g, gctx := errgroup.WithContext(ctx)
	aborted := make(chan struct{})

	// The printer drains the session channels until Close shuts them.
	g.Go(func() error {
		return printEvents(out, ctrl, aborted)
	})

	if err := ctrl.Connect(ctx); err != nil {
		sessions.StopAll()
		g.Wait()
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		sessions.StopAll()
		g.Wait()
		return err
	}

	a.logger.Info("Capture started",
		slog.String("session_id", ctrl.ID()),
		slog.Int("sample_rate", r.source.SampleRate()),
	)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			a.logger.Info("Stopping capture")
		case <-r.finished:
			a.logger.Info("Source exhausted, flushing remaining audio")
		case <-aborted:
			a.logger.Warn("Capture aborted by connection error")
		case err := <-r.sourceErrs:
			a.logger.Error("Capture device failed", slog.Any("error", err))
		}

		if err := ctrl.Stop(); err != nil && !errors.Is(err, session.ErrNotCapturing) {
			a.logger.Error("Failed to stop capture", slog.String("error", err.Error()))
		}

		if r.linger > 0 && ctx.Err() == nil {
			select {
			case <-time.After(r.linger):
			case <-ctx.Done():
			}
		}

		stats := ctrl.GetStats()
		a.logger.Info("Session finished",
			slog.String("session_id", ctrl.ID()),
			slog.Uint64("chunks_emitted", stats.ChunksEmitted),
			slog.Uint64("frames_sent", stats.FramesSent),
			slog.Uint64("bytes_sent", stats.BytesSent),
			slog.Uint64("transcripts_received", stats.TranscriptsReceived),
		)

		return sessions.StopAll()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// printEvents writes transcripts and status changes to out. A connection
// error closes aborted and makes printEvents return errCaptureAborted.
func printEvents(out io.Writer, ctrl *session.Controller, aborted chan<- struct{}) error {
	statuses := ctrl.Status()
	transcripts := ctrl.Transcripts()
	errs := ctrl.Errors()

	var failed bool
	for statuses != nil || transcripts != nil || errs != nil {
		select {
		case status, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			fmt.Fprintf(out, "[status] %s\n", status.Message)
			if status.Message == session.StatusConnectionError && !failed {
				failed = true
				close(aborted)
			}
		case msg, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			if msg.OriginalText != "" {
				fmt.Fprintf(out, "[heard] %s\n", msg.OriginalText)
			}
			if msg.TranslatedText != "" {
				fmt.Fprintf(out, "[translated] %s\n", msg.TranslatedText)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(out, "[error] %v\n", err)
		}
	}

	if failed {
		return errCaptureAborted
	}
	return nil
}
