package app

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"mail-chat-bridge-go/internal/chat"
	"mail-chat-bridge-go/internal/composer"
	"mail-chat-bridge-go/internal/config"
	"mail-chat-bridge-go/internal/extractor"
	"mail-chat-bridge-go/internal/journal"
	"mail-chat-bridge-go/internal/logging"
	"mail-chat-bridge-go/internal/mailbox"
	"mail-chat-bridge-go/internal/metrics"
	"mail-chat-bridge-go/internal/server"
	"mail-chat-bridge-go/internal/store"
	"mail-chat-bridge-go/internal/supervisor"
	"mail-chat-bridge-go/internal/worker"
)

// Run starts one worker per enabled account and blocks until SIGINT or
// SIGTERM, or until every worker has ended. It returns the first fatal
// worker error.
func Run(cfg *config.Config) error {
	logging.Setup(cfg.Log)
	logrus.Info("Starting mail chat bridge")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	var (
		deliveries worker.Journal
		reader     server.JournalReader
	)
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return fmt.Errorf("failed to initialize journal: %w", err)
		}
		defer j.Close()
		deliveries, reader = j, j
	}

	accounts := cfg.EnabledAccounts()
	if len(accounts) == 0 {
		return fmt.Errorf("every account is disabled")
	}

	sup := supervisor.New()
	for _, acc := range accounts {
		w, closer, err := buildWorker(acc, cfg.Log, m, deliveries)
		if err != nil {
			return fmt.Errorf("account %s: %w", acc.Name, err)
		}
		defer closer.Close()

		if err := sup.Add(w); err != nil {
			return err
		}
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server, server.NewHandlers(sup, reader, reg))
		srv.Start()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := sup.Run(ctx)

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logrus.Errorf("HTTP server shutdown error: %v", serr)
		}
		done()
	}

	if err != nil {
		logrus.WithError(err).Error("Mail chat bridge stopped after a fatal account failure")
		return err
	}
	logrus.Info("Mail chat bridge stopped gracefully")
	return nil
}

// buildWorker wires one account's collaborators. The returned closer
// releases the account's log file.
func buildWorker(acc config.AccountConfig, logCfg config.LogConfig, m *metrics.Metrics, j worker.Journal) (*worker.Worker, io.Closer, error) {
	log, closer, err := logging.ForAccount(acc, logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	st, err := store.New(acc.Store.Dir(), acc.Store.Mode)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}

	w := worker.New(acc, worker.Deps{
		Dial:      worker.IMAP(mailbox.NewDialer(acc.Mail, log)),
		Chat:      chat.NewClient(acc.Chat),
		Extractor: extractor.New(st, acc.Attachments),
		Store:     st,
		Composer:  composer.New(acc.Fields, acc.Classification),
		Journal:   j,
		Metrics:   m,
		Log:       log,
	})
	return w, closer, nil
}
