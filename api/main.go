package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventhub/config"
	"eventhub/data/images"
	"eventhub/data/models"
	"eventhub/data/repository"
	"eventhub/services/auth"
	"eventhub/services/events"
	"eventhub/services/notify"
	"eventhub/services/realtime"
	"eventhub/services/reminders"
	"eventhub/services/tasks"

	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

type imageStore interface {
	Save(src io.Reader) (string, error)
	Remove(ref string) error
	Handler() http.Handler
}

type accountMailer interface {
	SendVerification(ctx context.Context, u models.User, token string) error
	SendPasswordReset(ctx context.Context, u models.User, token string) error
}

type pinger interface {
	PingContext(ctx context.Context) error
}

type application struct {
	cfg    config.Config
	log    logrus.FieldLogger
	db     pinger
	users  repository.UserRepo
	events *events.Service
	hub    *realtime.Hub
	images imageStore
	tokens *auth.Tokens
	mail   accountMailer
	tasks  events.Scheduler
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log := cfg.NewLogger()
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	var app = &application{cfg: cfg, log: log}

	db, err := app.ConnectToDB()
	if err != nil {
		return err
	}
	defer db.Close()

	repo := &repository.SqlRepo{DB: db, Log: log}
	if err = repo.RunMigrations("eventhub"); err != nil {
		return err
	}

	catalog, err := notify.LoadCatalog()
	if err != nil {
		return err
	}
	renderer, err := notify.NewRenderer(catalog, cfg.EmailLocale)
	if err != nil {
		return err
	}
	var mailer notify.Mailer = notify.LogMailer{Log: log}
	if cfg.SMTPHost != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.EmailFrom)
	}
	dispatcher := notify.NewDispatcher(mailer, renderer, repo, cfg.PublicURL, log)

	store, err := images.NewFileStore(cfg.UploadDir)
	if err != nil {
		return err
	}

	queue := tasks.New(cfg.TaskWorkers, cfg.TaskQueueSize, log)
	frames := tasks.New(1, cfg.TaskQueueSize, log.WithField("queue", "frames"))
	hub := realtime.NewHub(log)

	app.db = db
	app.users = repo
	app.hub = hub
	app.images = store
	app.tokens = auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	app.mail = dispatcher
	app.tasks = queue
	app.events = events.NewService(events.Deps{
		Store:       repo,
		Notifier:    dispatcher,
		Broadcaster: hub,
		Tasks:       queue,
		Broadcasts:  frames,
		Images:      store,
		Log:         log,
		Retries:     cfg.RegisterRetries,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := reminders.NewSweeper(repo, dispatcher, cfg.ReminderInterval, log)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      app.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-serveErr:
		stop()
		<-sweepDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	<-sweepDone

	if err := queue.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("task queue did not drain")
	}
	if err := frames.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("frame queue did not drain")
	}

	qs, ds := queue.Stats(), dispatcher.Stats()
	log.WithFields(logrus.Fields{
		"tasks_processed": qs.Processed,
		"tasks_failed":    qs.Failed,
		"tasks_dropped":   qs.Dropped,
		"emails_sent":     ds.Sent,
		"emails_failed":   ds.Failed,
	}).Info("server exited cleanly")
	return nil
}
