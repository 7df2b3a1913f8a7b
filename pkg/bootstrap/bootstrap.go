package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"golang.org/x/oauth2"

	shared "github.com/fitglue/journey/pkg"
	"github.com/fitglue/journey/pkg/annotation"
	"github.com/fitglue/journey/pkg/infrastructure/database"
	"github.com/fitglue/journey/pkg/infrastructure/notifications"
	"github.com/fitglue/journey/pkg/infrastructure/oauth"
	infrapubsub "github.com/fitglue/journey/pkg/infrastructure/pubsub"
	sentryutil "github.com/fitglue/journey/pkg/infrastructure/sentry"
	infrastorage "github.com/fitglue/journey/pkg/infrastructure/storage"
	"github.com/fitglue/journey/pkg/infrastructure/tracing"
	"github.com/fitglue/journey/pkg/journey"
	"github.com/fitglue/journey/pkg/milestones"
	"github.com/fitglue/journey/pkg/progress"
	sqlitestore "github.com/fitglue/journey/pkg/storage/sqlite"
)

// Service holds initialized dependencies
type Service struct {
	Config  *Config
	Logger  *slog.Logger
	Store   shared.CredentialStore
	Blobs   shared.BlobStore
	Pub     shared.Publisher
	Notify  shared.NotificationService
	OAuth   *oauth2.Config
	Tokens  *oauth.Manager
	Journey *journey.Orchestrator

	closers []func(context.Context) error
}

// Close releases clients in reverse order of creation.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Service) onClose(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// NewService initializes all standard dependencies
func NewService(ctx context.Context, serviceName string, cfg *Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = NewLogger(serviceName, cfg.LogLevel)
	}
	logger.Info("Initializing service",
		"project_id", cfg.ProjectID,
		"credential_backend", cfg.CredentialBackend,
		"milestones_source", cfg.MilestonesSource,
	)

	svc := &Service{Config: cfg, Logger: logger}
	fail := func(err error) (*Service, error) {
		_ = svc.Close(ctx)
		return nil, err
	}

	if err := sentryutil.Init(sentryutil.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     cfg.SentryRelease,
	}, logger); err != nil {
		// error tracking is optional; keep going without it
		logger.Warn("Continuing without Sentry", "error", err)
	}

	shutdown, err := tracing.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		logger.Warn("Continuing without trace export", "error", err)
	} else {
		svc.onClose(shutdown)
	}

	// Credential store
	var pruner notifications.TokenPruner
	switch cfg.CredentialBackend {
	case BackendFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore init failed", "error", err)
			return fail(fmt.Errorf("firestore init: %w", err))
		}
		svc.onClose(func(context.Context) error { return fsClient.Close() })
		adapter := database.NewFirestoreAdapter(fsClient)
		svc.Store = adapter
		pruner = adapter
		logger.Info("Credential store: Firestore")
	default:
		store, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			logger.Error("SQLite init failed", "error", err, "path", cfg.SQLitePath)
			return fail(fmt.Errorf("sqlite init: %w", err))
		}
		svc.onClose(func(context.Context) error { return store.Close() })
		svc.Store = store
		logger.Info("Credential store: SQLite", "path", cfg.SQLitePath)
	}

	// Storage is only needed for gs:// milestone tables
	if strings.HasPrefix(cfg.MilestonesSource, "gs://") {
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			logger.Error("Storage init failed", "error", err)
			return fail(fmt.Errorf("storage init: %w", err))
		}
		svc.onClose(func(context.Context) error { return gcsClient.Close() })
		svc.Blobs = &infrastorage.StorageAdapter{Client: gcsClient}
	}

	// Pub/Sub
	if cfg.EnablePublish {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub init failed", "error", err)
			return fail(fmt.Errorf("pubsub init: %w", err))
		}
		svc.onClose(func(context.Context) error { return psClient.Close() })
		svc.Pub = &infrapubsub.PubSubAdapter{Client: psClient}
		logger.Info("Pub/Sub: REAL (ENABLE_PUBLISH=true)")
	} else {
		svc.Pub = &infrapubsub.LogPublisher{Logger: logger}
		logger.Info("Pub/Sub: MOCK (LogPublisher)")
	}

	// Push notifications
	if cfg.EnablePush {
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			logger.Error("Firebase init failed", "error", err)
			return fail(fmt.Errorf("firebase init: %w", err))
		}
		fcm, err := notifications.NewFCMAdapter(ctx, app, pruner)
		if err != nil {
			logger.Error("FCM init failed", "error", err)
			return fail(fmt.Errorf("fcm init: %w", err))
		}
		svc.Notify = fcm
		logger.Info("Push: REAL (ENABLE_PUSH=true)")
	} else {
		svc.Notify = &notifications.LogNotifier{Logger: logger}
		logger.Info("Push: MOCK (LogNotifier)")
	}

	start, err := cfg.StartDate()
	if err != nil {
		return fail(err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	svc.OAuth = cfg.OAuth2Config()
	svc.Tokens = oauth.NewManager(svc.Store, oauth.NewOAuth2Refresher(svc.OAuth, httpClient), logger)
	svc.Tokens.RefreshSkew = cfg.TokenRefreshSkew

	svc.Journey = journey.NewOrchestrator(journey.Deps{
		Store:      svc.Store,
		Tokens:     svc.Tokens,
		Milestones: milestones.NewLoader(svc.Blobs, logger),
		Clients:    journey.StravaClientFactory(cfg.StravaAPIBaseURL, svc.Tokens, cfg.HTTPTimeout, logger),
		Engine:     progress.NewEngine(cfg.MetersPerUnit, cfg.NotStartedLabel),
		Guard: annotation.NewGuard(annotation.Options{
			Signature:     cfg.AnnotationSignature,
			DisplayFactor: cfg.DisplayFactor,
			RefreshStale:  cfg.AnnotationRefreshStale,
		}),
		Publisher: svc.Pub,
		Notifier:  svc.Notify,
		Logger:    logger,
	}, journey.Config{
		MilestonesSource:   cfg.MilestonesSource,
		FallbackStartDate:  start,
		Window:             cfg.AnnotationWindow,
		PageSize:           cfg.ActivityPageSize,
		MaxPages:           cfg.ActivityMaxPages,
		AuthorizeURL:       strings.TrimRight(cfg.BaseURL, "/") + "/authorize",
		ReauthNotification: true,
	})

	return svc, nil
}
