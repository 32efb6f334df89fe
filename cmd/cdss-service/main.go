package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/chronomed-ai/cdss/pkg/common/config"
	"github.com/chronomed-ai/cdss/pkg/common/database"
	"github.com/chronomed-ai/cdss/pkg/common/kafka"
	"github.com/chronomed-ai/cdss/pkg/common/logger"
	"github.com/chronomed-ai/cdss/pkg/decision"
	"github.com/chronomed-ai/cdss/pkg/gateway/auth"
	"github.com/chronomed-ai/cdss/pkg/gateway/middleware"
	"github.com/chronomed-ai/cdss/pkg/inference"
	"github.com/chronomed-ai/cdss/pkg/kb"
	"github.com/chronomed-ai/cdss/pkg/measurement"
	"github.com/chronomed-ai/cdss/pkg/observability/metrics"
	"github.com/chronomed-ai/cdss/pkg/terminology"
)

func main() {
	logger.Init()
	cfg := config.Load()

	catalog, err := terminology.Load(cfg.CatalogPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load measurement catalog")
	}

	base := kb.Default()
	if cfg.KnowledgeBasePath != "" {
		base, err = kb.Load(cfg.KnowledgeBasePath)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load knowledge base")
		}
	}
	if err := base.Validate(); err != nil {
		logger.Log.WithError(err).Fatal("knowledge base invalid")
	}

	store := measurement.NewStore()
	meas := measurement.NewService(store, catalog)
	engine := inference.NewEngine(base, catalog, meas)
	service := decision.NewService(meas, engine)

	if cfg.SeedPath != "" {
		records, err := measurement.LoadSeed(cfg.SeedPath, catalog)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load seed measurements")
		}
		for _, record := range records {
			store.Append(record)
		}
		logger.Log.WithField("count", len(records)).Info("Seed measurements loaded")
	}

	if cfg.ArchiveEnabled {
		db, err := database.GetPostgres()
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to postgres")
		}
		archive := measurement.NewArchive(db)
		if err := archive.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate measurement archive")
		}
		records, err := archive.LoadAll(context.Background())
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load archived measurements")
		}
		for _, record := range records {
			store.Append(record)
		}
		logger.Log.WithField("count", len(records)).Info("Archived measurements loaded")
		service = service.WithMirror(archive)
	}

	producer := kafka.NewProducer(cfg.AuditTopic)
	defer producer.Close()
	service = service.WithAudit(producer)

	cache := decision.NewStateCache(database.GetRedis(), cfg.StateCacheTTL)
	service = service.WithCache(cache)

	handler := decision.NewHandler(service)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	var manager *auth.JWTManager
	if cfg.JWTSecret != "" {
		manager, err = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to configure token manager")
		}
	}
	if cfg.OIDCIssuer != "" {
		oidc, err := auth.NewOIDCAuthenticator(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret, cfg.OIDCRedirectURL)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to configure OIDC")
		}
		router.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, oidc.AuthURL(r.URL.Query().Get("state")), http.StatusFound)
		}).Methods(http.MethodGet)
		router.HandleFunc("/auth/callback", func(w http.ResponseWriter, r *http.Request) {
			if _, err := oidc.Exchange(r.Context(), r.URL.Query().Get("code")); err != nil {
				http.Error(w, "login failed", http.StatusUnauthorized)
				return
			}
			// provider identity accepted; hand back a local token
			if manager == nil {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			token, err := manager.IssueToken(auth.Clinician{Role: "clinician"})
			if err != nil {
				http.Error(w, "login failed", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"token":%q}`, token)
		}).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1/cdss").Subrouter()
	api.Use(middleware.Recovery)
	api.Use(middleware.Logging)
	api.Use(middleware.CORS)
	api.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	if manager != nil {
		api.Use(middleware.Authenticate(manager))
		api.Use(middleware.RequireWriteRole)
	}
	handler.Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("CDSS service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start cdss service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down CDSS service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("CDSS service forced to shutdown")
	}
	logger.Log.Info("CDSS service stopped")
}
