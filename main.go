package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string

	config *Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dynaform",
	Short: "Dynamic form service",
	Long: `dynaform serves forms whose fields, options and workflows are defined in a
remote GraphQL data service. It renders field widgets, collects captured media,
assembles submissions and fires workflow transitions.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = loadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err = newLogger(config.LogLevel, config.LogFormat, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the local tables and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := NewService(config, logger)
		if err != nil {
			return err
		}
		defer service.Close()
		logger.Info("Local tables are up to date", zap.String("db_engine", config.DBEngine))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// routes registers every API endpoint behind the request context middleware.
func (s *Service) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.requestContext)

	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/status", s.handleAuthStatus).Methods("GET")
	api.HandleFunc("/graphql", s.handleGraphQLProxy).Methods("POST")

	api.HandleFunc("/forms", s.handleListForms).Methods("GET")
	api.HandleFunc("/menus/{menuId}/forms", s.handleListMenuForms).Methods("GET")
	api.HandleFunc("/forms/{formId}", s.handleGetForm).Methods("GET")
	api.HandleFunc("/forms/{formId}/draft", s.handleClearDraft).Methods("DELETE")
	api.HandleFunc("/forms/{formId}/submit", s.handleSubmitDraft).Methods("POST")
	api.HandleFunc("/forms/{formId}/submissions", s.handleListSubmissions).Methods("GET")
	api.HandleFunc("/forms/{formId}/statuses", s.handleGetStatusValues).Methods("GET")
	api.HandleFunc("/forms/{formId}/fields/{fieldId}/value", s.handleSetDraftValue).Methods("PUT")
	api.HandleFunc("/forms/{formId}/fields/{fieldId}/capture", s.handleCapture).Methods("POST")
	api.HandleFunc("/forms/{formId}/fields/{fieldId}/values", s.handleGetFieldValues).Methods("GET")
	api.HandleFunc("/forms/{formId}/fields/{fieldId}/values/search", s.handleSearchFieldValues).Methods("GET")

	api.HandleFunc("/form-submissions", s.handleCreateFormSubmission).Methods("POST")
	api.HandleFunc("/submissions/{submissionId}/fields/{fieldId}", s.handleEditSubmissionField).Methods("PATCH")

	api.HandleFunc("/workflows/{workflowId}/transitions", s.handleAvailableTransitions).Methods("GET")
	api.HandleFunc("/workflows/{workflowId}/transitions/{transitionId}/fire", s.handleFireTransition).Methods("POST")
	api.HandleFunc("/workflows/{workflowId}/diagram", s.handleWorkflowDiagram).Methods("GET")

	views := api.PathPrefix("/table-views").Subrouter()
	views.HandleFunc("", s.handleListTableViews).Methods("GET")
	views.HandleFunc("", s.handleCreateTableView).Methods("POST")
	views.HandleFunc("/{id:[0-9]+}", s.handleGetTableView).Methods("GET")
	views.HandleFunc("/{id:[0-9]+}", s.handleUpdateTableView).Methods("PATCH", "PUT")
	views.HandleFunc("/{id:[0-9]+}", s.handleDeleteTableView).Methods("DELETE")

	return router
}

// handler wraps the router with recovery, access logging and CORS.
func (s *Service) handler() http.Handler {
	var h http.Handler = s.routes()
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger.Named("recovery"))),
		handlers.PrintRecoveryStack(true),
	)(h)
	h = handlers.CustomLoggingHandler(nil, h, accessLog(s.logger.Named("http")))
	return handlers.CORS(
		handlers.AllowedOrigins(s.config.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", sessionHeader, "X-User-ID", "X-Username", "Accept-Language"}),
		handlers.AllowCredentials(),
	)(h)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("Starting dynaform service", zap.String("port", config.Port))

	service, err := NewService(config, logger)
	if err != nil {
		logger.Error("Failed to initialize service", zap.Error(err))
		return err
	}
	defer service.Close()

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      service.handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	logger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exited")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
