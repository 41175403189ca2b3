package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"qa-engine-jira/internal/common"
	"qa-engine-jira/internal/handlers"
	"qa-engine-jira/internal/interfaces"
	"qa-engine-jira/internal/middleware"

	"github.com/ternarybob/arbor"
)

// webServer provides the HTTP endpoints for the QA engine
type webServer struct {
	config      *common.Config
	server      *http.Server
	logger      arbor.ILogger
	apiHandlers *handlers.APIHandlers
	wsHub       *handlers.JobEventHub
	running     bool
	startTime   time.Time
}

// NewWebServer wires the pipeline and its collaborators behind the HTTP mux.
func NewWebServer(cfg *common.Config, store interfaces.OutcomeStore, logger arbor.ILogger) (interfaces.WebService, error) {
	mux := http.NewServeMux()

	generator, err := NewGeminiClient(&cfg.Gemini, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}

	writer, err := NewPathGuard(&cfg.Files, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create path guard: %w", err)
	}

	// Tracker write-back is optional: without credentials the pipeline
	// degrades those stages to warnings.
	var tracker interfaces.Tracker
	if cfg.JiraConfigured() {
		tracker, err = NewJiraClient(&cfg.Jira, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create jira client: %w", err)
		}
	} else {
		logger.Warn().Msg("Jira credentials not configured, tracker write-back disabled")
	}

	wsHub := handlers.NewJobEventHub(logger)

	qaPipeline := NewPipeline(
		NewInputGuard(&cfg.Engine),
		NewPromptBuilder(),
		generator,
		NewDecisionEngine(),
		writer,
		tracker,
		store,
		wsHub,
		logger,
	)

	apiHandlers := handlers.NewAPIHandlers(cfg, qaPipeline, store, logger)

	ws := &webServer{
		config:      cfg,
		logger:      logger,
		apiHandlers: apiHandlers,
		wsHub:       wsHub,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Engine.Port),
			Handler: mux,
		},
	}

	logMiddleware := middleware.Logging(logger)
	corsMiddleware := middleware.CORS
	authMiddleware := middleware.APIKey(&cfg.Engine, logger)

	// Read-only status endpoints
	mux.HandleFunc("/health", logMiddleware(corsMiddleware(apiHandlers.HealthHandler)))
	mux.HandleFunc("/version", logMiddleware(corsMiddleware(apiHandlers.VersionHandler)))
	mux.HandleFunc("/config", logMiddleware(corsMiddleware(apiHandlers.ConfigHandler)))

	// Write-capable endpoints sit behind the API key check
	mux.HandleFunc("/generate-tests", logMiddleware(corsMiddleware(authMiddleware(apiHandlers.GenerateTestsHandler))))
	mux.HandleFunc("/generate-skeletons", logMiddleware(corsMiddleware(authMiddleware(apiHandlers.GenerateSkeletonsHandler))))
	mux.HandleFunc("/jira/full-qa-flow", logMiddleware(corsMiddleware(authMiddleware(apiHandlers.FullQAFlowHandler))))
	mux.HandleFunc("/jira/full-qa-flow-async", logMiddleware(corsMiddleware(authMiddleware(apiHandlers.FullQAFlowAsyncHandler))))
	mux.HandleFunc("/jobs", logMiddleware(corsMiddleware(authMiddleware(apiHandlers.JobsHandler))))

	// WebSocket job events
	mux.HandleFunc("/ws", corsMiddleware(wsHub.WebSocketHandler))

	return ws, nil
}

// Start starts the web server
func (ws *webServer) Start(ctx context.Context) error {
	ws.running = true
	ws.startTime = time.Now()

	go func() {
		ws.logger.Info().Int("port", ws.config.Engine.Port).Msg("Starting web server")
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error().Err(err).Msg("Web server error")
		}
	}()
	return nil
}

// Stop stops the web server
func (ws *webServer) Stop() error {
	ws.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws.logger.Info().Msg("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// IsRunning returns true if the web server is running
func (ws *webServer) IsRunning() bool {
	return ws.running
}
