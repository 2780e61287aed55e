package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/yegors/callscribe/internal/ai"
	"github.com/yegors/callscribe/internal/ai/openai"
	"github.com/yegors/callscribe/internal/api"
	"github.com/yegors/callscribe/internal/asr"
	"github.com/yegors/callscribe/internal/audio"
	"github.com/yegors/callscribe/internal/config"
	"github.com/yegors/callscribe/internal/dedup"
	"github.com/yegors/callscribe/internal/oss"
	"github.com/yegors/callscribe/internal/pipeline"
	"github.com/yegors/callscribe/internal/storage/sqlite"
	"github.com/yegors/callscribe/internal/transcript"
	"github.com/yegors/callscribe/internal/websocket"
	"github.com/yegors/callscribe/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Callscribe server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Ensure the database directory exists
	dbDir := filepath.Dir(cfg.Storage.SQLitePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", dbDir))
		os.Exit(1)
	}

	// Create call storage
	callStorage, err := sqlite.NewCallStorage(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer callStorage.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	// Create WebSocket server
	wsServer := websocket.NewServer(log)

	// Start WebSocket server
	go wsServer.Run()

	// Create audio normalizer
	normalizer := audio.NewNormalizer(audio.NormalizerConfig{
		FFmpegPath: cfg.Audio.FFmpegPath,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		ScratchDir: cfg.Audio.ScratchDir,
		MinClipMs:  cfg.Audio.MinClipMs,
	}, log)

	// Create object storage client
	ossClient := oss.NewClient(oss.ClientConfig{
		Endpoint:        cfg.OSS.Endpoint,
		Bucket:          cfg.OSS.Bucket,
		AccessKeyID:     cfg.OSS.AccessKeyID,
		AccessKeySecret: cfg.OSS.AccessKeySecret,
		KeyPrefix:       cfg.OSS.KeyPrefix,
		PublicRead:      cfg.OSS.PublicRead,
		SignedURLTTL:    time.Duration(cfg.OSS.SignedURLTTL) * time.Second,
		Timeout:         time.Duration(cfg.OSS.TimeoutSeconds) * time.Second,
		RetryMaxElapsed: time.Duration(cfg.OSS.RetryMaxElapsed) * time.Millisecond,
	}, log)

	// Create recognition vendor client and runner
	asrClient := asr.NewClient(asr.ClientConfig{
		BaseURL:   cfg.ASR.BaseURL,
		AppID:     cfg.ASR.AppID,
		SecretKey: cfg.ASR.SecretKey,
		Timeout:   time.Duration(cfg.ASR.TimeoutSeconds) * time.Second,
		Features: asr.FeatureFlags{
			Diarization:        cfg.ASR.Diarization,
			Punctuation:        cfg.ASR.Punctuation,
			TextNormalization:  cfg.ASR.TextNormalization,
			DisfluencyRemoval:  cfg.ASR.DisfluencyRemoval,
			VADSegmentation:    cfg.ASR.VADSegmentation,
			ExpectedSpeakerNum: cfg.ASR.ExpectedSpeakerNum,
		},
	}, log)
	asrRunner := asr.NewRunner(asrClient, asr.RunnerConfig{
		PollInterval:    time.Duration(cfg.ASR.PollIntervalSecs) * time.Second,
		MaxPollAttempts: cfg.ASR.MaxPollAttempts,
	}, log)

	// Create transcript assembler
	assembler := transcript.NewAssembler(log)

	// Create duplicate detection service backed by call storage
	dedupService := dedup.NewService(callStorage, dedup.ServiceConfig{
		DaysBack:            cfg.Dedup.DaysBack,
		SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
		CandidateLimit:      cfg.Dedup.CandidateLimit,
	}, log)

	// Create speaker role identification service
	chatClient := openai.NewClient(
		cfg.AI.APIKey,
		time.Duration(cfg.AI.TimeoutSeconds)*time.Second,
		log,
		cfg.AI.BaseURL,
	)
	rolesService := ai.NewRolesService(chatClient, cfg.AI.Model, log)

	// Create processing pipeline and batch orchestrator
	proc := pipeline.New(
		normalizer,
		ossClient,
		asrRunner,
		assembler,
		dedupService,
		rolesService,
		callStorage,
		pipeline.Config{
			RetainAudioDir: cfg.Storage.RetainAudioDir,
			DeleteUploaded: cfg.OSS.DeleteUploaded,
		},
		log,
	)
	orchestrator := pipeline.NewOrchestrator(proc, cfg.Pipeline.MaxConcurrent, log)

	// Create API router
	handler := api.NewHandler(orchestrator, dedupService, callStorage, cfg, log, wsServer)
	router := api.NewRouter(handler, cfg, log)

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}       // Start with the primary port
	if len(cfg.Server.AdditionalPorts) > 0 { // Only append if there are additional ports
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	// Start a server for each configured port
	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      router.Routes(), // All servers use the same main router
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Shutdown all HTTP servers first so no new batches arrive
	log.Info("Shutting down HTTP servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			log.Info("Attempting to shutdown HTTP server", logger.String("addr", srv.Addr))
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait() // Wait for all server shutdowns to complete

	log.Info("All HTTP servers shutdown.")

	// Stop the WebSocket server
	log.Info("Stopping WebSocket server...")
	wsServer.Stop()
	log.Info("WebSocket server stopped.")

	sweepScratchDir(cfg.Audio.ScratchDir, log)

	log.Info("Server fully stopped")
}

// sweepScratchDir removes upload scratch files left behind by batches
// that were interrupted mid-flight.
func sweepScratchDir(dir string, log *logger.Logger) {
	if dir == "" {
		return
	}
	matches, err := filepath.Glob(filepath.Join(dir, "upload_*"))
	if err != nil || len(matches) == 0 {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			log.Warn("Failed to remove scratch file", logger.String("path", path), logger.Error(err))
		}
	}
	log.Info("Swept scratch directory", logger.String("dir", dir), logger.Int("files", len(matches)))
}
