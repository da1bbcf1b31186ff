// main package for the voice-service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/model"
	"github.com/book-expert/voice-service/internal/server"
	"github.com/book-expert/voice-service/internal/stt"
	"github.com/book-expert/voice-service/internal/stt/whisper"
	"github.com/book-expert/voice-service/internal/tempfile"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/book-expert/voice-service/internal/worker"
)

const (
	bootstrapLogFile  = "voice-service-bootstrap.log"
	serviceLogFile    = "voice-service.log"
	natsClientName    = "voice-service"
	readHeaderTimeout = 10 * time.Second
	flagConfigDesc    = "Path to a TOML config file (defaults to the central configurator)"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

// loadConfig prefers an explicit file, then the central configurator. When
// neither yields a configuration the built-in defaults are used.
func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	cfg, err := config.Load(log)
	if err == nil {
		return cfg, nil
	}

	log.Warn("Configurator unavailable, using built-in defaults: %v", err)

	cfg = config.Default()

	envErr := cfg.ApplyEnv()
	if envErr != nil {
		return nil, envErr
	}

	return cfg, nil
}

func run() error {
	configPath := flag.String("config", "", flagConfigDesc)
	flag.Parse()

	// A missing .env file is the normal case in production.
	_ = godotenv.Load()

	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration
	cfg, err := loadConfig(*configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Wire the orchestrators
	broker, err := tempfile.New(cfg.Paths.TempDir, log)
	if err != nil {
		return fmt.Errorf("failed to prepare temp dir: %w", err)
	}

	manager := model.NewManager(whisper.NewFactory(log), cfg.EngineConfig(), log)

	defer func() {
		closeErr := manager.Close()
		if closeErr != nil {
			log.Warn("Failed to release speech model: %v", closeErr)
		}
	}()

	transcriber := stt.NewTranscriber(manager, broker, log)
	processor := tts.NewEspeakProcessor(cfg.TTS.BinaryPath, cfg.TTS.Timeout(), log)
	synthesizer := tts.NewSynthesizer(processor, broker, tts.Defaults{
		Voice: cfg.TTS.DefaultVoice,
		Speed: cfg.TTS.DefaultSpeed,
	}, log)

	httpServer := &http.Server{
		Addr: cfg.Server.Address,
		Handler: server.New(transcriber, synthesizer, manager, server.Options{
			AllowedOrigins:    cfg.Server.AllowedOrigins,
			MaxUploadBytes:    cfg.Server.MaxUploadBytes,
			RequestsPerMinute: cfg.Server.RequestsPerMinute,
		}, log).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// 5. Serve until a signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.System("Voice service listening on %s (temp dir %s)", cfg.Server.Address, broker.Dir())

		serveErr := httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", serveErr)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()

		log.System("Shutting down HTTP server")

		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.NATS.Enabled {
		natsErr := startWorker(groupCtx, group, cfg, transcriber, synthesizer, log)
		if natsErr != nil {
			stop()
			_ = group.Wait()

			return natsErr
		}
	}

	return group.Wait()
}

func startWorker(
	ctx context.Context,
	group *errgroup.Group,
	cfg *config.Config,
	transcriber *stt.Transcriber,
	synthesizer *tts.Synthesizer,
	log *logger.Logger,
) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(natsClientName))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	natsWorker, err := worker.NewNatsWorker(natsConnection, worker.Options{
		STTSubject: cfg.NATS.STTSubject,
		TTSSubject: cfg.NATS.TTSSubject,
		QueueGroup: cfg.NATS.QueueGroup,
		Workers:    cfg.NATS.Workers,
	}, transcriber, synthesizer, log)
	if err != nil {
		natsConnection.Close()

		return fmt.Errorf("failed to create NATS worker: %w", err)
	}

	group.Go(func() error {
		defer natsConnection.Close()

		return natsWorker.Run(ctx)
	})

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
