// Command s2sengine is the speech-to-speech translation server of
// spec.md §6: it wires the ASR/NMT/TTS/speaker-embedding HTTP clients,
// the orchestrator, and the WebSocket/HTTP transport, then serves traffic
// until terminated.
//
// Structured the way the teacher's cmd/agent/main.go wires providers from
// environment/config before constructing the orchestrator, generalized
// from a single always-on STDIN microphone loop to a long-running server
// accepting many concurrent sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lingua-s2s/s2s-engine/pkg/emotion"
	"github.com/lingua-s2s/s2s-engine/pkg/engineconfig"
	"github.com/lingua-s2s/s2s-engine/pkg/metrics"
	"github.com/lingua-s2s/s2s-engine/pkg/nmt"
	"github.com/lingua-s2s/s2s-engine/pkg/orchestrator"
	"github.com/lingua-s2s/s2s-engine/pkg/persona"
	"github.com/lingua-s2s/s2s-engine/pkg/speaker"
	"github.com/lingua-s2s/s2s-engine/pkg/transport"
	"github.com/lingua-s2s/s2s-engine/pkg/tts"
	"github.com/lingua-s2s/s2s-engine/pkg/vad"

	"github.com/lingua-s2s/s2s-engine/pkg/asr"
	"github.com/lingua-s2s/s2s-engine/pkg/eventbus"
)

const (
	exitOK                = 0
	exitConfigError       = 1
	exitDependencyAtBoot  = 2
	bootProbeRetries      = 3
	bootProbeRetryBackoff = 2 * time.Second
)

// stdLogger adapts *slog.Logger to both orchestrator.Logger and
// transport.Logger. args are the key/value pairs slog already expects,
// so no printf-style formatting happens here.
type stdLogger struct{ *slog.Logger }

func (l stdLogger) Debug(msg string, args ...interface{}) { l.Logger.Debug(msg, args...) }
func (l stdLogger) Info(msg string, args ...interface{})  { l.Logger.Info(msg, args...) }
func (l stdLogger) Warn(msg string, args ...interface{})  { l.Logger.Warn(msg, args...) }
func (l stdLogger) Error(msg string, args ...interface{}) { l.Logger.Error(msg, args...) }

// plain adapts stdLogger to the printf-style logf signature
// tts.NewSynthesizer expects, for callers that only have a format string.
func (l stdLogger) plain(format string, args ...any) {
	l.Logger.Info(fmt.Sprintf(format, args...))
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "engine.toml", "path to engine TOML config")
	flag.Parse()

	logger := stdLogger{slog.New(slog.NewTextHandler(os.Stdout, nil))}

	cfg, err := engineconfig.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		return exitConfigError
	}

	asrClient := asr.NewHTTPClient(cfg.ASR.URL, cfg.ASR.APIKey)
	nmtClient := nmt.NewHTTPClient(cfg.NMT.URL, cfg.NMT.APIKey)
	embeddingClient := speaker.NewHTTPEmbeddingClient(cfg.SpeakerEmbedding.URL)

	primaryTTS := tts.NewWebsocketEngine("primary", cfg.TTS.URL, cfg.TTS.APIKey)
	var fallbackTTS tts.Engine
	if cfg.YourTTS != nil {
		fallbackTTS = tts.NewWebsocketEngine("yourtts", cfg.YourTTS.URL, cfg.YourTTS.APIKey)
	}

	registerFn := tts.RegisterFunc(func(ctx context.Context, speakerID string, referenceAudio []byte) error {
		return fmt.Errorf("speaker registration transport not configured for %s", speakerID)
	})
	synth := tts.NewSynthesizer(primaryTTS, fallbackTTS, 16000, registerFn, logger.plain)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), bootProbeRetries*bootProbeRetryBackoff)
	defer bootCancel()
	if err := probeDependenciesAtBoot(bootCtx, cfg, logger); err != nil {
		logger.Error("dependency unreachable at boot", "error", err)
		return exitDependencyAtBoot
	}

	bus := eventbus.New()
	occfg := orchestrator.DefaultConfig()
	occfg.DefaultVoiceName = cfg.Engine.DefaultVoiceName

	emotionEngine, err := emotion.NewEngine(cfg.Engine.EmotionModelPath, "")
	if err != nil {
		logger.Warn("emotion engine init failed, continuing without emotion analysis", "error", err)
	}
	var emotionAnalyzer *emotion.Analyzer
	if emotionEngine != nil {
		emotionAnalyzer = emotion.New(emotionEngine)
	}

	orch := orchestrator.New(
		asrClient,
		embeddingClient,
		nmtClient,
		synth,
		func() (vad.InferenceEngine, error) {
			return vad.NewEngine(cfg.Engine.SileroVADModelPath, "", int64(occfg.SampleRate))
		},
		vad.DefaultConfig(),
		bus,
		occfg,
		logger,
		emotionAnalyzer,
		persona.NewDefaultPersonalizer(),
		cfg.Engine.PersonaDefaultTone,
	)

	metricsProvider, err := metrics.NewPrometheusProvider()
	if err != nil {
		logger.Warn("metrics provider init failed, continuing without metrics", "error", err)
	} else {
		defer metricsProvider.Shutdown(context.Background())
	}

	srv := transport.NewServer(orch, cfg.Engine.DefaultSourceLang, cfg.Engine.DefaultTargetLang,
		transport.WithLogger(logger),
		transport.WithHealthChecks(healthChecks(cfg)),
	)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Engine.Port),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			return exitConfigError
		}
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		bus.Close()
	}

	return exitOK
}

func probeDependenciesAtBoot(ctx context.Context, cfg *engineconfig.Config, logger stdLogger) error {
	checks := map[string]string{
		"asr":               cfg.ASR.URL,
		"nmt":               cfg.NMT.URL,
		"tts":               cfg.TTS.URL,
		"speaker_embedding": cfg.SpeakerEmbedding.URL,
	}
	client := &http.Client{Timeout: 3 * time.Second}
	for name, url := range checks {
		var lastErr error
		for attempt := 0; attempt < bootProbeRetries; attempt++ {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err == nil {
				resp, doErr := client.Do(req)
				if doErr == nil {
					resp.Body.Close()
					lastErr = nil
					break
				}
				lastErr = doErr
			} else {
				lastErr = err
			}
			logger.Warn("dependency probe failed, retrying", "dependency", name, "attempt", attempt+1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", name, ctx.Err())
			case <-time.After(bootProbeRetryBackoff):
			}
		}
		if lastErr != nil {
			return fmt.Errorf("%s unreachable: %w", name, lastErr)
		}
	}
	return nil
}

func healthChecks(cfg *engineconfig.Config) map[string]transport.HealthCheck {
	client := &http.Client{Timeout: 3 * time.Second}
	ping := func(name, url string) transport.HealthCheck {
		return func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			metrics.RecordDependencyHealth(ctx, name, resp.StatusCode < 500)
			return nil
		}
	}
	return map[string]transport.HealthCheck{
		"asr":               ping("asr", cfg.ASR.URL),
		"nmt":               ping("nmt", cfg.NMT.URL),
		"tts":               ping("tts", cfg.TTS.URL),
		"speaker_embedding": ping("speaker_embedding", cfg.SpeakerEmbedding.URL),
	}
}
