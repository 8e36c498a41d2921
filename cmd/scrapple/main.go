// Command scrapple runs the salvage robot backend: camera arbitration
// with object detection, the voice turn orchestrator and the control
// process bridge, all behind one HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jakkii/scrapple/internal/config"
	"github.com/jakkii/scrapple/internal/log"
	"github.com/jakkii/scrapple/pkg/bridge"
	"github.com/jakkii/scrapple/pkg/intent"
	"github.com/jakkii/scrapple/pkg/orchestrator"
	"github.com/jakkii/scrapple/pkg/speech"
	"github.com/jakkii/scrapple/pkg/vision"
	"github.com/jakkii/scrapple/pkg/web"
)

func main() {
	cfg := config.Load()
	log.Init(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Vision: detector is optional, the stream works without overlays.
	var detector vision.Detector
	if _, err := os.Stat(cfg.ModelPath); err == nil {
		d, err := vision.NewYOLO(vision.DefaultYOLOConfig(cfg.ModelPath))
		if err != nil {
			log.Warn("detector unavailable, streaming without detections", "error", err)
		} else {
			detector = d
			defer d.Close()
		}
	} else {
		log.Warn("detection model not found, streaming without detections", "path", cfg.ModelPath)
	}

	visionCfg := vision.Config{
		Channels: []vision.ChannelConfig{
			{Name: "front", Index: cfg.FrontCamera, Detect: true},
			{Name: "handeye", Index: cfg.HandeyeCamera},
		},
		Confidence:    cfg.Confidence,
		StreamFPS:     cfg.StreamFPS,
		JPEGQuality:   cfg.JPEGQuality,
		DetectEvery:   cfg.DetectEvery,
		FailThreshold: vision.DefaultConfig().FailThreshold,
	}
	arbiter := vision.NewArbiter(visionCfg, vision.NewCV(), detector)
	defer arbiter.Close()

	// Control process bridge.
	ctl := bridge.New(bridge.ExecLauncher{}, cfg.StopTimeout)

	// Intent evaluator: degrade to the fallback decision without a key.
	var evaluator intent.Evaluator
	gem, err := intent.NewGemini(ctx, intent.GeminiConfig{
		APIKey:      cfg.GeminiAPIKey,
		Model:       cfg.GeminiModel,
		MaxTokens:   cfg.GeminiMaxTokens,
		Temperature: cfg.GeminiTemperature,
	})
	if err != nil {
		log.Warn("evaluator unavailable, commands will be rejected", "error", err)
	} else {
		evaluator = gem
	}

	// Speech: ElevenLabs playback when keyed, silent otherwise; mic
	// capture with typed fallback.
	var speaker speech.Speaker
	el, err := speech.NewElevenLabs(speech.ElevenLabsConfig{
		APIKey:  cfg.ElevenAPIKey,
		VoiceID: cfg.ElevenVoiceID,
		ModelID: cfg.ElevenModel,
	}, &speech.AlsaPlayer{})
	if err != nil {
		log.Warn("speech synthesis unavailable", "error", err)
		speaker = silentSpeaker{}
	} else {
		speaker = el
	}

	var listener speech.Listener = &speech.MicListener{
		Recorder:    &speech.AlsaRecorder{},
		Transcriber: speech.NewGoogleTranscriber(),
	}

	sessionParams := bridge.Params{
		Task:          cfg.DefaultTask,
		EpisodeTimeS:  cfg.EpisodeTimeS,
		RepoID:        cfg.RepoID,
		PolicyPath:    cfg.PolicyPath,
		RobotType:     cfg.RobotType,
		RobotPort:     cfg.RobotPort,
		RobotID:       cfg.RobotID,
		CamerasConfig: cfg.CamerasConfig,
	}

	orch := orchestrator.New(arbiter, ctl, speaker, listener, evaluator,
		intent.Retrier{MaxAttempts: cfg.GeminiMaxRetries, Base: cfg.GeminiRetryDelay},
		orchestrator.Config{
			DefaultVisible: cfg.DefaultVisibleObjects,
			ListenWindow:   time.Duration(cfg.RecordSeconds) * time.Second,
			SettleDelay:    cfg.SettleDelay,
			Session:        sessionParams,
		})

	srv := web.NewServer(web.Config{Port: cfg.Port, Session: sessionParams}, orch, arbiter, ctl)

	go func() {
		sig := <-sigChan
		log.Info("shutting down", "signal", sig.String())
		if err := orch.KillSession(); err != nil {
			log.Warn("session kill on shutdown failed", "error", err)
		}
		cancel()
	}()

	if err := srv.Listen(ctx); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// silentSpeaker keeps the turn protocol running on machines without a
// synthesis key; prompts still appear in the HTTP responses.
type silentSpeaker struct{}

func (silentSpeaker) Speak(context.Context, string) error { return nil }
