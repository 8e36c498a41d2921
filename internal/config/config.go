// Package config provides environment-based configuration for scrapple.
// Every value has a working default so the backend boots without a .env;
// API-keyed services degrade gracefully when their key is absent.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full backend configuration.
type Config struct {
	// Server
	Port     string
	LogLevel string

	// API keys
	GeminiAPIKey string
	ElevenAPIKey string

	// Gemini intent evaluation
	GeminiModel       string
	GeminiMaxTokens   int
	GeminiTemperature float64
	GeminiMaxRetries  int
	GeminiRetryDelay  time.Duration

	// ElevenLabs speech
	ElevenVoiceID string
	ElevenModel   string

	// Audio capture
	RecordSeconds int

	// Vision
	ModelPath     string
	Confidence    float64
	StreamFPS     int
	JPEGQuality   int
	DetectEvery   int
	FrontCamera   int
	HandeyeCamera int

	// Fallback when the detector sees nothing (demo bench set)
	DefaultVisibleObjects []string

	// Robot control process
	RobotType     string
	RobotPort     string
	RobotID       string
	CamerasConfig string
	RepoID        string
	EpisodeTimeS  int
	PolicyPath    string
	DefaultTask   string
	SettleDelay   time.Duration
	StopTimeout   time.Duration
}

// Load reads configuration from the environment.
func Load() Config {
	return Config{
		Port:     env("PORT", "5000"),
		LogLevel: env("LOG_LEVEL", "info"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		ElevenAPIKey: os.Getenv("ELEVEN_API_KEY"),

		GeminiModel:       env("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiMaxTokens:   envInt("GEMINI_MAX_OUTPUT_TOKENS", 256),
		GeminiTemperature: envFloat("GEMINI_TEMPERATURE", 0.3),
		GeminiMaxRetries:  envInt("GEMINI_MAX_RETRIES", 3),
		GeminiRetryDelay:  envDuration("GEMINI_RETRY_DELAY", 2*time.Second),

		ElevenVoiceID: env("ELEVENLABS_VOICE_ID", "JBFqnCBsd6RMkjVDRZzb"),
		ElevenModel:   env("ELEVENLABS_MODEL", "eleven_monolingual_v1"),

		RecordSeconds: envInt("AUDIO_RECORD_SECONDS", 4),

		ModelPath:     env("CV_MODEL_PATH", "models/scrapple_yolov8n.onnx"),
		Confidence:    envFloat("CV_CONFIDENCE_THRESHOLD", 0.5),
		StreamFPS:     envInt("CV_STREAM_FPS", 20),
		JPEGQuality:   envInt("CV_JPEG_QUALITY", 80),
		DetectEvery:   envInt("CV_DETECT_EVERY", 3),
		FrontCamera:   envInt("CV_FRONT_CAMERA", 2),
		HandeyeCamera: envInt("CV_HANDEYE_CAMERA", 3),

		DefaultVisibleObjects: envList("DEFAULT_VISIBLE_OBJECTS",
			[]string{"gear", "heart", "hotdog", "nut", "skull"}),

		RobotType:     env("LEROBOT_ROBOT_TYPE", "so101_follower"),
		RobotPort:     env("LEROBOT_ROBOT_PORT", "COM24"),
		RobotID:       env("LEROBOT_ROBOT_ID", "my_awesome_follower_arm"),
		CamerasConfig: env("LEROBOT_CAMERAS_CONFIG", defaultCamerasConfig),
		RepoID:        env("LEROBOT_REPO_ID", "jakkii/eval_scrapple"),
		EpisodeTimeS:  envInt("LEROBOT_EPISODE_TIME_S", 3600),
		PolicyPath:    env("LEROBOT_POLICY_PATH", "outputs/train/scrapple_model_4"),
		DefaultTask:   env("LEROBOT_DEFAULT_TASK", "Grab the Nut"),
		SettleDelay:   envDuration("LEROBOT_SETTLE_DELAY", 500*time.Millisecond),
		StopTimeout:   envDuration("LEROBOT_STOP_TIMEOUT", 5*time.Second),
	}
}

const defaultCamerasConfig = "{ handeye: {type: opencv, index_or_path: 3, width: 640, height: 480, fps: 0}, " +
	"front: {type: opencv, index_or_path: 2, width: 640, height: 480, fps: 30}}"

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
