package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the agent. Everything is read once
// at process start; there is no hot reload.
type Config struct {
	Server  ServerConfig
	Hotkey  HotkeyConfig
	Audio   AudioConfig
	Rules   RulesConfig
	Session SessionConfig
	Typing  TypingConfig
}

type ServerConfig struct {
	URL            string
	ConnectTimeout time.Duration
}

type HotkeyConfig struct {
	Combo    []string
	Cooldown time.Duration
}

type AudioConfig struct {
	Backend         string
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	FrameMs         int
}

type RulesConfig struct {
	Path string
}

type SessionConfig struct {
	MaxWait time.Duration
}

type TypingConfig struct {
	Delay time.Duration
}

// Load resolves configuration from a .env file (if present) and environment
// variables with sensible defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	combo, err := ParseCombo(envOrDefault("WHISPERKEY_HOTKEY", "ctrl+alt+r"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			URL:            envOrDefault("WHISPERKEY_SERVER_URL", "ws://localhost:8000/asr"),
			ConnectTimeout: time.Duration(envOrDefaultInt("WHISPERKEY_CONNECT_TIMEOUT_MS", 10000)) * time.Millisecond,
		},
		Hotkey: HotkeyConfig{
			Combo:    combo,
			Cooldown: time.Duration(envOrDefaultInt("WHISPERKEY_HOTKEY_COOLDOWN_MS", 500)) * time.Millisecond,
		},
		Audio: AudioConfig{
			Backend:         envOrDefault("WHISPERKEY_AUDIO_BACKEND", "ffmpeg"),
			RecorderCommand: envOrDefault("WHISPERKEY_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("WHISPERKEY_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("WHISPERKEY_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("WHISPERKEY_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("WHISPERKEY_CHANNELS", 1),
			FrameMs:         envOrDefaultInt("WHISPERKEY_FRAME_MS", 250),
		},
		Rules: RulesConfig{
			Path: strings.TrimSpace(os.Getenv("WHISPERKEY_RULES_FILE")),
		},
		Session: SessionConfig{
			MaxWait: time.Duration(envOrDefaultInt("WHISPERKEY_MAX_WAIT_MS", 10000)) * time.Millisecond,
		},
		Typing: TypingConfig{
			Delay: time.Duration(envOrDefaultInt("WHISPERKEY_TYPING_DELAY_MS", 15)) * time.Millisecond,
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.FrameMs <= 0 {
		cfg.Audio.FrameMs = 250
	}
	if cfg.Session.MaxWait < 0 {
		cfg.Session.MaxWait = 0
	}

	switch cfg.Audio.Backend {
	case "ffmpeg", "portaudio":
	default:
		return Config{}, fmt.Errorf("unknown audio backend %q (supported: ffmpeg, portaudio)", cfg.Audio.Backend)
	}

	if !strings.HasPrefix(cfg.Server.URL, "ws://") && !strings.HasPrefix(cfg.Server.URL, "wss://") {
		return Config{}, fmt.Errorf("server URL %q must use ws:// or wss://", cfg.Server.URL)
	}

	return cfg, nil
}

// ParseCombo splits a "ctrl+alt+r" style combo into normalized key names.
func ParseCombo(raw string) ([]string, error) {
	parts := strings.Split(raw, "+")
	keys := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		key := strings.ToLower(strings.TrimSpace(part))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, errors.New("hotkey combo is empty")
	}
	return keys, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
