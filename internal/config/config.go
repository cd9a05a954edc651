package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/parley/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Realtime  RealtimeConfig  `koanf:"realtime"`
	Session   SessionConfig   `koanf:"session"`
	Scenarios ScenariosConfig `koanf:"scenarios"`
	Prompts   PromptsConfig   `koanf:"prompts"`
	Store     StoreConfig     `koanf:"store"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type RealtimeConfig struct {
	Provider           string `koanf:"provider"`
	URL                string `koanf:"url"`
	Model              string `koanf:"model"`
	APIKey             string `koanf:"api_key"`
	Voice              string `koanf:"voice"`
	TranscriptionModel string `koanf:"transcription_model"`
	HandshakeTimeout   string `koanf:"handshake_timeout"`
	DisconnectTimeout  string `koanf:"disconnect_timeout"`
}

type SessionConfig struct {
	TickInterval    string `koanf:"tick_interval"`
	EchoWindow      string `koanf:"echo_window"`
	InboxSize       int    `koanf:"inbox_size"`
	DefaultScenario string `koanf:"default_scenario"`
	Record          bool   `koanf:"record"`
}

type ScenariosConfig struct {
	Path string `koanf:"path"`
	Seed int64  `koanf:"seed"`
}

type PromptsConfig struct {
	Preamble string `koanf:"preamble"`
	Closing  string `koanf:"closing"`
}

type StoreConfig struct {
	WorkspaceID              string `koanf:"workspace_id"`
	WorkspacePath            string `koanf:"workspace_path"`
	LockTimeout              string `koanf:"lock_timeout"`
	LockRetry                string `koanf:"lock_retry"`
	LockMaxRetry             int    `koanf:"lock_max_retry"`
	InboxSize                int    `koanf:"inbox_size"`
	TranscriptRotateMaxBytes int64  `koanf:"transcript_rotate_max_bytes"`
	StaleLockTTL             string `koanf:"stale_lock_ttl"`
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

const (
	DefaultLogLevel                      = "info"
	DefaultRealtimeProvider              = ProviderOpenAI
	DefaultRealtimeOpenAIURL             = "wss://api.openai.com/v1/realtime"
	DefaultRealtimeOpenAIModel           = "gpt-4o-realtime-preview"
	DefaultRealtimeGeminiModel           = "gemini-2.0-flash-live-001"
	DefaultRealtimeVoice                 = "alloy"
	DefaultRealtimeTranscriptionModel    = "whisper-1"
	DefaultRealtimeHandshakeTimeout      = "15s"
	DefaultRealtimeDisconnectTimeout     = "3s"
	DefaultSessionTickInterval           = "1s"
	DefaultSessionEchoWindow             = "30s"
	DefaultSessionInboxSize              = 64
	DefaultSessionScenario               = "cold-call"
	DefaultSessionRecord                 = true
	DefaultScenariosPath                 = ""
	DefaultScenariosSeed                 = 0
	DefaultPromptsPreamble               = "You are role-playing a prospect in a live sales-training call. Stay in character for the whole call and never reveal that you are an AI or that this is an exercise."
	DefaultPromptsClosing                = "Keep each reply short and spoken, the way a real person talks on the phone. Let the trainee lead; react to what they actually say."
	DefaultStoreWorkspaceID              = "default"
	DefaultStoreLockTimeout              = "5s"
	DefaultStoreLockRetry                = "100ms"
	DefaultStoreLockMaxRetry             = 50
	DefaultStoreInboxSize                = 100
	DefaultStoreTranscriptRotateMaxBytes = 10 * 1024 * 1024
	DefaultStoreStaleLockTTL             = "10m"
)

const envPrefix = "PARLEY_"

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"log.level":                         DefaultLogLevel,
		"realtime.provider":                 DefaultRealtimeProvider,
		"realtime.url":                      "",
		"realtime.model":                    "",
		"realtime.voice":                    DefaultRealtimeVoice,
		"realtime.transcription_model":      DefaultRealtimeTranscriptionModel,
		"realtime.handshake_timeout":        DefaultRealtimeHandshakeTimeout,
		"realtime.disconnect_timeout":       DefaultRealtimeDisconnectTimeout,
		"session.tick_interval":             DefaultSessionTickInterval,
		"session.echo_window":               DefaultSessionEchoWindow,
		"session.inbox_size":                DefaultSessionInboxSize,
		"session.default_scenario":          DefaultSessionScenario,
		"session.record":                    DefaultSessionRecord,
		"scenarios.path":                    DefaultScenariosPath,
		"scenarios.seed":                    DefaultScenariosSeed,
		"prompts.preamble":                  DefaultPromptsPreamble,
		"prompts.closing":                   DefaultPromptsClosing,
		"store.workspace_id":                DefaultStoreWorkspaceID,
		"store.workspace_path":              filepath.Join(os.Getenv("HOME"), ".parley", "workspaces"),
		"store.lock_timeout":                DefaultStoreLockTimeout,
		"store.lock_retry":                  DefaultStoreLockRetry,
		"store.lock_max_retry":              DefaultStoreLockMaxRetry,
		"store.inbox_size":                  DefaultStoreInboxSize,
		"store.transcript_rotate_max_bytes": DefaultStoreTranscriptRotateMaxBytes,
		"store.stale_lock_ttl":              DefaultStoreStaleLockTTL,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".parley", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// PARLEY_REALTIME__API_KEY -> realtime.api_key
	k.Load(env.Provider(envPrefix, ".", envKey), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	applyProviderDefaults(&cfg)

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

func applyProviderDefaults(cfg *Config) {
	cfg.Realtime.Provider = strings.ToLower(strings.TrimSpace(cfg.Realtime.Provider))
	if cfg.Realtime.Provider == "" {
		cfg.Realtime.Provider = DefaultRealtimeProvider
	}

	switch cfg.Realtime.Provider {
	case ProviderGemini:
		if cfg.Realtime.Model == "" {
			cfg.Realtime.Model = DefaultRealtimeGeminiModel
		}
		if cfg.Realtime.APIKey == "" {
			cfg.Realtime.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	default:
		if cfg.Realtime.URL == "" {
			cfg.Realtime.URL = DefaultRealtimeOpenAIURL
		}
		if cfg.Realtime.Model == "" {
			cfg.Realtime.Model = DefaultRealtimeOpenAIModel
		}
		if cfg.Realtime.APIKey == "" {
			cfg.Realtime.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	workspacePath, err := pathutil.Expand(cfg.Store.WorkspacePath)
	if err != nil {
		return err
	}
	if workspacePath != "" {
		cfg.Store.WorkspacePath = workspacePath
	}

	scenariosPath, err := pathutil.Expand(cfg.Scenarios.Path)
	if err != nil {
		return err
	}
	if scenariosPath != "" {
		cfg.Scenarios.Path = scenariosPath
	}

	return nil
}
