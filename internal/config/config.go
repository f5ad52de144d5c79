// Package config loads and persists assistant settings. Values layer in
// order: struct defaults, the settings file, a .env file, then environment
// variables, with later sources winning.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/jinzhu/copier"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const settingsDirName = "gideontalk"
const settingsFileName = "settings.json"

// Settings holds all user-tunable configuration for the assistant.
type Settings struct {
	// Speech to text
	TranscriptionURL string `json:"transcriptionUrl" envconfig:"TRANSCRIPTION_URL" default:"http://localhost:5001"`
	DeepgramAPIKey   string `json:"deepgramApiKey,omitempty" envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `json:"deepgramModel,omitempty" envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// Chat
	ChatURL      string `json:"chatUrl" envconfig:"CHAT_URL" default:"http://localhost:8080"`
	ChatModel    string `json:"chatModel" envconfig:"CHAT_MODEL" default:"gideon"`
	GatewayToken string `json:"gatewayToken,omitempty" envconfig:"GATEWAY_TOKEN" default:""`
	SystemPrompt string `json:"systemPrompt,omitempty" envconfig:"SYSTEM_PROMPT" default:""`
	HistoryLimit int    `json:"historyLimit" envconfig:"HISTORY_LIMIT" default:"20"`
	UseStreaming bool   `json:"useStreaming" envconfig:"USE_STREAMING" default:"true"`

	// Text to speech
	SynthesisURL    string  `json:"synthesisUrl" envconfig:"SYNTHESIS_URL" default:"http://localhost:5002"`
	SynthesisSpeed  float64 `json:"synthesisSpeed" envconfig:"SYNTHESIS_SPEED" default:"1.0"`
	OpenAIAPIKey    string  `json:"openaiApiKey,omitempty" envconfig:"OPENAI_API_KEY" default:""`
	OpenAIVoice     string  `json:"openaiVoice,omitempty" envconfig:"OPENAI_VOICE" default:"echo"`
	UseOpenAISpeech bool    `json:"useOpenaiSpeech" envconfig:"USE_OPENAI_SPEECH" default:"false"`

	// Listening behavior
	SilenceThresholdDB float64 `json:"silenceThresholdDb" envconfig:"SILENCE_THRESHOLD_DB" default:"-40"`
	SilenceTimeoutSec  float64 `json:"silenceTimeoutSec" envconfig:"SILENCE_TIMEOUT_SEC" default:"2"`
	ContinuousMode     bool    `json:"continuousMode" envconfig:"CONTINUOUS_MODE" default:"false"`
	RelistenDelaySec   float64 `json:"relistenDelaySec" envconfig:"RELISTEN_DELAY_SEC" default:"1"`

	// UI
	OverlayAddr string `json:"overlayAddr,omitempty" envconfig:"OVERLAY_ADDR" default:""`
}

// Load layers settings from defaults, the settings file, .env, and the
// environment.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	var settings Settings
	if err := envconfig.Process("", &settings); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	path, err := settingsPath()
	if err == nil {
		if data, err := os.ReadFile(path); err == nil {
			var fromFile Settings
			if err := copier.Copy(&fromFile, &settings); err != nil {
				return nil, fmt.Errorf("failed to copy settings: %w", err)
			}
			if err := json.Unmarshal(data, &fromFile); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			mergeFileValues(&settings, &fromFile)
		}
	}

	if settings.GatewayToken == "" {
		if token, err := LoadGatewayToken(); err == nil {
			settings.GatewayToken = token
		}
	}

	return &settings, nil
}

// mergeFileValues applies file values for every field whose environment
// variable is unset. The environment always wins over the file.
func mergeFileValues(settings, fromFile *Settings) {
	apply := func(envVar string, set func()) {
		if _, ok := os.LookupEnv(envVar); !ok {
			set()
		}
	}
	apply("TRANSCRIPTION_URL", func() { settings.TranscriptionURL = fromFile.TranscriptionURL })
	apply("DEEPGRAM_API_KEY", func() { settings.DeepgramAPIKey = fromFile.DeepgramAPIKey })
	apply("DEEPGRAM_MODEL", func() { settings.DeepgramModel = fromFile.DeepgramModel })
	apply("CHAT_URL", func() { settings.ChatURL = fromFile.ChatURL })
	apply("CHAT_MODEL", func() { settings.ChatModel = fromFile.ChatModel })
	apply("GATEWAY_TOKEN", func() { settings.GatewayToken = fromFile.GatewayToken })
	apply("SYSTEM_PROMPT", func() { settings.SystemPrompt = fromFile.SystemPrompt })
	apply("HISTORY_LIMIT", func() { settings.HistoryLimit = fromFile.HistoryLimit })
	apply("USE_STREAMING", func() { settings.UseStreaming = fromFile.UseStreaming })
	apply("SYNTHESIS_URL", func() { settings.SynthesisURL = fromFile.SynthesisURL })
	apply("SYNTHESIS_SPEED", func() { settings.SynthesisSpeed = fromFile.SynthesisSpeed })
	apply("OPENAI_API_KEY", func() { settings.OpenAIAPIKey = fromFile.OpenAIAPIKey })
	apply("OPENAI_VOICE", func() { settings.OpenAIVoice = fromFile.OpenAIVoice })
	apply("USE_OPENAI_SPEECH", func() { settings.UseOpenAISpeech = fromFile.UseOpenAISpeech })
	apply("SILENCE_THRESHOLD_DB", func() { settings.SilenceThresholdDB = fromFile.SilenceThresholdDB })
	apply("SILENCE_TIMEOUT_SEC", func() { settings.SilenceTimeoutSec = fromFile.SilenceTimeoutSec })
	apply("CONTINUOUS_MODE", func() { settings.ContinuousMode = fromFile.ContinuousMode })
	apply("RELISTEN_DELAY_SEC", func() { settings.RelistenDelaySec = fromFile.RelistenDelaySec })
	apply("OVERLAY_ADDR", func() { settings.OverlayAddr = fromFile.OverlayAddr })
}

// Save writes settings to the settings file, creating the directory if
// needed.
func (s *Settings) Save() error {
	path, err := settingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// Clone returns a deep copy, for handing settings across goroutines.
func (s *Settings) Clone() (*Settings, error) {
	var clone Settings
	if err := copier.Copy(&clone, s); err != nil {
		return nil, fmt.Errorf("failed to clone settings: %w", err)
	}
	return &clone, nil
}

// Schema returns the JSON schema for Settings, served to UI clients so they
// can render a settings form.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return reflector.Reflect(&Settings{})
}

func settingsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, settingsDirName, settingsFileName), nil
}
