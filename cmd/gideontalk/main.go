package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	orchestration "github.com/gideontalk/talk-core/core"
	"github.com/gideontalk/talk-core/core/audio/miniaudio"
	openaichat "github.com/gideontalk/talk-core/core/llms/openai"
	deepgramstt "github.com/gideontalk/talk-core/core/speechtotext/deepgram"
	"github.com/gideontalk/talk-core/core/speechtotext/whisper"
	"github.com/gideontalk/talk-core/core/texttospeech"
	openaitts "github.com/gideontalk/talk-core/core/texttospeech/openai"
	"github.com/gideontalk/talk-core/core/texttospeech/stella"
	"github.com/gideontalk/talk-core/internal/config"
	"github.com/gideontalk/talk-core/internal/overlay"
	"github.com/gideontalk/talk-core/internal/tui"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	audioClient, err := miniaudio.NewClient()
	if err != nil {
		log.Fatalf("Failed to initialize audio devices: %v", err)
	}
	defer audioClient.Close()

	orchestrator := orchestration.NewOrchestrator(buildOptions(settings, audioClient)...)
	defer orchestrator.Close()

	var overlayServer *overlay.Server
	if settings.OverlayAddr != "" {
		controller := &appController{
			Orchestrator: orchestrator,
			settings:     settings,
			audioClient:  audioClient,
		}
		overlayServer = overlay.NewServer(settings.OverlayAddr, controller)
		go func() {
			if err := overlayServer.Start(); err != nil {
				log.Printf("Overlay server stopped: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			overlayServer.Shutdown(ctx)
		}()
	}

	program := tea.NewProgram(tui.NewModel(orchestrator), tea.WithAltScreen())

	orchestrator.Orchestrate(context.Background(),
		orchestration.OnStateChange(func(snapshot orchestration.Snapshot) {
			program.Send(tui.StateMsg(snapshot))
			if overlayServer != nil {
				overlayServer.PublishState(snapshot)
			}
		}),
		orchestration.OnInputLevel(func(level float64) {
			program.Send(tui.LevelMsg(level))
			if overlayServer != nil {
				overlayServer.PublishLevel(level)
			}
		}),
	)

	if _, err := program.Run(); err != nil {
		log.Fatalf("Failed to run UI: %v", err)
	}
}

// appController is the overlay's view of the app: orchestrator intents plus
// settings application.
type appController struct {
	*orchestration.Orchestrator

	mu          sync.Mutex
	settings    *config.Settings
	audioClient *miniaudio.Client
}

// ApplySettings merges the payload over the current settings, persists the
// result and reconfigures the orchestrator. Fields absent from the payload
// keep their current values.
func (c *appController) ApplySettings(payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated, err := c.settings.Clone()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, updated); err != nil {
		return fmt.Errorf("invalid settings payload: %w", err)
	}
	if err := updated.Save(); err != nil {
		return err
	}

	*c.settings = *updated
	c.Orchestrator.UpdateSettings(buildOptions(updated, c.audioClient)...)
	return nil
}

func buildOptions(settings *config.Settings, audioClient *miniaudio.Client) []orchestration.OrchestratorOption {
	opts := []orchestration.OrchestratorOption{
		orchestration.WithAudioInput(audioClient),
		orchestration.WithAudioOutput(audioClient),
		orchestration.WithHistoryLimit(settings.HistoryLimit),
		orchestration.WithSilenceDetection(
			settings.SilenceThresholdDB,
			time.Duration(settings.SilenceTimeoutSec*float64(time.Second)),
		),
	}

	chatOpts := []openaichat.ClientOption{}
	if settings.SystemPrompt != "" {
		chatOpts = append(chatOpts, openaichat.WithSystemPrompt(settings.SystemPrompt))
	}
	chatClient := openaichat.NewClient(settings.ChatURL, settings.GatewayToken, settings.ChatModel, chatOpts...)
	var chat orchestration.LLM = chatClient
	if !settings.UseStreaming {
		chat = chatClient.PromptOnly()
	}
	opts = append(opts, orchestration.WithChatClient(chat))

	if settings.DeepgramAPIKey != "" {
		opts = append(opts, orchestration.WithSpeechToTextClient(
			deepgramstt.NewClient(settings.DeepgramAPIKey, deepgramstt.WithModel(settings.DeepgramModel)),
		))
	} else {
		opts = append(opts, orchestration.WithSpeechToTextClient(
			whisper.NewClient(settings.TranscriptionURL),
		))
	}

	if settings.UseOpenAISpeech && settings.OpenAIAPIKey != "" {
		opts = append(opts, orchestration.WithTextToSpeechClient(
			openaitts.NewClient(settings.OpenAIAPIKey, openaitts.WithVoice(settings.OpenAIVoice)),
		))
	} else {
		opts = append(opts, orchestration.WithTextToSpeechClient(
			stella.NewClient(settings.SynthesisURL),
		))
	}
	if settings.SynthesisSpeed > 0 {
		opts = append(opts, orchestration.WithSynthesisOptions(
			texttospeech.WithSpeed(settings.SynthesisSpeed),
		))
	}

	if settings.ContinuousMode {
		opts = append(opts, orchestration.WithContinuousMode(
			time.Duration(settings.RelistenDelaySec*float64(time.Second)),
		))
	} else {
		opts = append(opts, orchestration.WithoutContinuousMode())
	}

	return opts
}
