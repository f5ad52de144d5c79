package speechtotext

import "github.com/gideontalk/talk-core/core/audio"

type TranscriptionOptions struct {
	// EncodingInfo describes the raw PCM handed to Transcribe. Clients frame
	// or convert as their service requires.
	EncodingInfo audio.EncodingInfo

	// Language hints the transcription language where the service supports it.
	Language string
}

type TranscriptionOption func(*TranscriptionOptions)

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}

func WithLanguage(language string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Language = language
	}
}
