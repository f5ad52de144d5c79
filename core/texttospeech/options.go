package texttospeech

type SynthesisOptions struct {
	// Speed is the playback speed multiplier. Zero means the service default.
	Speed float64
	// Voice selects the service voice where configurable.
	Voice string
}

type SynthesisOption func(*SynthesisOptions)

func WithSpeed(speed float64) SynthesisOption {
	return func(o *SynthesisOptions) {
		o.Speed = speed
	}
}

func WithVoice(voice string) SynthesisOption {
	return func(o *SynthesisOptions) {
		o.Voice = voice
	}
}
