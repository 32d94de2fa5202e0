package config

// Default returns the canonical runtime configuration used when no file is
// present. Every value can be overridden from the config file.
func Default() Config {
	clipboard := "wl-copy --trim-newline"
	typeCmd := "wtype -"

	return Config{
		Audio: AudioConfig{
			Input:        "default",
			Fallback:     "default",
			SampleRate:   48000,
			Channels:     1,
			RingBufferMS: 400,
		},
		VAD: VADConfig{
			Threshold:   0.015,
			HangoverMS:  500,
			MinSpeechMS: 300,
		},
		Session: SessionConfig{
			MaxDurationSec:    300,
			TriggerMode:       "hold",
			TriggerDebounceMS: 50,
		},
		STT: STTConfig{
			Provider: "openai",
			Language: "en",
			Local: LocalSTTConfig{
				Threads: 4,
			},
			OpenAI: OpenAIConfig{
				Model: "whisper-1",
			},
			Whisperd: WhisperdConfig{
				Endpoint: "http://127.0.0.1:9000/v1/audio/transcriptions",
			},
		},
		Dispatch: DispatchConfig{
			TimeoutMS:      30000,
			Workers:        2,
			MaxRetries:     3,
			RetryBackoffMS: 500,
		},
		Output: OutputConfig{
			ClipboardCmd:  mustCommand(clipboard),
			TypeCmd:       mustCommand(typeCmd),
			TrailingSpace: true,
		},
		Notify: NotifyConfig{
			Enable:  true,
			Command: "notify-send",
		},
		Metrics: MetricsConfig{
			Bind: "127.0.0.1:9471",
		},
		Debug: DebugConfig{},
	}
}
