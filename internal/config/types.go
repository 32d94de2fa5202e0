// Package config resolves, parses, validates, and defaults echoes
// configuration. Values are read once at startup; there is no hot reload.
package config

// Config is the fully materialized runtime configuration.
type Config struct {
	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Session  SessionConfig  `yaml:"session"`
	STT      STTConfig      `yaml:"stt"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Output   OutputConfig   `yaml:"output"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Debug    DebugConfig    `yaml:"debug"`
}

// AudioConfig controls capture device selection and the capture format.
type AudioConfig struct {
	// Input matches a Pulse source id or description substring; "default"
	// selects the server default source.
	Input    string `yaml:"input"`
	Fallback string `yaml:"fallback"`
	// SampleRate and Channels are the requested capture format; the
	// pipeline resamples to mono 16 kHz regardless.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	// RingBufferMS sizes the callback-to-processing frame queue.
	RingBufferMS int `yaml:"ring_buffer_ms"`
}

// VADConfig tunes speech detection and segmentation.
type VADConfig struct {
	Threshold   float64 `yaml:"threshold"`
	HangoverMS  int     `yaml:"hangover_ms"`
	MinSpeechMS int     `yaml:"min_speech_ms"`
}

// SessionConfig bounds one recording and the trigger behavior.
type SessionConfig struct {
	MaxDurationSec    int    `yaml:"max_duration_sec"`
	TriggerMode       string `yaml:"trigger_mode"` // hold or toggle
	TriggerDebounceMS int    `yaml:"trigger_debounce_ms"`
}

// STTConfig selects and configures the transcription provider.
type STTConfig struct {
	Provider string         `yaml:"provider"` // local, openai, whisperd
	Language string         `yaml:"language"`
	Local    LocalSTTConfig `yaml:"local"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Whisperd WhisperdConfig `yaml:"whisperd"`
}

// LocalSTTConfig configures in-process whisper.cpp inference.
type LocalSTTConfig struct {
	ModelPath string `yaml:"model_path"`
	Threads   int    `yaml:"threads"`
}

// OpenAIConfig configures the OpenAI transcription API variant.
// APIKey falls back to the OPENAI_API_KEY environment variable.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// WhisperdConfig configures a generic Whisper-compatible HTTP server.
type WhisperdConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// DispatchConfig bounds transcription submission.
type DispatchConfig struct {
	TimeoutMS      int `yaml:"timeout_ms"`
	Workers        int `yaml:"workers"`
	MaxRetries     int `yaml:"max_retries"`
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
}

// OutputConfig controls transcript delivery to the foreground application.
type OutputConfig struct {
	ClipboardCmd  CommandConfig `yaml:"clipboard_cmd"`
	TypeCmd       CommandConfig `yaml:"type_cmd"`
	TrailingSpace bool          `yaml:"trailing_space"`
}

// NotifyConfig controls desktop notification delivery.
type NotifyConfig struct {
	Enable  bool   `yaml:"enable"`
	Command string `yaml:"command"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enable bool   `yaml:"enable"`
	Bind   string `yaml:"bind"`
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	AudioDump bool `yaml:"audio_dump"`
}

// Warning is a non-fatal load/validation message.
type Warning struct {
	Message string
}
