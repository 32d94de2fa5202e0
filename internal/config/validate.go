package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if cfg.Audio.SampleRate < 8000 {
		return nil, fmt.Errorf("audio.sample_rate must be >= 8000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		return nil, fmt.Errorf("audio.channels must be 1 or 2, got %d", cfg.Audio.Channels)
	}
	if cfg.Audio.RingBufferMS < 200 {
		return nil, fmt.Errorf("audio.ring_buffer_ms must be >= 200 to absorb scheduling jitter, got %d", cfg.Audio.RingBufferMS)
	}

	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold >= 1 {
		return nil, fmt.Errorf("vad.threshold must be in (0, 1), got %g", cfg.VAD.Threshold)
	}
	if cfg.VAD.HangoverMS <= 0 {
		return nil, fmt.Errorf("vad.hangover_ms must be > 0")
	}
	if cfg.VAD.MinSpeechMS < 0 {
		return nil, fmt.Errorf("vad.min_speech_ms must be >= 0")
	}

	if cfg.Session.MaxDurationSec <= 0 {
		return nil, fmt.Errorf("session.max_duration_sec must be > 0")
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Session.TriggerMode))
	if mode != "hold" && mode != "toggle" {
		return nil, fmt.Errorf("session.trigger_mode must be one of: hold, toggle")
	}
	if cfg.Session.TriggerDebounceMS < 0 {
		return nil, fmt.Errorf("session.trigger_debounce_ms must be >= 0")
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.STT.Provider))
	switch provider {
	case "local":
		if strings.TrimSpace(cfg.STT.Local.ModelPath) == "" {
			return nil, fmt.Errorf("stt.local.model_path must be set when stt.provider=local")
		}
	case "openai":
		if strings.TrimSpace(cfg.STT.OpenAI.APIKey) == "" {
			warnings = append(warnings, Warning{Message: "stt.openai.api_key is unset; relying on OPENAI_API_KEY"})
		}
	case "whisperd":
		if strings.TrimSpace(cfg.STT.Whisperd.Endpoint) == "" {
			return nil, fmt.Errorf("stt.whisperd.endpoint must be set when stt.provider=whisperd")
		}
	default:
		return nil, fmt.Errorf("stt.provider must be one of: local, openai, whisperd")
	}

	if cfg.Dispatch.TimeoutMS <= 0 {
		return nil, fmt.Errorf("dispatch.timeout_ms must be > 0")
	}
	if cfg.Dispatch.Workers <= 0 {
		return nil, fmt.Errorf("dispatch.workers must be > 0")
	}
	if cfg.Dispatch.MaxRetries < 0 {
		return nil, fmt.Errorf("dispatch.max_retries must be >= 0")
	}
	if cfg.Dispatch.RetryBackoffMS <= 0 {
		return nil, fmt.Errorf("dispatch.retry_backoff_ms must be > 0")
	}

	if !cfg.Output.ClipboardCmd.Configured() && !cfg.Output.TypeCmd.Configured() {
		return nil, fmt.Errorf("at least one of output.clipboard_cmd and output.type_cmd must be set")
	}

	if cfg.Metrics.Enable && strings.TrimSpace(cfg.Metrics.Bind) == "" {
		return nil, fmt.Errorf("metrics.bind must be set when metrics.enable=true")
	}

	if cfg.Notify.Enable && strings.TrimSpace(cfg.Notify.Command) == "" {
		warnings = append(warnings, Warning{Message: "notify.enable=true with empty notify.command; notifications disabled"})
	}

	return warnings, nil
}
