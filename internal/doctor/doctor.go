// Package doctor runs runtime readiness diagnostics for config, output
// tools, audio capture, and the configured transcription provider.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sengokudaikon/echoes/internal/audio"
	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/ipc"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkRuntimeSocket())
	checks = append(checks, checkCommand(cfg.Config.Output.ClipboardCmd.Argv, "output.clipboard_cmd"))

	if cfg.Config.Output.TypeCmd.Configured() {
		checks = append(checks, checkCommand(cfg.Config.Output.TypeCmd.Argv, "output.type_cmd"))
	}
	if cfg.Config.Notify.Enable {
		checks = append(checks, checkBinary(notifyBinary(cfg.Config.Notify), "desktop notifications"))
	}

	checks = append(checks, checkAudioSelection(cfg.Config))
	checks = append(checks, checkProvider(cfg.Config.STT))

	return Report{Checks: checks}
}

// checkRuntimeSocket verifies the control socket directory is resolvable.
func checkRuntimeSocket() Check {
	path, err := ipc.RuntimeSocketPath()
	if err != nil {
		return Check{Name: "ipc.socket", Pass: false, Message: err.Error()}
	}
	return Check{Name: "ipc.socket", Pass: true, Message: fmt.Sprintf("control socket at %s", path)}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	if bin == "" {
		return Check{Name: "notify", Pass: false, Message: "notify command is empty"}
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func notifyBinary(cfg config.NotifyConfig) string {
	fields := strings.Fields(cfg.Command)
	if len(fields) == 0 {
		return "notify-send"
	}
	return fields[0]
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(cfg config.Config) Check {
	selection, err := audio.SelectDevice(context.Background(), cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkProvider verifies the configured transcription backend is usable
// without loading a model or spending an API call.
func checkProvider(cfg config.STTConfig) Check {
	name := "stt." + strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "local":
		if strings.TrimSpace(cfg.Local.ModelPath) == "" {
			return Check{Name: name, Pass: false, Message: "local.model_path is empty"}
		}
		if _, err := os.Stat(cfg.Local.ModelPath); err != nil {
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("model not readable: %v", err)}
		}
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("model at %s", cfg.Local.ModelPath)}
	case "openai":
		if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
			return Check{Name: name, Pass: false, Message: "openai.api_key is empty (set OPENAI_API_KEY)"}
		}
		return Check{Name: name, Pass: true, Message: "api key configured"}
	case "whisperd":
		return checkWhisperdReachable(name, cfg.Whisperd.Endpoint)
	default:
		return Check{Name: "stt.provider", Pass: false, Message: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
}

// checkWhisperdReachable probes the transcription endpoint host. Any HTTP
// response counts as reachable; the endpoint itself only accepts POST.
func checkWhisperdReachable(name string, endpoint string) Check {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Check{Name: name, Pass: false, Message: "whisperd.endpoint is empty"}
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("invalid endpoint %q", endpoint)}
	}

	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(parsed.Scheme + "://" + parsed.Host + "/")
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("unreachable: %v", err)}
	}
	defer resp.Body.Close()
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("reachable at %s (HTTP %d)", parsed.Host, resp.StatusCode)}
}
