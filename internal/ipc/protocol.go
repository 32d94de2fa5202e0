// Package ipc carries control commands between the echoes CLI and the
// daemon over a unix socket, one JSON line per request and response.
package ipc

// Command is one control-socket verb. Press and release map to the
// push-to-hold trigger edges; cancel abandons the active session.
type Command string

const (
	CommandPress   Command = "press"
	CommandRelease Command = "release"
	CommandCancel  Command = "cancel"
	CommandStatus  Command = "status"
)

// Known reports whether the daemon understands the verb.
func (c Command) Known() bool {
	switch c {
	case CommandPress, CommandRelease, CommandCancel, CommandStatus:
		return true
	}
	return false
}

// Request is one client command. ClientPID attributes the request in
// daemon logs; zero means the sender did not say.
type Request struct {
	Command   Command `json:"command"`
	ClientPID int     `json:"client_pid,omitempty"`
}

// Response reports the daemon's session state after handling a command.
// SessionID is set whenever a recording or finalizing session exists.
type Response struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}
