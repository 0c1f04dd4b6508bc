package ipc

// Request is one control command sent to the owner process.
type Request struct {
	Command string `json:"command"`
}

// Response carries the owner's practice state back to the caller.
type Response struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	Progress  int    `json:"progress"`
	SessionID string `json:"session_id,omitempty"`
	ResultID  string `json:"result_id,omitempty"`
	Capturing bool   `json:"capturing,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}
