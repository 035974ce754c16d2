package ipc

// RenderRequest asks the host to render one source document.
type RenderRequest struct {
	Source string `json:"source"`
	Output string `json:"output"`
	Debug  bool   `json:"debug"`
}

// RenderResponse carries the terminal render result. Error is empty on success.
type RenderResponse struct {
	RequestID      string `json:"request_id"`
	Output         string `json:"output"`
	OutputPath     string `json:"output_path"`
	Attempts       int    `json:"attempts"`
	DurationMillis int64  `json:"duration_ms"`
	Outcome        string `json:"outcome"`
	Error          string `json:"error"`
}

// PingRequest checks engine daemon reachability.
type PingRequest struct{}

// PingResponse reports whether the engine daemon answered.
type PingResponse struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// StatusRequest fetches host status.
type StatusRequest struct{}

// DependencyStatus describes availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail"`
	Severity    string `json:"severity"`
}

// StatusResponse represents combined host and engine daemon status.
type StatusResponse struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	Daemon       string             `json:"daemon"`
	State        string             `json:"state"`
	EnginePID    int                `json:"engine_pid"`
	EntryScript  string             `json:"entry_script"`
	SentinelPath string             `json:"sentinel_path"`
	StartedAt    string             `json:"started_at"`
	Reason       string             `json:"reason"`
	LockPath     string             `json:"lock_path"`
	HistoryPath  string             `json:"history_path"`
	RenderStats  map[string]int     `json:"render_stats"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// ShutdownRequest stops the engine daemon and the host.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}
