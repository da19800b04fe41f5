package ipc

// SubmitRequest registers a file for conversion.
type SubmitRequest struct {
	Path      string `json:"path"`
	Normalize bool   `json:"normalize"`
}

// SubmitResponse acknowledges a registered conversion.
type SubmitResponse struct {
	RequestID          string `json:"request_id"`
	Key                string `json:"key"`
	DisplayName        string `json:"display_name"`
	ExpectedOutputPath string `json:"expected_output_path"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// DependencyStatus describes availability of an external tool.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail"`
}

// HistoryCounts aggregates journal totals per outcome.
type HistoryCounts struct {
	Complete int64 `json:"complete"`
	Failed   int64 `json:"failed"`
	Expired  int64 `json:"expired"`
}

// StatusResponse represents combined daemon/worker status information.
type StatusResponse struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	WorkerState   string             `json:"worker_state"`
	WorkerPID     int                `json:"worker_pid"`
	PendingCount  int                `json:"pending_count"`
	Flags         []string           `json:"flags"`
	LockPath      string             `json:"lock_path"`
	HistoryDBPath string             `json:"history_db_path"`
	MemoryRSS     uint64             `json:"memory_rss"`
	CPUPercent    float64            `json:"cpu_percent"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	History       HistoryCounts      `json:"history"`
}

// PendingRequest lists in-flight conversions.
type PendingRequest struct{}

// PendingItem is one in-flight conversion.
type PendingItem struct {
	RequestID          string `json:"request_id"`
	Key                string `json:"key"`
	DisplayName        string `json:"display_name"`
	ExpectedOutputPath string `json:"expected_output_path"`
	SubmittedAt        string `json:"submitted_at"`
	AgeSeconds         int64  `json:"age_seconds"`
}

// PendingResponse contains the in-flight conversions, oldest first.
type PendingResponse struct {
	Items []PendingItem `json:"items"`
}

// SetParamsRequest applies conversion parameters as flat key/value
// pairs; the worker restarts with the resulting flags.
type SetParamsRequest struct {
	KeyValues []string `json:"key_values"`
}

// SetParamsResponse reports the flags the worker was restarted with.
type SetParamsResponse struct {
	Flags []string `json:"flags"`
}

// HistoryRequest lists recent journal entries. Limit <= 0 means all.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryItem is one resolved conversion from the journal.
type HistoryItem struct {
	RequestID   string `json:"request_id"`
	DisplayName string `json:"display_name"`
	InputPath   string `json:"input_path"`
	OutputPath  string `json:"output_path"`
	Outcome     string `json:"outcome"`
	ByteCount   int64  `json:"byte_count"`
	Diagnostic  string `json:"diagnostic"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	CreatedAt   string `json:"created_at"`
}

// HistoryResponse contains journal entries, newest first.
type HistoryResponse struct {
	Items []HistoryItem `json:"items"`
}

// HistoryClearRequest deletes the journal contents.
type HistoryClearRequest struct{}

// HistoryClearResponse acknowledges journal deletion.
type HistoryClearResponse struct {
	Cleared bool `json:"cleared"`
}

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges the shutdown request.
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
