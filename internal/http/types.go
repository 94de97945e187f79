package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	NATS   string `json:"nats"`
}

// StartTaskResponse is the response body for POST /v1/tasks.
type StartTaskResponse struct {
	TaskID string `json:"task_id"`
}

// ListTasksResponse is the response body for GET /v1/tasks.
type ListTasksResponse struct {
	Running []string `json:"running"`
}
