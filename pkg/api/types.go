package api

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

type TriggerRequest struct {
	PipelineName string `json:"pipeline_name" binding:"required"`
	Branch       string `json:"branch,omitempty"`
}

type TriggerResponse struct {
	RunID string `json:"run_id"`
}

// WebhookPayload is what a repository host posts to /webhook. The signature
// covers its JSON encoding.
type WebhookPayload struct {
	Name  string `json:"name" binding:"required"`
	Event string `json:"event"`
	// Ref is a git ref such as refs/heads/main or refs/tags/v1.0.0.
	Ref string `json:"ref"`
}
