package dto

type RealtimeTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	Model     string `json:"model"`
}
