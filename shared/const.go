package shared

const (
	UserID    = "user_id"
	SessionID = "session_id"
	UserRole  = "user_role"
	ClientIP  = "client_ip"

	RoleAdmin = "admin"
	RoleUser  = "user"

	TierFree = "free"
	TierPaid = "paid"

	EndpointChat          = "chat"
	EndpointRealtimeToken = "realtime_token"
	EndpointSpeech        = "speech"
)
