package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Messaging
	FieldRoomID      = "room_id"
	FieldMessageID   = "message_id"
	FieldSessionID   = "session_id"
	FieldMessageType = "message_type"

	// Service
	FieldService = "service"

	// Error correlation
	FieldCorrelationID = "correlation_id"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
