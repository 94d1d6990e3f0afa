package audit

import (
	"context"

	"github.com/tripconnect/messaging-service/pkg/log"
)

// Audit actions for the messaging service.
const (
	ActionConnect           = "messaging.connect"
	ActionAuthFailed        = "messaging.auth_failed"
	ActionDisconnect        = "messaging.disconnect"
	ActionSendMessage       = "messaging.send_message"
	ActionJoinRoom          = "messaging.join_room"
	ActionLeaveRoom         = "messaging.leave_room"
	ActionCreateRoom        = "messaging.create_room"
	ActionUpdateRoom        = "messaging.update_room"
	ActionDeleteRoom        = "messaging.delete_room"
	ActionAddParticipant    = "messaging.add_participant"
	ActionRemoveParticipant = "messaging.remove_participant"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogWithTarget emits an audit log naming the affected resource.
func LogWithTarget(ctx context.Context, action string, userID string, targetID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}
