package service

import (
	apperrors "github.com/d60-Lab/social-core/pkg/errors"
)

var (
	ErrFollowSelf       = apperrors.InvalidArg("cannot follow self")
	ErrNoPendingRequest = apperrors.FailedPrecondition("no pending follow request")
	ErrUserRequired     = apperrors.InvalidArg("user id is required")

	ErrEmptyMessage         = apperrors.InvalidArg("message text is empty")
	ErrMessageTooLong       = apperrors.InvalidArg("message text too long")
	ErrMessageSelf          = apperrors.InvalidArg("cannot message self")
	ErrConversationNotFound = apperrors.NotFound("conversation not found")
	ErrNotParticipant       = apperrors.Forbidden("not a conversation participant")

	// ErrPermissionDenied 订阅期间会话被撤销（如用户登出）
	ErrPermissionDenied = apperrors.Forbidden("permission denied")
)
