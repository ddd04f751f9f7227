package domain

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrChatNotFound         = errors.New("chat not found")
	ErrNotificationNotFound = errors.New("notification not found")

	ErrReceiverRequired   = errors.New("user_id is required")
	ErrSelfMessage        = errors.New("can't send message to self")
	ErrEmptyMessage       = errors.New("message is required")
	ErrAttachmentName     = errors.New("attachment_name is required")
	ErrAttachmentTooLarge = errors.New("file size is too large")
	ErrAttachmentDecode   = errors.New("attachment decoding error")
	ErrReplyNotFound      = errors.New("reply target not found in this chat")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrOfferChatClosed    = errors.New("chat is not allowed for this offer status")
)
