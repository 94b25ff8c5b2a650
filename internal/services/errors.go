package services

import "errors"

// Kind classifies service errors so transports can map them to status codes.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

// Error is a classified service error. Instances are compared by identity,
// so the exported sentinels below work with errors.Is.
type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Kind returns the classification of e.
func (e *Error) Kind() Kind { return e.kind }

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// KindOf returns the classification of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

var (
	ErrUserAlreadyExists  = newError(KindConflict, "username or email already exists")
	ErrInvalidCredentials = newError(KindUnauthorized, "invalid username or password")
	ErrUserNotFound       = newError(KindNotFound, "user not found")

	ErrSelfFriendRequest    = newError(KindInvalid, "cannot send a friend request to yourself")
	ErrFriendshipExists     = newError(KindConflict, "a friend request already exists between these users")
	ErrAlreadyFriends       = newError(KindConflict, "users are already friends")
	ErrFriendshipNotFound   = newError(KindNotFound, "friend request not found")
	ErrFriendshipNotPending = newError(KindConflict, "friend request is no longer pending")
	ErrNotFriends           = newError(KindNotFound, "users are not friends")
	ErrSelfBlock            = newError(KindInvalid, "cannot block yourself")

	ErrRoomNotFound     = newError(KindNotFound, "room not found")
	ErrNotRoomMember    = newError(KindForbidden, "not a member of this room")
	ErrDirectRoomLeave  = newError(KindInvalid, "cannot leave a direct room")
	ErrDirectRoomInvite = newError(KindInvalid, "cannot invite members to a direct room")
	ErrNotRoomOwner     = newError(KindForbidden, "only the room owner can do this")

	ErrMessageNotFound    = newError(KindNotFound, "message not found")
	ErrEmptyMessage       = newError(KindInvalid, "message content is empty")
	ErrMessageTooLong     = newError(KindInvalid, "message content is too long")
	ErrInvalidMessageType = newError(KindInvalid, "invalid message type")
	ErrInvalidReply       = newError(KindInvalid, "reply target is not in this room")
	ErrNotMessageSender   = newError(KindForbidden, "only the sender can change this message")
	ErrMessageDeleted     = newError(KindConflict, "message has been deleted")
	ErrInvalidEmoji       = newError(KindInvalid, "invalid emoji")
	ErrInvalidReadMarker  = newError(KindInvalid, "read marker is not a message in this room")

	ErrInvalidFilter = newError(KindInvalid, "invalid filter")
	ErrInvalidScope  = newError(KindInvalid, "invalid scope")
)
