package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrDuplicateRoomCode    = errors.New("room code already exists")
	ErrNotModerator         = errors.New("only the moderator can do that")
	ErrValidationFailed     = errors.New("validation failed")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrConnectionSuperseded = errors.New("connection superseded by a newer one")
	ErrHeartbeatTimeout     = errors.New("ping didn't receive a pong")
	ErrRateLimited          = errors.New("too many events, slow down")

	ErrInvalidVoteValue    = fmt.Errorf("%w: invalid vote value", ErrValidationFailed)
	ErrVotingClosed        = fmt.Errorf("%w: voting is not open", ErrValidationFailed)
	ErrParticipantNotFound = fmt.Errorf("%w: participant not found", ErrValidationFailed)
	ErrCannotKickSelf      = fmt.Errorf("%w: moderator cannot kick themselves", ErrValidationFailed)
	ErrUnknownEvent        = fmt.Errorf("%w: unknown event", ErrValidationFailed)
	ErrNotJoined           = fmt.Errorf("%w: join the room first", ErrValidationFailed)
	ErrAlreadyJoined       = fmt.Errorf("%w: already joined", ErrValidationFailed)
)

// Invalid wraps a validator error so it matches ErrValidationFailed.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, err)
}

// Code maps an error to the code sent in a private Error event. Errors outside
// the taxonomy collapse into "Internal".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoomNotFound):
		return "RoomNotFound"
	case errors.Is(err, ErrDuplicateRoomCode):
		return "DuplicateRoomCode"
	case errors.Is(err, ErrNotModerator):
		return "NotModerator"
	case errors.Is(err, ErrInvalidVoteValue):
		return "InvalidVoteValue"
	case errors.Is(err, ErrValidationFailed):
		return "ValidationFailed"
	case errors.Is(err, ErrStorageUnavailable):
		return "StorageUnavailable"
	case errors.Is(err, ErrConnectionSuperseded):
		return "ConnectionSuperseded"
	case errors.Is(err, ErrHeartbeatTimeout):
		return "HeartbeatTimeout"
	case errors.Is(err, ErrRateLimited):
		return "RateLimited"
	default:
		return "Internal"
	}
}

// PublicMessage is the text shown to the originator of a rejected event.
func PublicMessage(err error) string {
	switch Code(err) {
	case "Internal":
		return "something went wrong"
	case "StorageUnavailable":
		return "the room could not be saved, try again"
	default:
		return err.Error()
	}
}
