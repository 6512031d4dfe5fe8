package room

import "errors"

var (
	ErrDoesNotExist       = errors.New("room: join code does not exist")
	ErrWrongPassword      = errors.New("room: wrong password")
	ErrPlayerLimitReached = errors.New("room: player limit reached")
	ErrHasStarted         = errors.New("room: room has already started")
	ErrNotOperator        = errors.New("room: caller is not an operator")
	ErrNotMember          = errors.New("room: caller is not a member of this room")
	ErrTeamNotFound       = errors.New("room: team does not exist")
	ErrIncompleteMaps     = errors.New("room: map list is not yet complete")
	ErrGameNotActive      = errors.New("room: no active game")
	ErrUnknownMap         = errors.New("room: claim references an unknown map")
	ErrMedalTooLow        = errors.New("room: medal does not meet the required quality")
	ErrClaimNotBetter     = errors.New("room: existing claim is at least as good")
	ErrSlotGone           = errors.New("room: reconnect slot no longer exists")
)
