package group

import "errors"

// Error kinds raised by group construction and lookup, per spec §7.
var (
	ErrDuplicateMember = errors.New("group: duplicate member id")
	ErrNotMember       = errors.New("group: id is not a member of the group")
	ErrMalformedID     = errors.New("group: malformed id")
	ErrMalformedGroup  = errors.New("group: malformed serialized group")
	ErrUnknownPolicy   = errors.New("group: unknown subgroup policy")
)
