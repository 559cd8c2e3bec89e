package settlement

import "errors"

var (
	ErrBadProof               = errors.New("leaf is not a member of the live root")
	ErrAlreadyClaimed         = errors.New("leaf already claimed")
	ErrWrongDomain            = errors.New("leaf belongs to another domain")
	ErrUnclaimedLeaves        = errors.New("live proposal still has unclaimed leaves")
	ErrLivenessNotPassed      = errors.New("liveness window has not passed")
	ErrLivenessExpired        = errors.New("liveness window has expired")
	ErrEmptyProposal          = errors.New("proposal must commit at least one leaf")
	ErrUnknownDispute         = errors.New("unknown dispute request")
	ErrDisputeAlreadyResolved = errors.New("dispute already resolved")
	ErrInvalidOutcome         = errors.New("dispute outcome must be upheld or rejected")
)
