package gov

import "errors"

// ErrUnknownVoteProposal is returned when a vote references a proposal the
// snapshot does not hold.
var ErrUnknownVoteProposal = errors.New("vote references unknown proposal")
