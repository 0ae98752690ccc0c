package gov

// MergeVote resolves two records for the same (proposal, actor) pair.
// The record with the larger VotedAtUnix wins; on a tie the one carrying a
// tx hash wins; on a full tie the existing record is kept. Rationale fields
// known only to the losing record are carried over when both describe the
// same transaction.
func MergeVote(existing, incoming Vote) Vote {
	winner, loser := existing, incoming
	switch {
	case incoming.VotedAtUnix > existing.VotedAtUnix:
		winner, loser = incoming, existing
	case incoming.VotedAtUnix == existing.VotedAtUnix && existing.TxHash == "" && incoming.TxHash != "":
		winner, loser = incoming, existing
	}

	if winner.TxHash == loser.TxHash || loser.TxHash == "" {
		if winner.HasRationale == nil && loser.HasRationale != nil {
			winner.HasRationale = loser.HasRationale
			winner.RationaleVerified = loser.RationaleVerified
		}
		if winner.RationaleURL == "" {
			winner.RationaleURL = loser.RationaleURL
		}
		if winner.RationaleText == "" {
			winner.RationaleText = loser.RationaleText
		}
		if winner.VotedAtUnix == 0 {
			winner.VotedAtUnix = loser.VotedAtUnix
			winner.Epoch = loser.Epoch
		}
	}
	return winner
}

// ResponseHours is the delay between submission and vote in hours, or nil
// when either timestamp is unknown or the vote predates the submission.
func ResponseHours(votedAtUnix, submittedAtUnix int64) *float64 {
	if votedAtUnix <= 0 || submittedAtUnix <= 0 || votedAtUnix < submittedAtUnix {
		return nil
	}
	h := float64(votedAtUnix-submittedAtUnix) / 3600
	return &h
}

// MergeProposal applies a refreshed upstream view onto a known proposal.
// Outcome and finalization epochs from the refresh always win (a later
// fetch is a correction); descriptive fields are only filled when missing.
func MergeProposal(known, fresh Proposal) Proposal {
	out := known
	out.ExpirationEpoch = pick(fresh.ExpirationEpoch, known.ExpirationEpoch)
	out.RatifiedEpoch = fresh.RatifiedEpoch
	out.EnactedEpoch = fresh.EnactedEpoch
	out.DroppedEpoch = fresh.DroppedEpoch
	out.ExpiredEpoch = fresh.ExpiredEpoch
	if fresh.Threshold != nil {
		out.Threshold = fresh.Threshold
	}
	if out.GovernanceType == "" {
		out.GovernanceType = fresh.GovernanceType
	}
	if out.Title == "" {
		out.Title = fresh.Title
	}
	if out.Abstract == "" {
		out.Abstract = fresh.Abstract
	}
	if out.SubmittedAtUnix == 0 {
		out.SubmittedAtUnix = fresh.SubmittedAtUnix
	}
	out.DetailFetched = known.DetailFetched || fresh.DetailFetched
	out.Outcome = out.DeriveOutcome()
	return out
}

func pick(a, b *int) *int {
	if a != nil {
		return a
	}
	return b
}
