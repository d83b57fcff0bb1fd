package httpserver

import "github.com/fairyhunter13/recrank/internal/domain"

const defaultMaxResults = 100

// validateRankRequest enforces input-validation contract:
// reject empty id lists, bound maxResults, and cap payload size.
func validateRankRequest(req RankRequest, maxCandidates int) error {
	if req.ViewerID == "" {
		return domain.NewError(domain.KindBadInput, "viewerId is required", domain.ErrInvalidArgument)
	}
	if len(req.Candidates) == 0 {
		return domain.NewError(domain.KindBadInput, "candidates must not be empty", domain.ErrInvalidArgument)
	}
	if maxCandidates > 0 && len(req.Candidates) > maxCandidates {
		return domain.NewError(domain.KindBadInput, "candidates exceeds configured maximum", domain.ErrInvalidArgument)
	}
	for _, c := range req.Candidates {
		if c.ItemID == "" {
			return domain.NewError(domain.KindBadInput, "candidate itemId is required", domain.ErrInvalidArgument)
		}
	}
	return nil
}

func clampMaxResults(n int) int {
	if n <= 0 || n > defaultMaxResults {
		return defaultMaxResults
	}
	return n
}

// validateFuseRequest enforces the same class of bounds for FUSE.
func validateFuseRequest(req FuseRequest, maxAlgorithmResults int) error {
	if req.ViewerID == "" {
		return domain.NewError(domain.KindBadInput, "viewerId is required", domain.ErrInvalidArgument)
	}
	if len(req.AlgorithmResults) == 0 {
		return domain.NewError(domain.KindBadInput, "algorithmResults must not be empty", domain.ErrInvalidArgument)
	}
	total := 0
	for _, ar := range req.AlgorithmResults {
		total += len(ar.Items)
	}
	if maxAlgorithmResults > 0 && total > maxAlgorithmResults {
		return domain.NewError(domain.KindBadInput, "algorithmResults exceeds configured maximum", domain.ErrInvalidArgument)
	}
	return nil
}

func clampTargetSize(n int) int {
	if n <= 0 || n > defaultMaxResults {
		return defaultMaxResults
	}
	return n
}

// validateIngestRequest rejects an event missing its required identifiers.
func validateIngestRequest(req IngestRequest) error {
	if req.ViewerID == "" || req.ItemID == "" {
		return domain.NewError(domain.KindBadInput, "viewerId and itemId are required", domain.ErrInvalidArgument)
	}
	if req.Action == "" {
		return domain.NewError(domain.KindBadInput, "action is required", domain.ErrInvalidArgument)
	}
	return nil
}
