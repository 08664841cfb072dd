package mask

import "errors"

// Pipeline error taxonomy. Callers classify failures with errors.Is; every
// error leaving this package wraps exactly one of these sentinels.
var (
	// ErrDetection: the detector was unavailable or produced malformed
	// output. Masking aborts with nothing persisted.
	ErrDetection = errors.New("entity detection failed")

	// ErrConsistency: overlapping merged spans, offset corruption, or a
	// document that already contains placeholder-shaped text. Fatal to the
	// request, raised before any store write.
	ErrConsistency = errors.New("span consistency violation")

	// ErrMissingMapping: unmask for an unknown document id, or a placeholder
	// token with no mapping entry. Restoration never leaves a raw
	// placeholder in place silently.
	ErrMissingMapping = errors.New("missing mapping")

	// ErrRendering: the external re-renderer failed.
	ErrRendering = errors.New("document rendering failed")
)
