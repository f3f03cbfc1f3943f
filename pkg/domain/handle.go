package domain

import "strconv"

// Handle identifies one tracked artifact reference. Handles are minted by the
// instrumentation layer (see tracker.Handles) the first time an artifact is seen
// and passed alongside it on every later report. The zero Handle is "untracked".
type Handle uint64

// String renders the handle as a decimal string.
func (h Handle) String() string {
	return strconv.FormatUint(uint64(h), 10)
}

// IsZero reports whether h is the untracked handle.
func (h Handle) IsZero() bool {
	return h == 0
}
