package store

import "errors"

// ErrFormatMismatch is returned by Open when the persisted config format is
// older than CurrentFormat, or when a legacy default-column-family layout
// is detected. The wrapping message always contains the word "re-index".
var ErrFormatMismatch = errors.New("unsupported DB format, re-index required")

// ErrStorageCorrupt is returned by callers that find the headers family in
// an inconsistent state (gaps, duplicate heights, tip mismatch). It is not
// returned by this package directly — internal/chain raises it after
// scanning rows this package returns.
var ErrStorageCorrupt = errors.New("storage corrupt: re-index required")
