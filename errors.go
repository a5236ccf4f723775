package whoisproxy

import "github.com/pkg/errors"

// Sentinel errors used across the compile and load paths. Callers should
// compare with errors.Is since wrapped errors from the pipeline carry
// additional context via github.com/pkg/errors.
var (
	// ErrMalformedRow tags a row in a source or compiled file that could
	// not be decoded. It is wrapped onto the underlying parse error at
	// every site that skips a row because a field fails to parse, so the
	// log line carries both the specific cause and a value errors.Is can
	// match on. Rows with too few columns are skipped without logging.
	ErrMalformedRow = errors.New("malformed row")

	// ErrMissingDataFile is returned at start-up when a compiled CSV is
	// absent; this is fatal for the proxy server.
	ErrMissingDataFile = errors.New("missing compiled data file")
)
