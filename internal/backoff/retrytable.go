package backoff

import "github.com/agentic-qe/fleet/types"

// RetryableFromTable builds a retryable predicate backed by a
// kind-to-retryable table, the same table the dispatcher consults when
// deciding whether a failed task result earns another attempt.
func RetryableFromTable(table map[types.ErrorKind]bool) func(error) bool {
	if table == nil {
		table = types.DefaultRetryTable()
	}
	return func(err error) bool {
		kind := types.KindOf(err)
		retryable, known := table[kind]
		if !known {
			return false
		}
		return retryable
	}
}
