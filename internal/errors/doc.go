// Package errors provides coded, operator-facing errors for docsync.
//
// Configuration and command-line failures are reported with a stable code,
// a one-line message, an optional explanation and a hint:
//
//	err := errors.New("D103").
//	    WithDetail("store.driver is \"mongo\"").
//	    WithSuggestion("Use one of: memory, bolt, postgres, redis, s3")
//
//	errors.PrintError(os.Stderr, err)
//	// ERROR D103: Unknown store driver
//	//
//	//   store.driver is "mongo"
//	//
//	//   Hint: Use one of: memory, bolt, postgres, redis, s3
//
// Codes are grouped by category:
//   - D1xx config: invalid or inconsistent settings
//   - D2xx storage: backend connection and record failures
//   - D3xx cli: bad command-line usage
package errors
