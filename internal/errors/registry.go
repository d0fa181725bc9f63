package errors

// Template defines a registered error type.
type Template struct {
	Category   Category
	Message    string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// Config errors (D100-D199)

	"D101": {
		Category:   CategoryConfig,
		Message:    "Config file could not be read",
		Suggestion: "Check the --config path, or remove it to use defaults and DOCSYNC_ environment variables",
	},
	"D102": {
		Category:   CategoryConfig,
		Message:    "Invalid listen address",
		Suggestion: "Use host:port, for example :8080 or 127.0.0.1:8080",
	},
	"D103": {
		Category:   CategoryConfig,
		Message:    "Unknown store driver",
		Suggestion: "Use one of: memory, bolt, postgres, redis, s3",
	},
	"D104": {
		Category: CategoryConfig,
		Message:  "Store driver is missing a required setting",
	},
	"D105": {
		Category:   CategoryConfig,
		Message:    "Invalid persistence timing",
		Suggestion: "Debounce and save timeout must be positive; max_wait must not be below debounce",
	},
	"D106": {
		Category:   CategoryConfig,
		Message:    "Unknown hydration policy",
		Suggestion: "Use start-empty or reject",
	},
	"D107": {
		Category:   CategoryConfig,
		Message:    "Invalid server limits",
		Suggestion: "heartbeat must be below pong_timeout; sizes must not be negative",
	},
	"D108": {
		Category:   CategoryConfig,
		Message:    "Invalid log settings",
		Suggestion: "log.level is one of debug, info, warn, error; log.format is text or json",
	},

	// Storage errors (D200-D299)

	"D201": {
		Category:   CategoryStorage,
		Message:    "Store could not be opened",
		Suggestion: "Check the store settings and that the backend is reachable",
	},
	"D202": {
		Category: CategoryStorage,
		Message:  "Document not found",
	},
	"D203": {
		Category: CategoryStorage,
		Message:  "Stored document could not be decoded",
	},

	// CLI errors (D300-D399)

	"D301": {
		Category: CategoryCLI,
		Message:  "Command not supported by this store driver",
	},
	"D302": {
		Category:   CategoryCLI,
		Message:    "No token secret configured",
		Suggestion: "Set auth.jwt_secret or DOCSYNC_AUTH_JWT_SECRET",
	},
}

// Lookup returns the template registered for code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
