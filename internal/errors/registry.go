package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

const docBase = "https://vango.dev/docs/storectl/errors/"

// Registered codes.
const (
	CodeConfigRead     = "E100"
	CodeConfigSyntax   = "E101"
	CodeUnknownBackend = "E102"
	CodeMissingSetting = "E103"
	CodeInvalidKind    = "E104"
	CodeEnvOverride    = "E105"
	CodeInvalidSetting = "E106"

	CodeStoreOpen        = "E200"
	CodeUnavailable      = "E201"
	CodeQuotaExceeded    = "E202"
	CodeKeyNotFound      = "E203"
	CodeListUnsupported  = "E204"
	CodeFilterExpression = "E205"

	CodeDecode = "E300"
	CodeEncode = "E301"

	CodeHubListen = "E400"
	CodeHubDial   = "E401"

	CodeInternal     = "E500"
	CodeInvalidUsage = "E501"
)

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (E100-E199)
	// ============================================

	CodeConfigRead: {
		Category: CategoryConfig,
		Message:  "Cannot read configuration file",
		Detail:   "storectl.json exists but could not be read.",
		DocURL:   docBase + "E100",
	},
	CodeConfigSyntax: {
		Category: CategoryConfig,
		Message:  "Invalid configuration syntax",
		Detail:   "storectl.json is not valid JSON or a field has the wrong type.",
		DocURL:   docBase + "E101",
	},
	CodeUnknownBackend: {
		Category: CategoryConfig,
		Message:  "Unknown storage backend",
		Detail:   "The backend must be one of memory, sqlite, file or s3.",
		DocURL:   docBase + "E102",
	},
	CodeMissingSetting: {
		Category: CategoryConfig,
		Message:  "Missing backend setting",
		Detail:   "The selected backend needs a setting that is not configured.",
		DocURL:   docBase + "E103",
	},
	CodeInvalidKind: {
		Category: CategoryConfig,
		Message:  "Invalid storage kind",
		Detail:   "The kind must be session or durable.",
		DocURL:   docBase + "E104",
	},
	CodeEnvOverride: {
		Category: CategoryConfig,
		Message:  "Invalid environment override",
		Detail:   "A STORECTL_* environment variable could not be parsed.",
		DocURL:   docBase + "E105",
	},
	CodeInvalidSetting: {
		Category: CategoryConfig,
		Message:  "Invalid setting",
		Detail:   "A configuration value is out of range.",
		DocURL:   docBase + "E106",
	},

	// ============================================
	// Store Errors (E200-E299)
	// ============================================

	CodeStoreOpen: {
		Category: CategoryStore,
		Message:  "Cannot open store",
		Detail:   "The storage backend could not be opened.",
		DocURL:   docBase + "E200",
	},
	CodeUnavailable: {
		Category: CategoryStore,
		Message:  "Storage unavailable",
		Detail:   "The storage medium refused the operation. It may be closed, read-only or unreachable.",
		DocURL:   docBase + "E201",
	},
	CodeQuotaExceeded: {
		Category: CategoryStore,
		Message:  "Storage quota exceeded",
		Detail:   "The storage medium has no room for this value.",
		DocURL:   docBase + "E202",
	},
	CodeKeyNotFound: {
		Category: CategoryStore,
		Message:  "Key not found",
		Detail:   "The key has no value in the selected scope.",
		DocURL:   docBase + "E203",
	},
	CodeListUnsupported: {
		Category: CategoryStore,
		Message:  "Backend cannot list keys",
		Detail:   "The configured backend does not support enumerating keys.",
		DocURL:   docBase + "E204",
	},
	CodeFilterExpression: {
		Category: CategoryStore,
		Message:  "Invalid filter expression",
		Detail:   "The change filter could not be compiled.",
		DocURL:   docBase + "E205",
	},

	// ============================================
	// Codec Errors (E300-E399)
	// ============================================

	CodeDecode: {
		Category: CategoryCodec,
		Message:  "Cannot decode value",
		Detail:   "The stored text is not valid for the selected codec.",
		DocURL:   docBase + "E300",
	},
	CodeEncode: {
		Category: CategoryCodec,
		Message:  "Cannot encode value",
		Detail:   "The value could not be encoded with the selected codec.",
		DocURL:   docBase + "E301",
	},

	// ============================================
	// Hub Errors (E400-E499)
	// ============================================

	CodeHubListen: {
		Category: CategoryHub,
		Message:  "Hub failed to listen",
		Detail:   "The change hub could not bind its address.",
		DocURL:   docBase + "E400",
	},
	CodeHubDial: {
		Category: CategoryHub,
		Message:  "Cannot connect to hub",
		Detail:   "The WebSocket connection to the change hub failed.",
		DocURL:   docBase + "E401",
	},

	// ============================================
	// CLI Errors (E500-E599)
	// ============================================

	CodeInternal: {
		Category: CategoryCLI,
		Message:  "Command failed",
		Detail:   "An unexpected error occurred.",
		DocURL:   docBase + "E500",
	},
	CodeInvalidUsage: {
		Category: CategoryCLI,
		Message:  "Invalid arguments",
		Detail:   "The command was called with arguments it does not accept.",
		DocURL:   docBase + "E501",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
