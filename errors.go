package amadeus

import "errors"

// Sentinel errors for the bus and plugin host, grouped by the error
// taxonomy in the specification (Configuration / Storage / Transport /
// Delivery / Permission / Lifecycle).
var (
	// Configuration
	ErrInvalidCronExpr       = errors.New("invalid cron expression")
	ErrMalformedPayload      = errors.New("malformed message payload")
	ErrMissingDependency     = errors.New("plugin dependency not registered")
	ErrDuplicateIdentity     = errors.New("plugin identity already registered")
	ErrEmptyPluginIdentity   = errors.New("plugin identity must not be empty")
	ErrDeclarativeConfigBad  = errors.New("declarative plugin configuration malformed")

	// Storage
	ErrStorageOpenFailed  = errors.New("storage: failed to open database")
	ErrStorageQueryFailed = errors.New("storage: query failed")
	ErrStorageWriteFailed = errors.New("storage: write failed")
	ErrMemoNotFound       = errors.New("storage: memo not found")

	// Transport
	ErrIPCSendFailed  = errors.New("ipc: send failed")
	ErrIPCRecvFailed  = errors.New("ipc: receive failed")
	ErrIPCTooLarge    = errors.New("ipc: record exceeds fixed layout size")
	ErrIPCNotStarted  = errors.New("ipc: transport not started")
	ErrIPCClosed      = errors.New("ipc: transport closed")

	// Delivery. A recipient that never called EnableDirectMessaging has no
	// inbox to look up, so it is reported the same way as an unknown
	// plugin identity — the DistributionCenter has no registry of plugin
	// identities to tell the two cases apart.
	ErrUnknownRecipient    = errors.New("delivery: unknown direct recipient")
	ErrDirectInboxFull     = errors.New("delivery: direct inbox overflow, dropped newest")
	ErrMessageMustBeDirect = errors.New("delivery: message has no recipient")

	// Permission
	ErrPermissionDenied = errors.New("permission denied: capability restricted to privileged plugins")

	// Lifecycle
	ErrLifecycleHookFailed   = errors.New("lifecycle hook returned an error")
	ErrIngressClosed         = errors.New("message manager ingress is closed")
	ErrManagerAlreadyRunning = errors.New("message manager already running")
	ErrManagerNotRunning     = errors.New("message manager is not running")
)
