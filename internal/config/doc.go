// Package config loads the debugger configuration.
//
// Settings are resolved in layers, later layers overriding earlier ones:
//
//  1. Built-in defaults (Default)
//  2. TOML files, in the order given to Load (user, then project)
//  3. JSWAT_* environment variables
//  4. Command line flags, applied by the caller
//
// A missing file is skipped. The result is validated before it is
// returned.
//
// # Environment
//
//	JSWAT_LOG_LEVEL                 log.level
//	JSWAT_LOG_DEVELOPMENT           log.development
//	JSWAT_SESSION_START_TIMEOUT     session.start_timeout
//	JSWAT_SESSION_NAME_PREFIX       session.name_prefix
//	JSWAT_SESSION_ID_PREFIX         session.id_prefix
//	JSWAT_BREAKPOINTS_SUSPEND_POLICY    breakpoints.suspend_policy
//	JSWAT_BREAKPOINTS_DEFAULT_UNCAUGHT  breakpoints.default_uncaught
//	JSWAT_PERSIST_PATH              persist.path
//	JSWAT_PERSIST_FORMAT            persist.format
//	JSWAT_PERSIST_WATCH             persist.watch
//	JSWAT_METRICS_ENABLED           metrics.enabled
package config
