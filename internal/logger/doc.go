// Package logger provides component scoped structured logging.
//
// Every package of the resolver logs through its own component so that, for
// example, sandbox compilation can be traced without the HTTP noise:
//
//	log := logger.WithComponent(logger.ComponentSandbox)
//	log.Debug("compiled", map[string]interface{}{"player": key.String()})
//
// Only the app component is enabled by default. The YTRESOLVE_LOG_LEVEL,
// YTRESOLVE_LOG_FORMAT, YTRESOLVE_LOG_OUTPUT and YTRESOLVE_LOG_COMPONENTS
// variables configure the global logger through EnvironmentConfig; file
// outputs ("file:/path") rotate when YTRESOLVE_LOG_MAX_SIZE or
// YTRESOLVE_LOG_MAX_AGE is set.
package logger
