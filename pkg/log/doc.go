/*
Package log provides structured logging for burrow using zerolog.

A single global Logger is configured once at startup through Init and then
shared by every component. Components derive child loggers carrying a fixed
field so that log lines can be filtered per subsystem:

	logger := log.WithComponent("reconciler")
	logger.Info().Str("chassis", name).Msg("registered chassis")

Console output is the default; JSONOutput switches to one JSON object per line
for log shippers:

	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: true})

Fields used across the agent:

	component  subsystem name (reconciler, tunnels, ports, routers, flow, ...)
	chassis    chassis name
	lport      logical port id
	lrouter    logical router name
*/
package log
