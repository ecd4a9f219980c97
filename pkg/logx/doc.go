// Package logx is escar's logging: a value-type Logger over zerolog and a
// Service that swaps sinks when the config reloads.
//
// Console output is human-readable unless logging.format is "json", which
// suits journald and log shippers. The file sink is always JSON.
package logx
