/*
Package log provides structured logging for the vector database using zerolog.

It wraps zerolog to give every component (WAL, index factory, consensus
harness, HTTP server, proxy router) a component-scoped child logger with
JSON output in production and a console-friendly format in development.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	logger := log.WithComponent("wal")
	logger.Info().Str("path", path).Msg("opened write-ahead log")
*/
package log
