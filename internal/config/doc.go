// Package config handles configuration loading for magi-bridge.
//
// # Overview
//
// Configuration is loaded from a YAML file with ${VAR} environment variable
// expansion, then overridden by MAGI_* environment entries, then filled with
// defaults. Configuration can never fail startup: a missing file, an
// unparsable file, or an invalid value degrades to the defaults with a
// logged warning.
//
// # Configuration File
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  path: "data/magi-bridge.db"
//
//	worker:
//	  interpreter: "python3"
//	  script: "agents/magi_worker.py"
//
//	timeouts:
//	  sage_seconds: "90"
//	  solomon_seconds: "60"
//	  total_seconds: "180"
//	  event_queue_seconds: "120"
//	  process_seconds: "240"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Environment Overrides
//
// MAGI_HTTP_ADDR, MAGI_DB_PATH, MAGI_PYTHON_BIN, MAGI_WORKER_SCRIPT, and the
// five MAGI_*_TIMEOUT_SECONDS entries override the corresponding file
// values. The timeout entries use the same names the worker process reads,
// so one deployment surface configures both sides.
package config
