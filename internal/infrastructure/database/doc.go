// Package database provides SQLite database connectivity for VoiceLink Core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations embedded into the binary
//   - Connection pooling and lifecycle management
//
// The only persistent store in VoiceLink is the tool invocation audit
// log. Conversation content is deliberately kept out of the database:
// device transcripts live in per-session memory and vanish when the
// session stops.
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Run migrations
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files live in the top-level migrations/ directory as
// versioned pairs (YYYYMMDD_HHMMSS_description.up.sql / .down.sql) and
// are registered via the migrations package's init.
package database
