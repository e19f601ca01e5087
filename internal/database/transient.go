package database

import (
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
)

// transientSQLStates are the PostgreSQL error codes worth retrying:
// the conflict will clear, the server is restarting, or the connection
// can be re-established.
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"08000": true, // connection_exception
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08003": true, // connection_does_not_exist
	"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
	"08006": true, // connection_failure
	"53000": true, // insufficient_resources
	"53100": true, // disk_full
	"53200": true, // out_of_memory
	"53300": true, // too_many_connections
}

// connectionSQLStates is the subset that indicates the connection
// itself is gone, used to decide when the database is unavailable.
var connectionSQLStates = map[string]bool{
	"08000": true,
	"08001": true,
	"08003": true,
	"08004": true,
	"08006": true,
	"57P01": true,
	"57P02": true,
	"57P03": true,
}

var transientMessagePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"unexpected eof",
	"i/o timeout",
	"temporarily unavailable",
	"bad connection",
}

// IsTransient reports whether err is a transient infrastructure error
// that is safe to retry. Anything else propagates immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return transientSQLStates[string(pqErr.Code)]
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return matchesTransientPattern(err)
}

// isConnectionError reports whether err indicates the connection to the
// server is broken, as opposed to a per-statement failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return connectionSQLStates[string(pqErr.Code)]
	}

	return matchesTransientPattern(err)
}

func matchesTransientPattern(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientMessagePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
