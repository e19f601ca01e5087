package database

import "strings"

// replicaEligible reports whether a query may run on the read replica.
// Only plain reads qualify: the trimmed, upper-cased text must start
// with SELECT (or WITH for CTEs), carry no locking clause, and a CTE
// must not contain any mutating keyword anywhere. The CTE guard is
// deliberately conservative: a matching word inside a string literal
// still forces the query to the primary.
func replicaEligible(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))

	isSelect := strings.HasPrefix(q, "SELECT")
	isCTE := strings.HasPrefix(q, "WITH")
	if !isSelect && !isCTE {
		return false
	}

	if strings.Contains(q, "FOR UPDATE") || strings.Contains(q, "FOR SHARE") {
		return false
	}

	if isCTE {
		if strings.Contains(q, "INSERT") || strings.Contains(q, "UPDATE") || strings.Contains(q, "DELETE") {
			return false
		}
	}

	return true
}
