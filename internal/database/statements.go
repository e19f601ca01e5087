package database

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/alG-N/alterGoldenBot-sub006/pkg/errors"
)

// Statement builders for the map-based write helpers. Columns are
// iterated in sorted order so the generated SQL is deterministic;
// values are always bound as positional parameters.

func sortedColumns(record map[string]interface{}) []string {
	columns := make([]string, 0, len(record))
	for column := range record {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

func buildInsert(table string, record map[string]interface{}) (string, []interface{}, error) {
	if err := validateTable(table); err != nil {
		return "", nil, err
	}
	if len(record) == 0 {
		return "", nil, apperrors.NewValidationError("insert requires at least one column")
	}
	if err := validateColumns(record); err != nil {
		return "", nil, err
	}

	columns := sortedColumns(record)
	placeholders := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, column := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = record[column]
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)
	return query, args, nil
}

func buildUpsert(table string, record map[string]interface{}, conflictColumns []string) (string, []interface{}, error) {
	query, args, err := buildInsert(table, record)
	if err != nil {
		return "", nil, err
	}
	if len(conflictColumns) == 0 {
		return "", nil, apperrors.NewValidationError("upsert requires conflict columns")
	}
	for _, column := range conflictColumns {
		if err := validateIdentifier(column); err != nil {
			return "", nil, err
		}
	}

	conflictSet := make(map[string]bool, len(conflictColumns))
	for _, column := range conflictColumns {
		conflictSet[column] = true
	}

	var updates []string
	for _, column := range sortedColumns(record) {
		if conflictSet[column] {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", column, column))
	}

	if len(updates) == 0 {
		query += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(conflictColumns, ", "))
	} else {
		query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(conflictColumns, ", "),
			strings.Join(updates, ", "),
		)
	}
	return query, args, nil
}

func buildUpdate(table string, record, where map[string]interface{}) (string, []interface{}, error) {
	if err := validateTable(table); err != nil {
		return "", nil, err
	}
	if len(record) == 0 {
		return "", nil, apperrors.NewValidationError("update requires at least one column")
	}
	if len(where) == 0 {
		// A full-table update is never what the bot wants
		return "", nil, apperrors.NewValidationError("update requires a where clause")
	}
	if err := validateColumns(record); err != nil {
		return "", nil, err
	}
	if err := validateColumns(where); err != nil {
		return "", nil, err
	}

	var args []interface{}
	setClauses := make([]string, 0, len(record))
	for _, column := range sortedColumns(record) {
		args = append(args, record[column])
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	whereClauses := make([]string, 0, len(where))
	for _, column := range sortedColumns(where) {
		args = append(args, where[column])
		whereClauses = append(whereClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		table,
		strings.Join(setClauses, ", "),
		strings.Join(whereClauses, " AND "),
	)
	return query, args, nil
}

func buildDelete(table string, where map[string]interface{}) (string, []interface{}, error) {
	if err := validateTable(table); err != nil {
		return "", nil, err
	}
	if len(where) == 0 {
		return "", nil, apperrors.NewValidationError("delete requires a where clause")
	}
	if err := validateColumns(where); err != nil {
		return "", nil, err
	}

	var args []interface{}
	whereClauses := make([]string, 0, len(where))
	for _, column := range sortedColumns(where) {
		args = append(args, where[column])
		whereClauses = append(whereClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(whereClauses, " AND "))
	return query, args, nil
}
