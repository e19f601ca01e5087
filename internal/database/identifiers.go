package database

import (
	"regexp"

	apperrors "github.com/alG-N/alterGoldenBot-sub006/pkg/errors"
)

// allowedTables is the fixed set of tables the store will touch.
// Identifiers cannot be bound as parameters, so anything interpolated
// into SQL text must come through these checks first.
var allowedTables = map[string]bool{
	"users":           true,
	"guilds":          true,
	"guild_settings":  true,
	"warnings":        true,
	"mod_actions":     true,
	"playlists":       true,
	"playlist_tracks": true,
	"reminders":       true,
	"tags":            true,
	"command_usage":   true,
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateTable(name string) error {
	if !allowedTables[name] {
		return apperrors.NewValidationError("table not allowed: " + name)
	}
	return nil
}

func validateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return apperrors.NewValidationError("invalid identifier: " + name)
	}
	return nil
}

func validateColumns(record map[string]interface{}) error {
	for column := range record {
		if err := validateIdentifier(column); err != nil {
			return err
		}
	}
	return nil
}
