// Package assets embeds the SQL migrations and the email templates.
package assets

import "embed"

//go:embed migrations all:templates
var FS embed.FS

const EmailTemplatesDir = "templates/email"

// MigrationsDir returns the migrations directory of a service.
func MigrationsDir(service string) string {
	return "migrations/" + service
}
