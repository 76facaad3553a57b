// internal/config/database.go
package config

import (
	"fmt"
	"strings"
)

const applicationName = "marketsync"

// DSN returns the libpq keyword/value connection string.
func (d *DatabaseConfig) DSN() string {
	return d.dsn(d.Password)
}

// RedactedDSN is DSN with the password masked, for logs.
func (d *DatabaseConfig) RedactedDSN() string {
	if d.Password == "" {
		return d.dsn("")
	}
	return d.dsn("xxxxx")
}

func (d *DatabaseConfig) dsn(password string) string {
	parts := []string{
		fmt.Sprintf("host=%s", d.Host),
		fmt.Sprintf("port=%s", d.Port),
		fmt.Sprintf("user=%s", d.User),
	}
	if password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", password))
	}
	parts = append(parts,
		fmt.Sprintf("dbname=%s", d.Database),
		fmt.Sprintf("sslmode=%s", d.SSLMode),
		fmt.Sprintf("application_name=%s", applicationName),
	)
	if d.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", d.ConnectTimeout))
	}
	return strings.Join(parts, " ")
}
