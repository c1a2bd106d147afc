package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	name string
	// driver is the database/sql driver name.
	driver string
	schema []string
	// lockSuffix is appended to row reads taken inside a commit.
	lockSuffix string
	numbered   bool
}

var sqliteDialect = dialect{
	name:   DriverSQLite,
	driver: "sqlite",
	schema: schemaStatements("INTEGER", "BLOB", ""),
}

var postgresDialect = dialect{
	name:       DriverPostgres,
	driver:     "postgres",
	schema:     schemaStatements("BIGINT", "BYTEA", ` COLLATE "C"`),
	lockSuffix: " FOR UPDATE",
	numbered:   true,
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite, "sqlite3":
		return sqliteDialect, nil
	case DriverPostgres, "postgresql", "pq":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("sqlstore: unknown driver %q; use sqlite|postgres", driver)
	}
}

// rebind rewrites ? placeholders to $n for drivers that need numbered ones.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func schemaStatements(bigint, blob, collate string) []string {
	text := "TEXT" + collate
	events := func(table string) string {
		return `CREATE TABLE IF NOT EXISTS ` + table + ` (
	tenant_id ` + text + ` NOT NULL,
	stream_key ` + text + ` NOT NULL,
	sequence ` + bigint + ` NOT NULL,
	event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	data ` + blob + `,
	metadata TEXT,
	ts_ns ` + bigint + ` NOT NULL,
	PRIMARY KEY (tenant_id, stream_key, sequence)
)`
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS streams (
	tenant_id ` + text + ` NOT NULL,
	stream_key ` + text + ` NOT NULL,
	version ` + bigint + ` NOT NULL DEFAULT 0,
	is_archived INTEGER NOT NULL DEFAULT 0,
	created_at_ns ` + bigint + ` NOT NULL DEFAULT 0,
	last_ts_ns ` + bigint + ` NOT NULL DEFAULT 0,
	archived_at_ns ` + bigint + `,
	PRIMARY KEY (tenant_id, stream_key)
)`,
		events(tableActive),
		events(tableArchived),
		`CREATE TABLE IF NOT EXISTS tenants (
	tenant_id ` + text + ` PRIMARY KEY,
	created_at_ns ` + bigint + ` NOT NULL
)`,
	}
}
