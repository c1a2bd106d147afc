// Package client provides the `evstore` command-line interface.
//
// Every command except serve opens the configured store directly (Pebble
// data dir, SQLite file or Postgres DSN), runs one operation and prints JSON.
//
// Usage
//
//	evstore serve --config /etc/evstore.yaml
//
//	evstore append test-tenant test-stream --type int --data 1 --data 2
//	evstore archive test-tenant test-stream
//	evstore state test-tenant test-stream
//	evstore events test-tenant test-stream --from 1 --limit 10
//
//	evstore scan test-tenant --partition archived --limit 100
//	evstore scan test-tenant --filter 'sequence > 1'
//
//	evstore verify test-tenant test-stream
//	evstore verify              # audit every stream of every tenant
//	evstore tenants
//
// Global flags --config, --data-dir, --driver, --dsn and --log-level
// override the loaded configuration.
package client
