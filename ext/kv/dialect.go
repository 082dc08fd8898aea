package kv

import (
	"fmt"

	"github.com/wippyai/opcore/errors"
)

// dialect holds the statements that differ between SQL engines.
type dialect struct {
	schema string
	get    string
	set    string
	del    string
	// list binds the prefix twice. The match is case-sensitive, so no LIKE.
	list string
	// singleWriter limits the pool to one connection for file databases.
	singleWriter bool
}

func newDialect(driver, table string) (dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return dialect{
			schema:       fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (k TEXT PRIMARY KEY, v TEXT NOT NULL)", table),
			get:          fmt.Sprintf("SELECT v FROM %s WHERE k = ?", table),
			set:          fmt.Sprintf("INSERT INTO %s (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v", table),
			del:          fmt.Sprintf("DELETE FROM %s WHERE k = ?", table),
			list:         fmt.Sprintf("SELECT k, v FROM %s WHERE substr(k, 1, length(?)) = ? ORDER BY k", table),
			singleWriter: true,
		}, nil
	case "postgres":
		return dialect{
			schema: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (k TEXT PRIMARY KEY, v TEXT NOT NULL)", table),
			get:    fmt.Sprintf("SELECT v FROM %s WHERE k = $1", table),
			set:    fmt.Sprintf("INSERT INTO %s (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v", table),
			del:    fmt.Sprintf("DELETE FROM %s WHERE k = $1", table),
			list:   fmt.Sprintf("SELECT k, v FROM %s WHERE substr(k, 1, char_length($1)) = $2 ORDER BY k", table),
		}, nil
	case "mysql":
		return dialect{
			schema: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (k VARCHAR(255) PRIMARY KEY, v LONGTEXT NOT NULL)", table),
			get:    fmt.Sprintf("SELECT v FROM %s WHERE k = ?", table),
			set:    fmt.Sprintf("INSERT INTO %s (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)", table),
			del:    fmt.Sprintf("DELETE FROM %s WHERE k = ?", table),
			list:   fmt.Sprintf("SELECT k, v FROM %s WHERE CAST(LEFT(k, CHAR_LENGTH(?)) AS BINARY) = CAST(? AS BINARY) ORDER BY k", table),
		}, nil
	default:
		return dialect{}, errors.NotSupported("kv driver " + driver)
	}
}
