package db

import (
	"database/sql"
	"fmt"
	"strings"

	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	// Регистрирует драйвер sqlite3 для database/sql.
	_ "github.com/mattn/go-sqlite3"
)

// sqliteParams применяются драйвером к каждому новому соединению пула.
const sqliteParams = "_foreign_keys=on&_busy_timeout=5000"

// OpenSQLite открывает файл SQLite (или память при ":memory:") и применяет миграции.
func OpenSQLite(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("открытие sqlite: %w", err)
	}
	// Для базы в памяти каждое новое соединение видит пустую базу.
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := MigrateSQLite(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// MigrateSQLite применяет встроенные миграции к открытой базе SQLite.
// Мигратор не закрывается: его Close закрыл бы и conn.
func MigrateSQLite(conn *sql.DB) error {
	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("драйвер миграций sqlite: %w", err)
	}
	m, err := newMigrate("sqlite", "sqlite3", driver)
	if err != nil {
		return err
	}
	return up(m)
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqliteParams
	}
	return path + "?" + sqliteParams
}
