// Package database opens the sqlite file shared by the stores and caches
// their prepared statements.
package database

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
	stmts sync.Map // query -> *sql.Stmt
}

// Open opens path with WAL journaling and a busy timeout. A single
// connection serializes writers so concurrent sequencers never hit
// "database is locked".
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db}, nil
}

// Stmt returns the prepared statement for query, preparing it once.
func (db *DB) Stmt(query string) (*sql.Stmt, error) {
	if cached, ok := db.stmts.Load(query); ok {
		return cached.(*sql.Stmt), nil
	}
	stmt, err := db.DB.Prepare(query)
	if err != nil {
		return nil, err
	}
	if prev, loaded := db.stmts.LoadOrStore(query, stmt); loaded {
		stmt.Close()
		return prev.(*sql.Stmt), nil
	}
	return stmt, nil
}

func (db *DB) MustStmt(query string) *sql.Stmt {
	stmt, err := db.Stmt(query)
	if err != nil {
		panic(err)
	}
	return stmt
}

// Close closes every cached statement and the database.
func (db *DB) Close() error {
	db.stmts.Range(func(k, v interface{}) bool {
		_ = v.(*sql.Stmt).Close()
		db.stmts.Delete(k)
		return true
	})
	return db.DB.Close()
}
