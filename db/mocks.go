// Package db narrows borp.DbMap and borp.Transaction down to the methods
// the sa repositories actually call, so unit tests can swap in a fake
// without touching a real Postgres instance.
package db

import (
	"context"
	"database/sql"

	borp "github.com/letsencrypt/borp"
)

// By convention, any function that takes a OneSelector, Selector,
// Inserter, Execer, or SelectExecer as an argument expects that a
// context has already been applied to the relevant DbMap or
// Transaction object.

// OneSelector is anything that provides a SelectOne function.
type OneSelector interface {
	SelectOne(context.Context, interface{}, string, ...interface{}) error
}

// Selector is anything that provides a Select function.
type Selector interface {
	Select(context.Context, interface{}, string, ...interface{}) ([]interface{}, error)
}

// Inserter is anything that provides an Insert function.
type Inserter interface {
	Insert(ctx context.Context, list ...interface{}) error
}

// Execer is anything that provides an Exec function.
type Execer interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}

// SelectExecer offers a subset of borp.SqlExecutor's methods: Select and
// Exec.
type SelectExecer interface {
	Selector
	Execer
}

// DatabaseMap offers the full combination of OneSelector, Inserter,
// SelectExecer, and a Begin function for creating a Transaction.
type DatabaseMap interface {
	OneSelector
	Inserter
	SelectExecer
	BeginTx(context.Context) (*borp.Transaction, error)
}

// Transaction offers the OneSelector, Inserter, SelectExecer interface as
// well as Delete, Get, Update, Commit and Rollback.
type Transaction interface {
	OneSelector
	Inserter
	SelectExecer
	Delete(ctx context.Context, list ...interface{}) (int64, error)
	Get(ctx context.Context, i interface{}, keys ...interface{}) (interface{}, error)
	Update(ctx context.Context, list ...interface{}) (int64, error)
	Commit() error
	Rollback() error
}
