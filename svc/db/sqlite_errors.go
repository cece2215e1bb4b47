package db

import (
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

func IsUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	if sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
func IsForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrConstraint &&
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// uniqueColumn names the column from "UNIQUE constraint failed: users.email".
func uniqueColumn(err error) string {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return ""
	}
	msg := sqliteErr.Error()
	i := strings.LastIndex(msg, ": ")
	if i < 0 {
		return ""
	}
	cols := strings.Split(msg[i+2:], ",")
	return strings.TrimSpace(cols[0])
}
