// Package errors classifies errors returned by the durable store across the
// supported drivers (MySQL, PostgreSQL, SQLite).
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// DatabaseErrorType represents the type of database error.
type DatabaseErrorType int

const (
	ErrorTypeUnknown DatabaseErrorType = iota
	// ErrorTypeDuplicateKey unique / primary key violation
	ErrorTypeDuplicateKey
	ErrorTypeConstraintViolation
	ErrorTypeDataTooLong
	ErrorTypeNotFound
	// ErrorTypeDeadlock deadlock, serialization failure or busy database
	ErrorTypeDeadlock
	ErrorTypeConnectionError
	ErrorTypeInvalidValue
)

func (t DatabaseErrorType) String() string {
	switch t {
	case ErrorTypeDuplicateKey:
		return "duplicate_key"
	case ErrorTypeConstraintViolation:
		return "constraint_violation"
	case ErrorTypeDataTooLong:
		return "data_too_long"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeDeadlock:
		return "deadlock"
	case ErrorTypeConnectionError:
		return "connection"
	case ErrorTypeInvalidValue:
		return "invalid_value"
	}
	return "unknown"
}

// DatabaseError wraps a database error with classification information.
type DatabaseError struct {
	Type        DatabaseErrorType
	Driver      string // mysql | postgres | sqlite
	Code        string // driver specific code: 1062, 23505, 2067 ...
	OriginalErr error
	Message     string
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s error %s): %v", e.Message, e.Driver, e.Code, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// Transient reports whether repeating the statement may succeed.
func (e *DatabaseError) Transient() bool {
	return e.Type == ErrorTypeDeadlock || e.Type == ErrorTypeConnectionError
}

// ClassifyDBError classifies a database error into a specific error type.
//
//	if dbErr := errors.ClassifyDBError(err); dbErr.Type == errors.ErrorTypeDuplicateKey {
//	    // 并发 upsert 竞争，视为幂等成功
//	}
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{Type: ErrorTypeNotFound, OriginalErr: err, Message: "record not found"}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &DatabaseError{Type: ErrorTypeDuplicateKey, OriginalErr: err, Message: "duplicate key constraint violation"}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return classifyMySQLError(mysqlErr)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPostgresError(pqErr)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return classifySQLiteError(sqliteErr)
	}

	if isConnectionError(err.Error()) {
		return &DatabaseError{Type: ErrorTypeConnectionError, OriginalErr: err, Message: "database connection error"}
	}

	return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err, Message: "unknown database error"}
}

func classifyMySQLError(err *mysql.MySQLError) *DatabaseError {
	dbErr := &DatabaseError{Driver: "mysql", Code: fmt.Sprint(err.Number), OriginalErr: err}
	switch err.Number {
	case 1062: // ER_DUP_ENTRY
		dbErr.Type, dbErr.Message = ErrorTypeDuplicateKey, "duplicate key constraint violation"
	case 1451, 1452: // foreign key
		dbErr.Type, dbErr.Message = ErrorTypeConstraintViolation, "foreign key constraint violation"
	case 1406: // ER_DATA_TOO_LONG
		dbErr.Type, dbErr.Message = ErrorTypeDataTooLong, "data too long for column"
	case 1213, 1205: // deadlock, lock wait timeout
		dbErr.Type, dbErr.Message = ErrorTypeDeadlock, "deadlock detected"
	case 1048, 1265, 1366:
		dbErr.Type, dbErr.Message = ErrorTypeInvalidValue, "invalid or truncated value"
	case 2006, 2013: // server gone away, lost connection
		dbErr.Type, dbErr.Message = ErrorTypeConnectionError, "database connection error"
	default:
		dbErr.Type, dbErr.Message = ErrorTypeUnknown, "MySQL error"
	}
	return dbErr
}

func classifyPostgresError(err *pq.Error) *DatabaseError {
	dbErr := &DatabaseError{Driver: "postgres", Code: string(err.Code), OriginalErr: err}
	switch {
	case err.Code == "23505": // unique_violation
		dbErr.Type, dbErr.Message = ErrorTypeDuplicateKey, "duplicate key constraint violation"
	case err.Code == "23503", err.Code == "23514": // foreign_key_violation, check_violation
		dbErr.Type, dbErr.Message = ErrorTypeConstraintViolation, "constraint violation"
	case err.Code == "22001": // string_data_right_truncation
		dbErr.Type, dbErr.Message = ErrorTypeDataTooLong, "data too long for column"
	case err.Code == "40P01", err.Code == "40001": // deadlock_detected, serialization_failure
		dbErr.Type, dbErr.Message = ErrorTypeDeadlock, "deadlock detected"
	case err.Code == "23502", err.Code.Class() == "22":
		dbErr.Type, dbErr.Message = ErrorTypeInvalidValue, "invalid value"
	case err.Code.Class() == "08", err.Code.Class() == "57":
		dbErr.Type, dbErr.Message = ErrorTypeConnectionError, "database connection error"
	default:
		dbErr.Type, dbErr.Message = ErrorTypeUnknown, "PostgreSQL error"
	}
	return dbErr
}

func classifySQLiteError(err sqlite3.Error) *DatabaseError {
	dbErr := &DatabaseError{Driver: "sqlite", Code: fmt.Sprint(int(err.ExtendedCode)), OriginalErr: err}
	switch {
	case err.ExtendedCode == sqlite3.ErrConstraintUnique, err.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		dbErr.Type, dbErr.Message = ErrorTypeDuplicateKey, "duplicate key constraint violation"
	case err.ExtendedCode == sqlite3.ErrConstraintForeignKey, err.ExtendedCode == sqlite3.ErrConstraintCheck:
		dbErr.Type, dbErr.Message = ErrorTypeConstraintViolation, "constraint violation"
	case err.ExtendedCode == sqlite3.ErrConstraintNotNull:
		dbErr.Type, dbErr.Message = ErrorTypeInvalidValue, "column cannot be null"
	case err.Code == sqlite3.ErrTooBig:
		dbErr.Type, dbErr.Message = ErrorTypeDataTooLong, "data too long"
	case err.Code == sqlite3.ErrBusy, err.Code == sqlite3.ErrLocked:
		dbErr.Type, dbErr.Message = ErrorTypeDeadlock, "database is locked"
	case err.Code == sqlite3.ErrCantOpen, err.Code == sqlite3.ErrIoErr:
		dbErr.Type, dbErr.Message = ErrorTypeConnectionError, "database connection error"
	default:
		dbErr.Type, dbErr.Message = ErrorTypeUnknown, "SQLite error"
	}
	return dbErr
}

var connectionKeywords = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"bad connection",
	"can't connect",
	"dial tcp",
}

func isConnectionError(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, keyword := range connectionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// IsDuplicateKeyError checks if the error is a duplicate key constraint violation.
func IsDuplicateKeyError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeDuplicateKey
}

// IsNotFoundError checks if the error is a record not found error.
func IsNotFoundError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeNotFound
}
