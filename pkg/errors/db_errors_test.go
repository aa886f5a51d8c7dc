package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyDBError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyDBError(nil))
}

func TestClassifyDBError_GORM(t *testing.T) {
	assert.Equal(t, ErrorTypeNotFound, ClassifyDBError(gorm.ErrRecordNotFound).Type)
	assert.Equal(t, ErrorTypeDuplicateKey, ClassifyDBError(gorm.ErrDuplicatedKey).Type)
	assert.True(t, IsNotFoundError(fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound)))
}

func TestClassifyDBError_MySQL(t *testing.T) {
	tests := []struct {
		number   uint16
		wantType DatabaseErrorType
	}{
		{1062, ErrorTypeDuplicateKey},
		{1452, ErrorTypeConstraintViolation},
		{1406, ErrorTypeDataTooLong},
		{1213, ErrorTypeDeadlock},
		{1048, ErrorTypeInvalidValue},
		{2013, ErrorTypeConnectionError},
		{9999, ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.number), func(t *testing.T) {
			dbErr := ClassifyDBError(&mysql.MySQLError{Number: tt.number, Message: "x"})
			assert.Equal(t, tt.wantType, dbErr.Type)
			assert.Equal(t, "mysql", dbErr.Driver)
			assert.Equal(t, fmt.Sprint(tt.number), dbErr.Code)
		})
	}
}

func TestClassifyDBError_Postgres(t *testing.T) {
	tests := []struct {
		code     pq.ErrorCode
		wantType DatabaseErrorType
	}{
		{"23505", ErrorTypeDuplicateKey},
		{"23503", ErrorTypeConstraintViolation},
		{"22001", ErrorTypeDataTooLong},
		{"40P01", ErrorTypeDeadlock},
		{"40001", ErrorTypeDeadlock},
		{"22P02", ErrorTypeInvalidValue},
		{"08006", ErrorTypeConnectionError},
		{"42P01", ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			dbErr := ClassifyDBError(&pq.Error{Code: tt.code, Message: "x"})
			assert.Equal(t, tt.wantType, dbErr.Type)
			assert.Equal(t, "postgres", dbErr.Driver)
		})
	}
}

func TestClassifyDBError_SQLite(t *testing.T) {
	dup := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}
	assert.Equal(t, ErrorTypeDuplicateKey, ClassifyDBError(dup).Type)
	assert.True(t, IsDuplicateKeyError(fmt.Errorf("insert: %w", dup)))

	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	dbErr := ClassifyDBError(busy)
	assert.Equal(t, ErrorTypeDeadlock, dbErr.Type)
	assert.True(t, dbErr.Transient())
}

func TestClassifyDBError_ConnectionMessage(t *testing.T) {
	dbErr := ClassifyDBError(errors.New("dial tcp 10.0.0.1:3306: Connection Refused"))
	assert.Equal(t, ErrorTypeConnectionError, dbErr.Type)
	assert.True(t, dbErr.Transient())
}

func TestDatabaseError_Unwrap(t *testing.T) {
	orig := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	dbErr := ClassifyDBError(orig)

	var target *mysql.MySQLError
	assert.True(t, errors.As(dbErr, &target))
	assert.Contains(t, dbErr.Error(), "mysql error 1062")
	assert.Equal(t, "duplicate_key", dbErr.Type.String())
}
