package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crowdpen/payd/internal/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginTx_CommitAndRollback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx, err := ds.BeginTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	// Rollback after commit is the deferred-cleanup path and must be quiet.
	assert.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginTx_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ds := Datasource{Conn: db}

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	tx, err := ds.BeginTx(context.Background())
	assert.Nil(t, tx)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInternalServer))
}

func TestCommit_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection lost"))

	tx, err := ds.BeginTx(context.Background())
	require.NoError(t, err)
	assert.Error(t, tx.Commit())
}
