package mssql

import (
	"context"
	dbsql "database/sql"
	"errors"
	"fmt"
	"strconv"

	mssqldb "github.com/microsoft/go-mssqldb"
	_ "github.com/microsoft/go-mssqldb/azuread" // registers the azuresql driver

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource/sqldb"
	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

// NewPool opens a SQL Server pool and verifies it with a ping.
func NewPool(ctx context.Context, cfg *Config) (*sqldb.Pool, error) {
	db, err := dbsql.Open(cfg.DriverName(), cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("open sql server connection: %w", err)
	}
	pool := sqldb.New(db, sql.DialectMSSQL, cfg.PoolMaxConns, classify)
	if err := pool.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return pool, nil
}

// classify maps SQL Server error numbers onto datasource.DriverError.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var de *datasource.DriverError
	if errors.As(err, &de) {
		return err
	}
	var msErr mssqldb.Error
	if errors.As(err, &msErr) {
		return datasource.NewDriverError(reasonForNumber(msErr.Number), strconv.Itoa(int(msErr.Number)), err)
	}
	return sqldb.DefaultClassifier(err)
}

func reasonForNumber(n int32) apperrors.SubReason {
	switch n {
	case 102, 105, 156, 170, 207, 208, 209, 4104: // syntax, invalid column/object, ambiguous, multi-part binding
		return apperrors.ReasonSyntax
	case 229, 230, 262, 3906, 18456, 4060: // permission denied, read-only database, login failed
		return apperrors.ReasonPermission
	case -2: // client-side timeout
		return apperrors.ReasonTimeout
	case 233, 10053, 10054, 10060, 40613: // transport failures, Azure database unavailable
		return apperrors.ReasonConnection
	default:
		return apperrors.ReasonUnknown
	}
}
