package database

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/crowdpen/payd/config"
	"github.com/crowdpen/payd/internal/cache"

	_ "github.com/lib/pq"
)

// Declare a package-level variable to hold the singleton instance.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn        *sql.DB
	Cache       cache.Cache
	FeeCacheTTL time.Duration
}

// NewDataSource connects to Postgres once per process. c may be nil, in
// which case fee settings are read at call time.
func NewDataSource(configuration *config.Configuration, c cache.Cache) (IDataSource, error) {
	con, err := GetDBConnection(configuration, c)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration, c cache.Cache) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{
			Conn:        con,
			Cache:       c,
			FeeCacheTTL: time.Duration(configuration.Fees.CacheTTLSec) * time.Second,
		}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = db.PingContext(ctx)
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// BeginTx opens a unit of work. Callers must Commit or Rollback it.
func (d Datasource) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError(err, "Failed to begin transaction")
	}
	return &pgTx{tx: tx}, nil
}
