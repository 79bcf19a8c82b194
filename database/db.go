package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

// Datasource is the single gateway to the relational store. All
// coordination between workers happens through its row-level locking and
// lease tokens; workers share no in-memory state.
type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	return GetDBConnection(configuration)
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens and verifies a Postgres connection. Schema setup is
// handled by the migrate command, not here.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		log.Printf("database connection error: %v", err)
		return nil, err
	}
	return db, nil
}
