package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/parleylabs/parley/config"
	"github.com/parleylabs/parley/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
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

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createTransmissionTable(db)
	if err != nil {
		return nil, err
	}
	err = createDeliveryAttemptTable(db)
	if err != nil {
		return nil, err
	}
	err = createUsageRecordTable(db)
	if err != nil {
		return nil, err
	}
	err = createResultTable(db)
	if err != nil {
		return nil, err
	}
	err = createTraceEntryTable(db)
	if err != nil {
		return nil, err
	}
	err = createTopologyTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createTransmissionTable creates a PostgreSQL table for the Transmission struct.
// The unique index on idempotency_key is what makes create-or-get safe under
// concurrent admissions.
func createTransmissionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transmissions (
			id SERIAL PRIMARY KEY,
			transmission_id TEXT NOT NULL UNIQUE,
			idempotency_key TEXT UNIQUE,
			user_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			payload_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			lease_owner TEXT,
			lease_expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	log.Println(err)
	return err
}

// createDeliveryAttemptTable creates a PostgreSQL table for the DeliveryAttempt struct
func createDeliveryAttemptTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS delivery_attempts (
			id SERIAL PRIMARY KEY,
			attempt_id TEXT NOT NULL UNIQUE,
			transmission_id TEXT NOT NULL REFERENCES transmissions(transmission_id),
			provider TEXT,
			succeeded BOOLEAN NOT NULL,
			output_bytes BIGINT,
			error_summary TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createUsageRecordTable creates a PostgreSQL table for the UsageRecord struct
func createUsageRecordTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_records (
			id SERIAL PRIMARY KEY,
			usage_id TEXT NOT NULL UNIQUE,
			transmission_id TEXT NOT NULL REFERENCES transmissions(transmission_id),
			input_bytes BIGINT NOT NULL,
			output_bytes BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createResultTable creates a PostgreSQL table for the Result struct.
// One row per transmission; the unique constraint backs the write-once
// semantics of SetResult.
func createResultTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			id SERIAL PRIMARY KEY,
			transmission_id TEXT NOT NULL UNIQUE REFERENCES transmissions(transmission_id),
			body TEXT NOT NULL,
			provider TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createTraceEntryTable creates a PostgreSQL table for the TraceEntry struct
func createTraceEntryTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trace_entries (
			id SERIAL PRIMARY KEY,
			transmission_id TEXT NOT NULL REFERENCES transmissions(transmission_id),
			seq INT NOT NULL,
			stage TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createTopologyTable creates the single-row table holding the topology key
// the API process writes on first initialization.
func createTopologyTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS topology (
			id INT PRIMARY KEY CHECK (id = 1),
			topology_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}
