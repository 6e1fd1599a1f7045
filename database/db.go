package database

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/docpipehq/docpipe/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
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
		instance = &Datasource{Conn: con}
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

	// The database may still be starting up, retry the ping with backoff
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	err = backoff.Retry(func() error {
		return db.Ping()
	}, policy)
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}

	err = createSchema(db)
	if err != nil {
		return nil, err
	}
	err = createDocumentTable(db)
	if err != nil {
		return nil, err
	}
	err = createProcessingOutcomeTable(db)
	if err != nil {
		return nil, err
	}
	err = createSubscriptionTable(db)
	if err != nil {
		return nil, err
	}
	err = createDeliveryAttemptTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func GenerateUUIDWithSuffix(module string) string {
	// Generate a new UUID
	id := uuid.New()

	// Convert the UUID to a string
	uuidStr := id.String()

	// Add the module suffix
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)

	return idWithSuffix
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS docpipe`)
	log.Println(err)
	return err
}

// createDocumentTable creates a PostgreSQL table for the Document struct
func createDocumentTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS docpipe.documents (
			id SERIAL PRIMARY KEY,
			document_id TEXT NOT NULL UNIQUE,
			original_name TEXT NOT NULL,
			document_type TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	log.Println(err)
	return err
}

// createProcessingOutcomeTable creates a PostgreSQL table for the ProcessingOutcome struct
func createProcessingOutcomeTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS docpipe.processing_outcomes (
			id SERIAL PRIMARY KEY,
			outcome_id TEXT NOT NULL UNIQUE,
			document_id TEXT NOT NULL REFERENCES docpipe.documents(document_id),
			success BOOLEAN NOT NULL,
			processed_at TIMESTAMP NOT NULL DEFAULT NOW(),
			model_name TEXT,
			error_message TEXT,
			extracted_text TEXT,
			page_count INT,
			extraction_engine TEXT,
			classification_label TEXT,
			classification_confidence DOUBLE PRECISION,
			meta_data JSONB
		)
	`)
	log.Println(err)
	return err
}

// createSubscriptionTable creates a PostgreSQL table for the Subscription struct
func createSubscriptionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS docpipe.webhook_subscriptions (
			id SERIAL PRIMARY KEY,
			subscription_id TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			owner_id TEXT,
			event_types TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			failure_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			last_triggered_at TIMESTAMP
		)
	`)
	log.Println(err)
	return err
}

// createDeliveryAttemptTable creates a PostgreSQL table for the DeliveryAttempt struct
func createDeliveryAttemptTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS docpipe.delivery_attempts (
			id SERIAL PRIMARY KEY,
			attempt_id TEXT NOT NULL UNIQUE,
			subscription_id TEXT NOT NULL REFERENCES docpipe.webhook_subscriptions(subscription_id),
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			attempt_number INT NOT NULL,
			http_status_code INT,
			response_body TEXT,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			attempted_at TIMESTAMP NOT NULL DEFAULT NOW(),
			next_retry_at TIMESTAMP
		)
	`)
	log.Println(err)
	return err
}
