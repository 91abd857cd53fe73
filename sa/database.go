// Package sa is the Certificate Store: the relational
// repository for uploads, certificates, CRLs, master lists, deviation
// lists, validation results and reconciliation history, backed by
// Postgres through borp, Let's Encrypt's gorp fork.
package sa

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	borp "github.com/letsencrypt/borp"

	blog "github.com/iland112/icao-local-pkd/log"
)

// NewDbMap opens a Postgres connection and builds the borp mapping used
// by every repository in this package. Callers own the returned DbMap's
// lifetime and should Db.Close() it on shutdown.
func NewDbMap(dsn string, logger blog.Logger) (*borp.DbMap, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sa: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sa: ping postgres: %w", err)
	}

	logger.Infof("sa: connected to postgres")

	dbMap := &borp.DbMap{Db: db, Dialect: borp.PostgresDialect{}}
	initTables(dbMap)
	return dbMap, nil
}

// initTables registers the table map. It does not create tables; schema
// migration is out of this system's scope.
func initTables(dbMap *borp.DbMap) {
	dbMap.AddTableWithName(uploadModel{}, "uploads").SetKeys(true, "ID")
	dbMap.AddTableWithName(certificateModel{}, "certificates").SetKeys(true, "ID")
	dbMap.AddTableWithName(crlModel{}, "crls").SetKeys(true, "ID")
	dbMap.AddTableWithName(revokedEntryModel{}, "revoked_entries").SetKeys(true, "ID")
	dbMap.AddTableWithName(masterListModel{}, "master_lists").SetKeys(true, "ID")
	dbMap.AddTableWithName(deviationListModel{}, "deviation_lists").SetKeys(true, "ID")
	dbMap.AddTableWithName(deviationEntryModel{}, "deviation_entries").SetKeys(true, "ID")
	dbMap.AddTableWithName(validationResultModel{}, "validation_results").SetKeys(true, "ID")
	dbMap.AddTableWithName(reconciliationSummaryModel{}, "reconciliation_summaries").SetKeys(true, "ID")
	dbMap.AddTableWithName(reconciliationLogModel{}, "reconciliation_logs").SetKeys(true, "ID")
}

// Rollback rolls tx back and wraps rbErr (if any) with the original error.
func Rollback(tx *borp.Transaction, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
	}
	return err
}

var errNoRows = sql.ErrNoRows
