package database

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/DQYXACML/forkstate/config"
	"github.com/DQYXACML/forkstate/database/common"
	_ "github.com/DQYXACML/forkstate/database/utils/serializers"
)

type DB struct {
	gorm *gorm.DB

	Blocks common.BlocksDB
	Traces common.TracesDB
}

func NewDB(ctx context.Context, dbConfig config.DBConfig) (*DB, error) {
	gormConfig := gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        3_000,
	}
	gorm, err := gorm.Open(postgres.Open(dbConfig.DSN()), &gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sql, err := gorm.DB()
	if err != nil {
		return nil, err
	}
	if err := sql.PingContext(ctx); err != nil {
		return nil, errors.Wrapf(err, "connect to database %s at %s", dbConfig.Name, dbConfig.Host)
	}
	log.Info("connected to database", "host", dbConfig.Host, "name", dbConfig.Name)

	return newDB(gorm), nil
}

func newDB(gorm *gorm.DB) *DB {
	return &DB{
		gorm:   gorm,
		Blocks: common.NewBlocksDB(gorm),
		Traces: common.NewTracesDB(gorm),
	}
}

func (db *DB) Transaction(fn func(db *DB) error) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		return fn(newDB(tx))
	})
}

// ResetLocalChain drops every block and trace recorded after number.
func (db *DB) ResetLocalChain(number *big.Int) error {
	return db.Transaction(func(tx *DB) error {
		if err := tx.Traces.DeleteTracesAbove(number); err != nil {
			return err
		}
		return tx.Blocks.DeleteBlocksAbove(number)
	})
}

func (db *DB) Close() error {
	sql, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sql.Close()
}

// ExecuteSQLMigration runs every file under migrationsFolder in name order.
func (db *DB) ExecuteSQLMigration(migrationsFolder string) error {
	var files []string
	err := filepath.Walk(migrationsFolder, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Failed to process migration file: %s", path))
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, path := range files {
		fileContent, readErr := os.ReadFile(path)
		if readErr != nil {
			return errors.Wrap(readErr, fmt.Sprintf("Error reading SQL file: %s", path))
		}

		execErr := db.gorm.Exec(string(fileContent)).Error
		if execErr != nil {
			return errors.Wrap(execErr, fmt.Sprintf("Error executing SQL script: %s", path))
		}
		log.Info("applied migration", "file", path)
	}
	return nil
}
