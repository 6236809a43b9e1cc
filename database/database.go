// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package database provides SQLite-backed session storage: the last ledger
// snapshot (so displays stay functional when the ledger is unreachable) and
// a journal of confirmed actions.
package database

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"

	"github.com/clawdworks/voice/coordinator"
	"github.com/clawdworks/voice/ledger"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store is a SQLite-backed session store. Uses an in-memory database when
// dataDir is empty, useful for testing and ephemeral sessions.
type Store struct {
	db      *gorm.DB
	logger  *slog.Logger
	dataDir string
}

// New creates a session store. Uses in-memory database if dataDir is empty.
func New(dataDir string, logger *slog.Logger) (*Store, error) {
	var sessionDb *gorm.DB
	var err error
	if dataDir == "" {
		// Use in-memory database when no data directory is specified
		// cache=shared allows multiple connections to share the same in-memory database
		sessionDb, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		sessionDbPath := filepath.Join(dataDir, "session.sqlite")
		// WAL journal mode, disable sync on write
		sessionConnOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)"
		sessionDb, err = gorm.Open(
			sqlite.Open(
				fmt.Sprintf("file:%s?%s", sessionDbPath, sessionConnOpts),
			),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	s := &Store{
		db:      sessionDb,
		dataDir: dataDir,
		logger:  logger,
	}
	if s.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	// Create table schemas
	for _, model := range migrateModels {
		s.logger.Debug(
			fmt.Sprintf("creating table: %#v", model),
			"component", "database",
		)
		if err := s.db.AutoMigrate(model); err != nil {
			return s, err
		}
	}
	return s, nil
}

// DB returns the underlying gorm DB handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}

// SaveSnapshot replaces the persisted proposal snapshot and user stakes
// wholesale inside one transaction
func (s *Store) SaveSnapshot(
	proposals []ledger.Proposal,
	stakes map[int]*big.Int,
) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if result := tx.Where("1 = 1").Delete(&Proposal{}); result.Error != nil {
			return result.Error
		}
		if result := tx.Where("1 = 1").Delete(&UserStake{}); result.Error != nil {
			return result.Error
		}
		for _, proposal := range proposals {
			row := Proposal{
				Idx:         proposal.Index,
				Title:       proposal.Title,
				Description: proposal.Description,
				TotalStaked: proposal.TotalStaked.String(),
				Active:      proposal.Active,
				CreatedAt:   proposal.CreatedAt,
			}
			if result := tx.Create(&row); result.Error != nil {
				return result.Error
			}
		}
		for idx, stake := range stakes {
			row := UserStake{
				Idx:    idx,
				Amount: stake.String(),
			}
			if result := tx.Create(&row); result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
}

// LoadSnapshot returns the persisted proposal snapshot in creation order
func (s *Store) LoadSnapshot() ([]ledger.Proposal, map[int]*big.Int, error) {
	var proposalRows []Proposal
	result := s.db.Order("idx").Find(&proposalRows)
	if result.Error != nil {
		return nil, nil, result.Error
	}
	proposals := make([]ledger.Proposal, 0, len(proposalRows))
	for _, row := range proposalRows {
		totalStaked, ok := new(big.Int).SetString(row.TotalStaked, 10)
		if !ok {
			return nil, nil, fmt.Errorf(
				"malformed total staked for proposal %d: %q",
				row.Idx,
				row.TotalStaked,
			)
		}
		proposals = append(proposals, ledger.Proposal{
			Index:       row.Idx,
			Title:       row.Title,
			Description: row.Description,
			TotalStaked: totalStaked,
			Active:      row.Active,
			CreatedAt:   row.CreatedAt,
		})
	}
	var stakeRows []UserStake
	result = s.db.Find(&stakeRows)
	if result.Error != nil {
		return nil, nil, result.Error
	}
	stakes := make(map[int]*big.Int)
	for _, row := range stakeRows {
		stake, ok := new(big.Int).SetString(row.Amount, 10)
		if !ok {
			return nil, nil, fmt.Errorf(
				"malformed stake for proposal %d: %q",
				row.Idx,
				row.Amount,
			)
		}
		stakes[row.Idx] = stake
	}
	return proposals, stakes, nil
}

// RecordAction appends a confirmed action to the session journal
func (s *Store) RecordAction(record coordinator.ActionRecord) error {
	row := Action{
		Kind:       string(record.Kind),
		Idx:        record.ProposalIdx,
		TxHash:     record.TxHash,
		OccurredAt: record.OccurredAt,
	}
	if record.Amount != nil {
		row.Amount = record.Amount.String()
	}
	if result := s.db.Create(&row); result.Error != nil {
		return result.Error
	}
	return nil
}

// RecentActions returns up to limit journaled actions, newest first
func (s *Store) RecentActions(limit int) ([]Action, error) {
	var rows []Action
	result := s.db.Order("id desc").Limit(limit).Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}
