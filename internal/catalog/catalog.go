// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package catalog persists accepted NCCH uploads and serves the query and
// lookup endpoints over them. The filter surface is deliberately narrow
// (keyword substring, product code, exact partition id) rather than the
// exhaustive per-field comparator grammar of the system this was
// distilled from; see the design notes for why.
package catalog

import (
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wwylele/ncch-catalog/internal/catalogrecord"
)

// Filter narrows a catalog query. Zero-value fields are not applied.
type Filter struct {
	Keyword     string  // substring match against the record's keyword field
	ProductCode string  // exact match
	PartitionID *uint64 // exact match when non-nil

	Limit  int
	Offset int
}

// ErrNotFound is returned by Get when no record matches the given id.
var ErrNotFound = errors.New("catalog: record not found")

// Store is the gorm-backed catalog of accepted NCCH records.
type Store struct {
	db *gorm.DB
}

// Open connects to the catalog database. driver is "sqlite" or "postgres";
// dsn is passed through to the corresponding gorm driver unchanged.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("catalog: unknown driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", driver, err)
	}

	return &Store{db: db}, nil
}

// Migrate creates or updates the catalog's schema.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&row{}); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// Insert stores r. If a record with the same partition id already exists
// (the catalog's uniqueness constraint), Insert reports the conflict and
// returns the existing record's id instead of erroring.
func (s *Store) Insert(r *catalogrecord.Record) (existingID string, conflict bool, err error) {
	rw, err := rowFromRecord(r)
	if err != nil {
		return "", false, err
	}

	var existing row
	tx := s.db.Select("id").Where("partition_id = ?", rw.PartitionID).First(&existing)
	if tx.Error == nil {
		return existing.ID, true, nil
	}
	if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return "", false, fmt.Errorf("catalog: check existing record: %w", tx.Error)
	}

	if err := s.db.Create(rw).Error; err != nil {
		return "", false, fmt.Errorf("catalog: insert record: %w", err)
	}
	return "", false, nil
}

// Get fetches the record with the given stable id.
func (s *Store) Get(id string) (*catalogrecord.Record, error) {
	var rw row
	tx := s.db.First(&rw, "id = ?", id)
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if tx.Error != nil {
		return nil, fmt.Errorf("catalog: get record: %w", tx.Error)
	}
	return rw.toRecord()
}

func applyFilter(tx *gorm.DB, f Filter) *gorm.DB {
	if f.Keyword != "" {
		tx = tx.Where("keyword LIKE ?", "%"+f.Keyword+"%")
	}
	if f.ProductCode != "" {
		tx = tx.Where("product_code = ?", f.ProductCode)
	}
	if f.PartitionID != nil {
		tx = tx.Where("partition_id = ?", *f.PartitionID)
	}
	return tx
}

// Query returns records matching f, applying f.Limit/f.Offset for paging.
func (s *Store) Query(f Filter) ([]*catalogrecord.Record, error) {
	tx := applyFilter(s.db, f)
	if f.Limit > 0 {
		tx = tx.Limit(f.Limit)
	}
	if f.Offset > 0 {
		tx = tx.Offset(f.Offset)
	}

	var rows []row
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}

	records := make([]*catalogrecord.Record, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Count returns the number of records matching f, ignoring f.Limit/f.Offset.
func (s *Store) Count(f Filter) (int64, error) {
	var count int64
	tx := applyFilter(s.db.Model(&row{}), f)
	if err := tx.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("catalog: count: %w", err)
	}
	return count, nil
}
