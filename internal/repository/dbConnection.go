// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
	dbConnErr      error
)

type DBConnection struct {
	DB *sqlx.DB
}

func openDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}

	// sqlite does not multithread. Having more than one connection
	// open would just mean waiting for locks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(queueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize queue schema: %w", err)
	}
	return db, nil
}

// Connect opens the per-cluster queue database. Safe to call more
// than once; only the first path wins.
func Connect(path string) error {
	dbConnOnce.Do(func() {
		db, err := openDB(path)
		if err != nil {
			dbConnErr = err
			return
		}
		dbConnInstance = &DBConnection{DB: db}
	})
	return dbConnErr
}

func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		panic("repository.Connect was not called")
	}
	return dbConnInstance
}
