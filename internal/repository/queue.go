// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package repository keeps the deferred targeted-backfill queue in a
// small per-cluster sqlite database. Queue access only happens while
// the cluster lock is held, so the single connection never contends
// across hosts.
package repository

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-scoreboard/pkg/log"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS backfill_queue (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	username    TEXT NOT NULL,
	month       TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL,
	done        INTEGER NOT NULL DEFAULT 0,
	UNIQUE(username, month)
);`

// QueueEntry is one deferred window. An empty username means the
// whole month is re-scanned, used after a quarantine.
type QueueEntry struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
	Month    string `db:"month"`
}

var (
	queueRepoOnce     sync.Once
	queueRepoInstance *QueueRepository
)

type QueueRepository struct {
	DB *sqlx.DB
}

func GetQueueRepository() *QueueRepository {
	queueRepoOnce.Do(func() {
		queueRepoInstance = &QueueRepository{DB: GetConnection().DB}
	})
	return queueRepoInstance
}

// Enqueue adds one (username, month) window. A pair is stored at most
// once: a later call for the same pair is ignored whether the earlier
// entry is still open or already done.
func (r *QueueRepository) Enqueue(username string, month string) error {
	_, err := sq.Insert("backfill_queue").
		Columns("username", "month", "enqueued_at", "done").
		Values(username, month, time.Now().Unix(), 0).
		Suffix("ON CONFLICT(username, month) DO NOTHING").
		RunWith(r.DB).Exec()
	return err
}

// EnqueueMonths queues a window per month for one user.
func (r *QueueRepository) EnqueueMonths(username string, months []string) error {
	for _, m := range months {
		if err := r.Enqueue(username, m); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns up to limit open entries, oldest first.
func (r *QueueRepository) Pending(limit int) ([]QueueEntry, error) {
	q, args, err := sq.Select("id", "username", "month").
		From("backfill_queue").
		Where(sq.Eq{"done": 0}).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	entries := []QueueEntry{}
	if err := r.DB.Select(&entries, q, args...); err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkDone closes one entry.
func (r *QueueRepository) MarkDone(id int64) error {
	_, err := sq.Update("backfill_queue").
		Set("done", 1).
		Where(sq.Eq{"id": id}).
		RunWith(r.DB).Exec()
	return err
}

// IsQueued reports whether the user has any open entry.
func (r *QueueRepository) IsQueued(username string) bool {
	var id int64
	q, args, _ := sq.Select("id").
		From("backfill_queue").
		Where(sq.Eq{"username": username, "done": 0}).
		Limit(1).
		ToSql()

	err := r.DB.Get(&id, q, args...)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Errorf("queue lookup for %s: %v", username, err)
		}
		return false
	}
	return true
}

// OpenCount returns the number of open entries.
func (r *QueueRepository) OpenCount() (int64, error) {
	var n int64
	q, args, err := sq.Select("COUNT(*)").
		From("backfill_queue").
		Where(sq.Eq{"done": 0}).
		ToSql()
	if err != nil {
		return 0, err
	}
	if err := r.DB.Get(&n, q, args...); err != nil {
		return 0, err
	}
	return n, nil
}
