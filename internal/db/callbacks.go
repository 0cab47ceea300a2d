/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/grimnir_automation/internal/telemetry"
	"gorm.io/gorm"
)

const startedKey = "telemetry:started"

// RegisterCallbacks times every gorm operation and counts failures per
// table. Raw covers the Exec statements issued by reset.
func RegisterCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		op       string
		register func(before, after func(*gorm.DB)) error
	}{
		{"query", func(b, a func(*gorm.DB)) error {
			if err := cb.Query().Before("gorm:query").Register("telemetry:before_query", b); err != nil {
				return err
			}
			return cb.Query().After("gorm:query").Register("telemetry:after_query", a)
		}},
		{"create", func(b, a func(*gorm.DB)) error {
			if err := cb.Create().Before("gorm:create").Register("telemetry:before_create", b); err != nil {
				return err
			}
			return cb.Create().After("gorm:create").Register("telemetry:after_create", a)
		}},
		{"update", func(b, a func(*gorm.DB)) error {
			if err := cb.Update().Before("gorm:update").Register("telemetry:before_update", b); err != nil {
				return err
			}
			return cb.Update().After("gorm:update").Register("telemetry:after_update", a)
		}},
		{"delete", func(b, a func(*gorm.DB)) error {
			if err := cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", b); err != nil {
				return err
			}
			return cb.Delete().After("gorm:delete").Register("telemetry:after_delete", a)
		}},
		{"raw", func(b, a func(*gorm.DB)) error {
			if err := cb.Raw().Before("gorm:raw").Register("telemetry:before_raw", b); err != nil {
				return err
			}
			return cb.Raw().After("gorm:raw").Register("telemetry:after_raw", a)
		}},
	}

	for _, h := range hooks {
		if err := h.register(markStart, observe(h.op)); err != nil {
			return fmt.Errorf("%s callbacks: %w", h.op, err)
		}
	}
	return nil
}

func markStart(tx *gorm.DB) {
	tx.InstanceSet(startedKey, time.Now())
}

func observe(op string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(startedKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}

		telemetry.DatabaseQueryDuration.WithLabelValues(op, tableLabel(tx)).Observe(time.Since(started).Seconds())
		if kind := errorKind(tx.Error); kind != "" {
			telemetry.DatabaseErrorsTotal.WithLabelValues(op, kind).Inc()
		}
	}
}

func tableLabel(tx *gorm.DB) string {
	if tx.Statement.Table != "" {
		return tx.Statement.Table
	}
	if tx.Statement.Schema != nil {
		return tx.Statement.Schema.Table
	}
	return "unknown"
}

// errorKind buckets errors into a small label set. A missing row is a
// normal outcome for cursor and state lookups and is not counted.
func errorKind(err error) string {
	switch {
	case err == nil, errors.Is(err, gorm.ErrRecordNotFound):
		return ""
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return "duplicate_key"
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return "foreign_key"
	case strings.Contains(strings.ToLower(err.Error()), "locked"):
		return "locked"
	default:
		return "query_error"
	}
}

// UpdateConnectionMetrics samples the pool size. The server calls it on a
// ticker.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
