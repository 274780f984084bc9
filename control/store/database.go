// Package store persists the brightness setting and a history of ambient light samples.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jrockway/wordclock/control/light"
	_ "github.com/mattn/go-sqlite3"
)

const initDatabase = `
CREATE TABLE IF NOT EXISTS setting (id integer primary key check (id = 1), dark_level integer not null, light_level integer not null, threshold integer not null);
CREATE TABLE IF NOT EXISTS ambient (date datetime not null, sample integer not null, brightness integer not null);
`

type DB struct {
	*sql.DB
}

func OpenDatabase(filename string) (*DB, error) {
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	// Every connection to ":memory:" is a different database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(initDatabase); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}

	return &DB{db}, nil
}

// LoadSetting returns the saved brightness setting, or def if nothing has been saved yet.  A saved
// setting that is out of range is ignored; def is returned along with the validation error.
func (db *DB) LoadSetting(def light.Setting) (light.Setting, error) {
	var s light.Setting
	err := db.QueryRow("select dark_level, light_level, threshold from setting where id = 1").Scan(&s.DarkLevel, &s.LightLevel, &s.Threshold)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("select setting: %w", err)
	}
	if err := s.Validate(); err != nil {
		return def, fmt.Errorf("saved setting %#v: %w", s, err)
	}
	return s, nil
}

// SaveSetting replaces the saved brightness setting.
func (db *DB) SaveSetting(s light.Setting) error {
	st, err := db.Prepare("insert or replace into setting values(1, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer st.Close()
	if _, err := st.Exec(s.DarkLevel, s.LightLevel, s.Threshold); err != nil {
		return fmt.Errorf("insert setting: %w", err)
	}
	return nil
}

// RecordAmbient records an ambient light sample and the brightness it produced.
func (db *DB) RecordAmbient(sample int, brightness uint8) error {
	st, err := db.Prepare("insert into ambient values(?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer st.Close()
	if _, err := st.Exec(time.Now(), sample, int(brightness)); err != nil {
		return fmt.Errorf("insert ambient: %w", err)
	}
	return nil
}

// AmbientSince counts the samples recorded after t.
func (db *DB) AmbientSince(t time.Time) (int, error) {
	return db.single("select count(1) from ambient where date > ?", t)
}

// PruneAmbient deletes samples recorded before t.
func (db *DB) PruneAmbient(t time.Time) (int64, error) {
	res, err := db.Exec("delete from ambient where date < ?", t)
	if err != nil {
		return 0, fmt.Errorf("delete ambient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (db *DB) single(query string, args ...interface{}) (int, error) {
	s, err := db.Prepare(query)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	rows, err := s.Query(args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var result int
	var found bool
	for rows.Next() {
		if found {
			return 0, errors.New("more than one row returned!")
		}
		if err := rows.Scan(&result); err != nil {
			return 0, err
		}
		found = true
	}
	return result, rows.Err()
}
