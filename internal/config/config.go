// Package config provides configuration management for both workers.
//
// Everything the spec requires arrives through environment variables; a
// missing required variable fails Load before any side effect. The optional
// tuning file (see tuning.go) only overrides operational knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Defaults applied when the corresponding knob is not configured.
const (
	// DefaultMaxRoll is the roll threshold that triggers an entry.
	DefaultMaxRoll = 0.10
	// DefaultDBPath is the sqlite database location.
	DefaultDBPath = "vixroll.db"
)

// Strategy holds the strategy worker's configuration.
type Strategy struct {
	QuotesTable     string
	SecuritiesTable string
	OrdersTable     string
	DebugFolder     string
	RollFile        string
	BackTest        bool
	StdSize         int
	StopDistance    int     // optional, 0 means none
	MaxRoll         float64 // optional, defaults to DefaultMaxRoll
	DBPath          string
}

// RollFilePath returns the full path of the idempotence ledger object.
func (s *Strategy) RollFilePath() string {
	return filepath.Join(s.DebugFolder, s.RollFile)
}

// Executor holds the executor worker's configuration.
type Executor struct {
	IGURL         string
	APIKey        string
	Identifier    string
	Password      string
	EmailAddress  string
	EmailUser     string
	EmailPassword string
	EmailSMTP     string

	SecuritiesTable string
	OrdersTable     string
	QuotesTable     string
	DBPath          string
}

// env reads one variable, recording it as missing when required and absent.
type env struct {
	missing []string
}

func (e *env) get(name string, required bool) string {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		if required {
			e.missing = append(e.missing, name)
		}
		return ""
	}
	return v
}

func (e *env) err() error {
	if len(e.missing) == 0 {
		return nil
	}
	sort.Strings(e.missing)
	return fmt.Errorf("missing required environment variables: %s", strings.Join(e.missing, ", "))
}

// LoadStrategy builds the strategy configuration from the environment.
func LoadStrategy() (*Strategy, error) {
	var e env
	cfg := &Strategy{
		QuotesTable:     e.get("QUOTES_TABLE", true),
		SecuritiesTable: e.get("SECURITIES_TABLE", true),
		OrdersTable:     e.get("ORDERS_TABLE", true),
		DebugFolder:     e.get("DEBUG_FOLDER", true),
		RollFile:        e.get("ROLL_FILE", true),
		MaxRoll:         DefaultMaxRoll,
		DBPath:          DefaultDBPath,
	}

	backTest := e.get("BACK_TEST", true)
	stdSize := e.get("STD_SIZE", true)
	if err := e.err(); err != nil {
		return nil, err
	}

	switch {
	case strings.EqualFold(backTest, "True"):
		cfg.BackTest = true
	case strings.EqualFold(backTest, "False"):
		cfg.BackTest = false
	default:
		return nil, fmt.Errorf("BACK_TEST must be True or False, got %q", backTest)
	}

	size, err := strconv.Atoi(stdSize)
	if err != nil || size <= 0 {
		return nil, fmt.Errorf("STD_SIZE must be a positive integer, got %q", stdSize)
	}
	cfg.StdSize = size

	if v := os.Getenv("STOP_DISTANCE"); v != "" {
		stop, err := strconv.Atoi(v)
		if err != nil || stop < 0 {
			return nil, fmt.Errorf("STOP_DISTANCE must be a non-negative integer, got %q", v)
		}
		cfg.StopDistance = stop
	}
	if v := os.Getenv("MAX_ROLL"); v != "" {
		roll, err := strconv.ParseFloat(v, 64)
		if err != nil || roll <= 0 {
			return nil, fmt.Errorf("MAX_ROLL must be a positive number, got %q", v)
		}
		cfg.MaxRoll = roll
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	return cfg, nil
}

// LoadExecutor builds the executor configuration from the environment.
func LoadExecutor() (*Executor, error) {
	var e env
	cfg := &Executor{
		IGURL:           e.get("IG_URL", true),
		APIKey:          e.get("X_IG_API_KEY", true),
		Identifier:      e.get("IDENTIFIER", true),
		Password:        e.get("PASSWORD", true),
		EmailAddress:    e.get("EMAIL_ADDRESS", true),
		EmailUser:       e.get("EMAIL_USER", true),
		EmailPassword:   e.get("EMAIL_PASSWORD", true),
		EmailSMTP:       e.get("EMAIL_SMTP", true),
		SecuritiesTable: e.get("SECURITIES_TABLE", true),
		OrdersTable:     e.get("ORDERS_TABLE", true),
		QuotesTable:     e.get("QUOTES_TABLE", true),
		DBPath:          DefaultDBPath,
	}
	if err := e.err(); err != nil {
		return nil, err
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	return cfg, nil
}
