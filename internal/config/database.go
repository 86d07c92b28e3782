// internal/config/database.go
//
// Database backend selection.
//
// Context
// -------
// Production runs against PostgreSQL in the `db` container; development
// runs against a SQLite file under data/.  The choice depends on exactly
// two inputs: whether POSTGRES_DB is set, and whether debug mode is on.
//
//	POSTGRES_DB set          → PostgreSQL (user and password mandatory)
//	POSTGRES_DB unset, debug → SQLite at data/db.sqlite3
//	POSTGRES_DB unset        → ErrNoDatabase
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
)

// ErrNoDatabase is returned when neither backend can be selected.
var ErrNoDatabase = errors.New("no database configured: set POSTGRES_DB or enable debug mode")

// Engine names a database backend.
type Engine string

const (
	EngineSQLite   Engine = "sqlite"
	EnginePostgres Engine = "postgres"
)

const (
	defaultPostgresHost = "db"
	defaultPostgresPort = 5432
	sqliteFileName      = "db.sqlite3"
)

// Backend describes how to reach the selected database.
type Backend struct {
	Engine   Engine `json:"engine" validate:"oneof=sqlite postgres"`
	Name     string `json:"name" validate:"required"` // database name or SQLite file path
	User     string `json:"user,omitempty" validate:"required_if=Engine postgres"`
	Password Secret `json:"password,omitempty" validate:"required_if=Engine postgres"`
	Host     string `json:"host,omitempty" validate:"required_if=Engine postgres"`
	Port     int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}

// DriverName returns the database/sql driver registered for the engine.
func (b Backend) DriverName() string {
	if b.Engine == EnginePostgres {
		return "pgx"
	}
	return "sqlite"
}

// DSN renders the connection string for DriverName.
func (b Backend) DSN() string {
	switch b.Engine {
	case EnginePostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(b.User, b.Password.Reveal()),
			Host:     net.JoinHostPort(b.Host, strconv.Itoa(b.Port)),
			Path:     "/" + b.Name,
			RawQuery: "sslmode=disable",
		}
		return u.String()
	default:
		return "file:" + b.Name + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
}

// SelectDatabase picks the backend.  It reads POSTGRES_* from src and
// nothing else; debug and dataDir come from the caller.
func SelectDatabase(src *Source, debug bool, dataDir string) (Backend, error) {
	name, ok := src.Lookup("POSTGRES_DB")
	if !ok {
		if !debug {
			return Backend{}, ErrNoDatabase
		}
		return Backend{
			Engine: EngineSQLite,
			Name:   filepath.Join(dataDir, sqliteFileName),
		}, nil
	}

	user, err := src.Require("POSTGRES_USER")
	if err != nil {
		return Backend{}, err
	}
	pw, err := src.Require("POSTGRES_PASSWORD")
	if err != nil {
		return Backend{}, err
	}
	port, err := src.Int("POSTGRES_PORT", defaultPostgresPort)
	if err != nil {
		return Backend{}, err
	}
	return Backend{
		Engine:   EnginePostgres,
		Name:     name,
		User:     user,
		Password: Secret(pw),
		Host:     src.String("POSTGRES_HOST", defaultPostgresHost),
		Port:     port,
	}, nil
}

func (b Backend) String() string {
	if b.Engine == EnginePostgres {
		return fmt.Sprintf("postgres://%s@%s/%s", b.User, net.JoinHostPort(b.Host, strconv.Itoa(b.Port)), b.Name)
	}
	return "sqlite:" + b.Name
}
