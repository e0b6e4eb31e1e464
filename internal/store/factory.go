// Package store selects the optional KV backend for the attribute cache
// spill. The core treats the store polymorphically through drive.KV.
package store

import (
	"github.com/pkg/errors"

	"github.com/drivefs-fuse/drivefs-go/internal/drive"
	"github.com/drivefs-fuse/drivefs-go/internal/store/mongodb"
	"github.com/drivefs-fuse/drivefs-go/internal/store/postgres"
)

// Type names a spill backend.
type Type string

const (
	TypeNone     Type = ""
	TypePostgres Type = "postgres"
	TypeMongoDB  Type = "mongodb"
)

// Config holds connection settings for the selected backend. Mount
// namespaces entries so several mounts can share one store.
type Config struct {
	Type  Type
	Mount string

	PostgresConnStr string
	PostgresTable   string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

// New creates the configured KV backend, or nil for TypeNone.
func New(cfg Config) (drive.KV, error) {
	mount := cfg.Mount
	if mount == "" {
		mount = "default"
	}
	switch cfg.Type {
	case TypeNone:
		return nil, nil
	case TypePostgres:
		if cfg.PostgresConnStr == "" {
			return nil, errors.New("PostgreSQL connection string is required")
		}
		table := cfg.PostgresTable
		if table == "" {
			table = "dircache"
		}
		return postgres.New(cfg.PostgresConnStr, table, mount)
	case TypeMongoDB:
		if cfg.MongoURI == "" {
			return nil, errors.New("MongoDB URI is required")
		}
		database := cfg.MongoDatabase
		if database == "" {
			database = "drivefs"
		}
		collection := cfg.MongoCollection
		if collection == "" {
			collection = "dircache"
		}
		return mongodb.New(cfg.MongoURI, database, collection, mount)
	default:
		return nil, errors.Errorf("unknown store type: %s", cfg.Type)
	}
}
