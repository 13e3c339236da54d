package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/andrej220/blobcrypt/pkg/config/configstore"
	"github.com/andrej220/blobcrypt/pkg/config/filestore"
	"github.com/andrej220/blobcrypt/pkg/config/mongostore"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var ErrInvalidStoreType = errors.New("invalid store type")

// Config is a store that may also report changes.
type Config interface {
	configstore.ConfigStore
	Watch(onChange func(), done <-chan struct{}) error
	Close() error
}

// DefaultConfigDatabase holds the config collection unless CONFIG_DATABASE
// names another.
const DefaultConfigDatabase = "blobcrypt"

type FileConfig struct {
	Path string `yaml:"path" json:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
	ID       string `yaml:"id" json:"id"` // document id, the service name
}

func NewStore(storeType StoreType, cfg any) (Config, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		return filestore.New(fileCfg.Path), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		return mongostore.New(mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID)
	default:
		return nil, ErrInvalidStoreType
	}
}

// SourceFrom picks where a service's configuration lives. MONGO_URI together
// with CONFIG_COLLECTION selects the Mongo document whose _id is the service
// name; otherwise the YAML file at path is used.
func SourceFrom(lookup func(string) (string, bool), path, service string) (StoreType, any) {
	uri, _ := lookup(EnvMongoURI)
	coll, _ := lookup(EnvConfigCollection)
	if uri == "" || coll == "" {
		return FileStore, &FileConfig{Path: path}
	}
	db, _ := lookup(EnvConfigDatabase)
	if db == "" {
		db = DefaultConfigDatabase
	}
	return MongoStore, &MongoConfig{URI: uri, DBName: db, CollName: coll, ID: service}
}

// Open returns the configuration store picked by SourceFrom over the process
// environment. It returns nil when neither Mongo nor a file is configured.
func Open(path, service string) (Config, error) {
	storeType, cfg := SourceFrom(os.LookupEnv, path, service)
	if fc, ok := cfg.(*FileConfig); ok && fc.Path == "" {
		return nil, nil
	}
	return NewStore(storeType, cfg)
}

// Load reads a service configuration from a YAML file when path is set, then
// applies environment overrides and validates the result. A missing path is
// not an error: defaults plus environment must then be enough.
func Load[T any](path string, cfg *T, overrides ...Override) error {
	var store configstore.ConfigStore
	if path != "" {
		store = filestore.New(path)
	}
	return LoadFrom(store, cfg, overrides...)
}

// LoadFrom is Load over any store. A nil store leaves the defaults in cfg.
func LoadFrom[T any](store configstore.ConfigStore, cfg *T, overrides ...Override) error {
	if store != nil {
		if err := store.Load(cfg); err != nil {
			return err
		}
	}
	Apply(overrides...)
	return Validate(cfg)
}
