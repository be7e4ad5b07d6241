// Package config loads the INI configuration recognized by the core (§6):
// the `Server` and `Cache` sections, plus the opaque `AssetsRead` /
// `AssetsWrite` sections passed through verbatim to a RemoteProvider
// constructor. Grounded on gopkg.in/ini.v1, the ecosystem's standard INI
// library — there is no INI reader among the pack's own dependencies, so
// this is an out-of-pack pick (recorded in the design ledger) rather than
// something adopted from a teacher or sibling example.
package config

import (
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Defaults for the Server and Cache sections, per §6.
const (
	DefaultAddress               = "*"
	DefaultPort                  = 32700
	DefaultDatabaseFolderPath    = "./assetcache"
	DefaultWriteCacheFilePath    = "./writecache.dat"
	DefaultWriteCacheRecordCount = 64
)

// Server holds the `[Server]` section.
type Server struct {
	Address  string
	Port     int
	Password string
	// MetricsAddress is the optional `host:port` the Prometheus /metrics
	// HTTP endpoint listens on. Empty disables the endpoint.
	MetricsAddress string
}

// Cache holds the `[Cache]` section.
type Cache struct {
	DatabaseFolderPath       string
	DatabaseMaxSizeBytes     int64
	WriteCacheFilePath       string
	WriteCacheMaxRecordCount uint32
}

// Config is the full parsed core configuration. AssetsRead and AssetsWrite
// are passed through untouched to whatever RemoteProvider constructor the
// deployment wires up; the core never interprets their keys.
type Config struct {
	Server      Server
	Cache       Cache
	AssetsRead  map[string]string
	AssetsWrite map[string]string
}

// Load parses the INI file at path into a Config, applying the documented
// defaults for any key left unset.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: loading %s", path)
	}

	cfg := &Config{
		Server: Server{
			Address: DefaultAddress,
			Port:    DefaultPort,
		},
		Cache: Cache{
			DatabaseFolderPath:       DefaultDatabaseFolderPath,
			WriteCacheFilePath:       DefaultWriteCacheFilePath,
			WriteCacheMaxRecordCount: DefaultWriteCacheRecordCount,
		},
	}

	srv := f.Section("Server")
	cfg.Server.Address = srv.Key("Address").MustString(cfg.Server.Address)
	cfg.Server.Port = srv.Key("Port").MustInt(cfg.Server.Port)
	cfg.Server.Password = srv.Key("Password").String()
	cfg.Server.MetricsAddress = srv.Key("MetricsAddress").String()

	cache := f.Section("Cache")
	cfg.Cache.DatabaseFolderPath = cache.Key("DatabaseFolderPath").MustString(cfg.Cache.DatabaseFolderPath)
	cfg.Cache.DatabaseMaxSizeBytes = cache.Key("DatabaseMaxSizeBytes").MustInt64(0)
	cfg.Cache.WriteCacheFilePath = cache.Key("WriteCacheFilePath").MustString(cfg.Cache.WriteCacheFilePath)
	recordCount := cache.Key("WriteCacheMaxRecordCount").MustUint(uint(cfg.Cache.WriteCacheMaxRecordCount))
	cfg.Cache.WriteCacheMaxRecordCount = uint32(recordCount)

	cfg.AssetsRead = sectionToMap(f, "AssetsRead")
	cfg.AssetsWrite = sectionToMap(f, "AssetsWrite")

	return cfg, nil
}

// LoadLogging reads the `[Logging]` section of the INI file at path,
// recognized by the --logconfig flag: `Level` (debug/info/warn/error) and
// `JSON` (bool). Both default to the logger's own defaults when absent.
func LoadLogging(path string) (level string, jsonOutput bool, err error) {
	f, err := ini.Load(path)
	if err != nil {
		return "", false, errors.Wrapf(err, "config: loading %s", path)
	}
	sec := f.Section("Logging")
	level = sec.Key("Level").MustString("info")
	jsonOutput = sec.Key("JSON").MustBool(false)
	return level, jsonOutput, nil
}

func sectionToMap(f *ini.File, name string) map[string]string {
	out := make(map[string]string)
	if !f.HasSection(name) {
		return out
	}
	sec := f.Section(name)
	for _, k := range sec.Keys() {
		out[k.Name()] = k.String()
	}
	return out
}
