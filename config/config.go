package config

import (
	"os"

	"github.com/palantir/go-baseapp/baseapp"
	"github.com/palantir/go-githubapp/githubapp"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file layout. Server and Logging are
// the same baseapp types the HTTP server and its structured logger are built
// from; GitHub configures the installation used by the artifact fetcher.
type Config struct {
	Server  baseapp.HTTPConfig    `yaml:"server"`
	Logging baseapp.LoggingConfig `yaml:"logging"`
	GitHub  githubapp.Config      `yaml:"github"`
	App     AppConfig             `yaml:"app"`
}

// AppConfig holds settings specific to zipwalk itself.
type AppConfig struct {
	// CatalogPath is the SQLite database file backing the parsed-archive
	// cache (catalog.DB).
	CatalogPath string `yaml:"catalog_path"`
	// ExtractDir is the directory the extract CLI subcommand writes entries
	// to. When set, the HTTP server's /manifest and /extract routes also
	// reject archive paths outside it.
	ExtractDir string `yaml:"extract_dir"`
}

func ReadConfig(path string) (Config, error) {
	var c Config

	bytes, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrapf(err, "failed reading server config file: %s", path)
	}

	if err := yaml.Unmarshal(bytes, &c); err != nil {
		return c, errors.Wrap(err, "failed parsing configuration file")
	}

	return c, nil
}
