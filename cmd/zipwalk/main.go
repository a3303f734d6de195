// Command zipwalk opens a ZIP archive and either lists its Central
// Directory or extracts one entry to a directory on disk -- the
// extract-to-directory collaborator spec.md places outside the core, built
// here as the core's first concrete consumer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/palantir/go-baseapp/baseapp"
	"github.com/rs/zerolog"

	"github.com/zipwalk/zipwalk/catalog"
	"github.com/zipwalk/zipwalk/config"
	"github.com/zipwalk/zipwalk/fetch"
	"github.com/zipwalk/zipwalk/server"
	"github.com/zipwalk/zipwalk/zipstream"
)

func main() {
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	extractCmd := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: zipwalk [-config path] <list|extract|serve|fetch-artifact> ...")
		os.Exit(2)
	}

	cfg, err := config.ReadConfig(*configPath)
	var logger zerolog.Logger
	if err != nil {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Warn().Err(err).Str("path", *configPath).Msg("failed to read config, using defaults")
	} else {
		logger = baseapp.NewLogger(cfg.Logging)
	}

	switch args[0] {
	case "list":
		_ = listCmd.Parse(args[1:])
		if listCmd.NArg() < 1 {
			logger.Fatal().Msg("usage: zipwalk list <archive.zip>")
		}
		runList(logger, &cfg.App, listCmd.Arg(0))
	case "extract":
		_ = extractCmd.Parse(args[1:])
		if extractCmd.NArg() < 2 {
			logger.Fatal().Msg("usage: zipwalk extract <archive.zip> <entry name>")
		}
		runExtract(logger, &cfg.App, extractCmd.Arg(0), extractCmd.Arg(1))
	case "serve":
		runServe(logger, cfg)
	case "fetch-artifact":
		fetchCmd := flag.NewFlagSet("fetch-artifact", flag.ExitOnError)
		_ = fetchCmd.Parse(args[1:])
		if fetchCmd.NArg() < 4 {
			logger.Fatal().Msg("usage: zipwalk fetch-artifact <installation-id> <owner> <repo> <artifact-id>")
		}
		runFetchArtifact(logger, cfg, fetchCmd.Args())
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func runServe(logger zerolog.Logger, cfg config.Config) {
	db := openCatalog(logger, &cfg.App)
	defer db.Close()

	srv, err := server.New(cfg.Server, cfg.Logging, &cfg.App, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// runFetchArtifact downloads one workflow run artifact through a cached
// GitHub App installation client and lists the Central Directory of the
// downloaded ZIP, demonstrating fetch.DownloadArtifact end to end.
func runFetchArtifact(logger zerolog.Logger, cfg config.Config, args []string) {
	installationID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		logger.Fatal().Err(err).Str("value", args[0]).Msg("invalid installation id")
	}
	owner, repo := args[1], args[2]
	artifactID, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		logger.Fatal().Err(err).Str("value", args[3]).Msg("invalid artifact id")
	}

	cc, err := fetch.NewClientCreator(cfg.GitHub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create GitHub app client")
	}
	client, err := cc.NewInstallationClient(installationID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create installation client")
	}

	path, err := fetch.DownloadArtifact(context.Background(), client, logger, owner, repo, artifactID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to download artifact")
	}
	defer os.Remove(path)

	u := zipstream.New(zipstream.WithLogger(logger))
	if err := u.Open(path); err != nil {
		logger.Fatal().Err(err).Msg("failed to open downloaded artifact")
	}
	defer u.Close()
	cd, err := u.ReadCentralDirectory()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read central directory")
	}
	printManifest(catalog.BuildManifest(cd))
}

func openCatalog(logger zerolog.Logger, app *config.AppConfig) *catalog.DB {
	path := app.CatalogPath
	if path == "" {
		path = filepath.Join(os.TempDir(), "zipwalk-catalog.db")
	}
	db, err := catalog.Open(path, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("failed to open catalog")
	}
	return db
}

func runList(logger zerolog.Logger, app *config.AppConfig, archivePath string) {
	db := openCatalog(logger, app)
	defer db.Close()

	fi, err := os.Stat(archivePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", archivePath).Msg("failed to stat archive")
	}
	key := catalog.CacheKey(archivePath, fi.Size(), fi.ModTime())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if manifest, ok, err := db.Lookup(ctx, key); err == nil && ok {
		logger.Debug().Str("path", archivePath).Msg("using cached manifest")
		printManifest(manifest)
		return
	}

	u := zipstream.New(zipstream.WithLogger(logger))
	if err := u.Open(archivePath); err != nil {
		logger.Fatal().Err(err).Msg("failed to open archive")
	}
	defer u.Close()

	cd, err := u.ReadCentralDirectory()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read central directory")
	}
	manifest := catalog.BuildManifest(cd)
	if err := db.Store(ctx, key, archivePath, fi.Size(), fi.ModTime(), manifest); err != nil {
		logger.Warn().Err(err).Msg("failed caching manifest")
	}
	printManifest(manifest)
}

func printManifest(manifest *catalog.Manifest) {
	if manifest.GlobalComment != "" {
		fmt.Printf("comment: %s\n", manifest.GlobalComment)
	}
	for _, e := range manifest.Entries {
		fmt.Printf("%10d %10d  %08x  %s\n", e.CompressedSize, e.UncompressedSize, e.CRC32, e.Name)
	}
}

func runExtract(logger zerolog.Logger, app *config.AppConfig, archivePath, entryName string) {
	u := zipstream.New(zipstream.WithLogger(logger))
	if err := u.Open(archivePath); err != nil {
		logger.Fatal().Err(err).Msg("failed to open archive")
	}
	defer u.Close()

	if _, err := u.ReadCentralDirectory(); err != nil {
		logger.Fatal().Err(err).Msg("failed to read central directory")
	}
	idx, ok := u.IndexForName(entryName)
	if !ok {
		logger.Fatal().Str("name", entryName).Msg("entry not found")
	}
	record, err := u.RecordAt(idx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to look up record")
	}

	extractDir := app.ExtractDir
	if extractDir == "" {
		extractDir = "."
	}
	destPath := filepath.Join(extractDir, filepath.FromSlash(entryName))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		logger.Fatal().Err(err).Str("path", destPath).Msg("failed to create destination directory")
	}

	out, err := os.Create(destPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", destPath).Msg("failed to create output file")
	}
	defer out.Close()

	err = u.StreamEntry(record, nil, func(chunk []byte, _, _ int64) (bool, error) {
		_, werr := out.Write(chunk)
		return false, werr
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to extract entry")
	}
	logger.Info().Str("path", destPath).Msg("extracted entry")
}
