// Package server exposes zipstream and the catalog cache over HTTP, reusing
// the same baseapp.NewServer/baseapp.DefaultParams wiring decompal's webhook
// server used, routed with goji.io/pat instead of a GitHub event dispatcher.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/palantir/go-baseapp/baseapp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"goji.io/pat"

	"github.com/zipwalk/zipwalk/catalog"
	"github.com/zipwalk/zipwalk/config"
	"github.com/zipwalk/zipwalk/zipstream"
)

// Handler serves the /manifest and /extract routes on top of a catalog.DB.
type Handler struct {
	db     *catalog.DB
	cfg    *config.AppConfig
	logger zerolog.Logger
}

// New builds a baseapp server and registers zipwalk's routes on it.
func New(cfg baseapp.HTTPConfig, logging baseapp.LoggingConfig, app *config.AppConfig, db *catalog.DB) (*baseapp.Server, error) {
	logger := baseapp.NewLogger(logging)
	params := baseapp.DefaultParams(logger, "zipwalk.")
	srv, err := baseapp.NewServer(cfg, params...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create server")
	}

	h := &Handler{db: db, cfg: app, logger: logger}
	srv.Mux().Handle(pat.Get("/manifest"), http.HandlerFunc(h.handleManifest))
	srv.Mux().Handle(pat.Get("/extract"), http.HandlerFunc(h.handleExtract))
	return srv, nil
}

func (h *Handler) handleManifest(w http.ResponseWriter, r *http.Request) {
	path, err := h.resolvePath(r.URL.Query().Get("path"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	manifest, err := h.loadManifest(r, path)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(manifest); err != nil {
		h.logger.Error().Err(err).Msg("failed encoding manifest response")
	}
}

func (h *Handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	path, err := h.resolvePath(r.URL.Query().Get("path"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "missing name parameter", http.StatusBadRequest)
		return
	}

	u := zipstream.New(zipstream.WithLogger(h.logger))
	if err := u.Open(path); err != nil {
		h.writeError(w, err)
		return
	}
	defer u.Close()

	if _, err := u.ReadCentralDirectory(); err != nil {
		h.writeError(w, err)
		return
	}

	idx, ok := u.IndexForName(name)
	if !ok {
		http.Error(w, "entry not found", http.StatusNotFound)
		return
	}
	record, err := u.RecordAt(idx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	err = u.StreamEntry(record, nil, func(chunk []byte, _, _ int64) (bool, error) {
		_, werr := w.Write(chunk)
		return false, werr
	})
	if err != nil {
		h.logger.Error().Err(err).Str("name", name).Msg("failed streaming entry")
	}
}

// resolvePath validates a path query parameter against h.cfg.ExtractDir. An
// empty ExtractDir leaves the server unrestricted, matching the CLI's
// default. Otherwise the resolved path must stay within that root.
func (h *Handler) resolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("missing path parameter")
	}
	if h.cfg == nil || h.cfg.ExtractDir == "" {
		return path, nil
	}

	root, err := filepath.Abs(h.cfg.ExtractDir)
	if err != nil {
		return "", errors.Wrap(err, "failed resolving extract directory")
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "failed resolving path")
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("path %q escapes extract directory", path)
	}
	return resolved, nil
}

// loadManifest consults the catalog before re-parsing the archive's Central
// Directory, per catalog.BuildManifest's idempotence argument.
func (h *Handler) loadManifest(r *http.Request, path string) (*catalog.Manifest, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed statting %s", path)
	}
	key := catalog.CacheKey(path, fi.Size(), fi.ModTime())

	if cached, ok, err := h.db.Lookup(r.Context(), key); err == nil && ok {
		return cached, nil
	} else if err != nil {
		h.logger.Warn().Err(err).Msg("catalog lookup failed, reparsing")
	}

	u := zipstream.New(zipstream.WithLogger(h.logger))
	if err := u.Open(path); err != nil {
		return nil, err
	}
	defer u.Close()

	cd, err := u.ReadCentralDirectory()
	if err != nil {
		return nil, err
	}
	manifest := catalog.BuildManifest(cd)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.db.Store(ctx, key, path, fi.Size(), fi.ModTime(), manifest); err != nil {
		h.logger.Warn().Err(err).Msg("failed caching manifest")
	}
	return manifest, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var zerr *zipstream.Error
	if stderrors.As(err, &zerr) {
		switch zerr.Kind {
		case zipstream.KindCannotOpenZip, zipstream.KindInvalidArchive, zipstream.KindIndexOutOfBounds:
			status = http.StatusNotFound
		default:
			status = http.StatusUnprocessableEntity
		}
	}
	http.Error(w, err.Error(), status)
}
