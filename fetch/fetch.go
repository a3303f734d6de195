// Package fetch downloads GitHub Actions workflow run artifacts and opens
// them with zipstream instead of reading them forward-only off the wire, as
// decompal's objdiff.FetchReportFiles/findReportFile once did against the
// teacher's old zipstream.Reader.
package fetch

import (
	"context"
	"io"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/google/go-github/v63/github"
	"github.com/gregjones/httpcache"
	"github.com/palantir/go-githubapp/githubapp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zipwalk/zipwalk/zipstream"
)

// NewClientCreator builds a GitHub App client creator backed by an
// in-memory HTTP cache, exactly as cmd/decompal/main.go once wired
// githubapp.NewDefaultCachingClientCreator for its webhook server.
func NewClientCreator(cfg githubapp.Config) (githubapp.ClientCreator, error) {
	return githubapp.NewDefaultCachingClientCreator(
		cfg,
		githubapp.WithClientUserAgent("zipwalk/1.0.0"),
		githubapp.WithClientTimeout(10*time.Second),
		githubapp.WithClientCaching(false, func() httpcache.Cache { return httpcache.NewMemoryCache() }),
	)
}

// ArtifactNameRegex extracts a build identifier from an artifact name of the
// form "<id>-zipwalk" or "<id>_zipwalk", e.g. "linux-amd64-zipwalk".
var ArtifactNameRegex = regexp.MustCompile(`^(?P<id>[A-z0-9_\-]+)[_-]zipwalk(?:[_-].*)?$`)

// ArtifactBuildID returns the build identifier embedded in artifactName, or
// false if the name doesn't match the expected convention.
func ArtifactBuildID(artifactName string) (string, bool) {
	matches := ArtifactNameRegex.FindStringSubmatch(artifactName)
	if matches == nil {
		return "", false
	}
	return matches[ArtifactNameRegex.SubexpIndex("id")], true
}

// DownloadArtifact downloads a workflow run artifact to a new temporary
// file and returns its path. The caller owns the file and must remove it.
func DownloadArtifact(
	ctx context.Context,
	client *github.Client,
	logger zerolog.Logger,
	owner, repo string,
	artifactID int64,
) (string, error) {
	logger = logger.With().
		Str("owner", owner).
		Str("repo", repo).
		Int64("artifact_id", artifactID).
		Logger()

	artifactURL, _, err := client.Actions.DownloadArtifact(ctx, owner, repo, artifactID, 3)
	if err != nil {
		return "", errors.Wrap(err, "failed to get artifact download url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create download request")
	}
	req.Header.Set("User-Agent", client.UserAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to download artifact")
	}
	defer resp.Body.Close()

	f, err := os.CreateTemp("", "zipwalk-artifact-*.zip")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temporary file")
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		_ = os.Remove(f.Name())
		return "", errors.Wrap(err, "failed to save artifact")
	}
	logger.Debug().Int64("bytes", n).Str("path", f.Name()).Msg("downloaded artifact")
	return f.Name(), nil
}

// ExtractFirstMatch opens path with zipstream, finds the first entry whose
// name satisfies match in Central Directory order, and streams its
// decompressed bytes to w. It returns the matched entry's name, or ("",
// nil) if nothing matched.
func ExtractFirstMatch(path string, match func(name string) bool, w io.Writer) (string, error) {
	u := zipstream.New()
	if err := u.Open(path); err != nil {
		return "", err
	}
	defer u.Close()

	cd, err := u.ReadCentralDirectory()
	if err != nil {
		return "", err
	}

	var target *zipstream.FileEntry
	var targetName string
	cd.EnumerateRecords(func(e *zipstream.FileEntry, _ int) bool {
		if match(e.Name()) {
			target = e
			targetName = e.Name()
			return true
		}
		return false
	})
	if target == nil {
		return "", nil
	}

	err = u.StreamEntry(target, nil, func(chunk []byte, _, _ int64) (bool, error) {
		_, werr := w.Write(chunk)
		return false, werr
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed extracting %q", targetName)
	}
	return targetName, nil
}
