package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/openfroyo/safeguards/pkg/snapshot"
	"github.com/rs/zerolog"
)

// DefaultDir is the artifacts directory relative to the service path.
const DefaultDir = ".serverless"

// DirSource reads compiled artifacts from a local directory.
type DirSource struct {
	dir    string
	logger zerolog.Logger
}

// NewDirSource creates a source reading the top level of dir.
func NewDirSource(logger zerolog.Logger, dir string) *DirSource {
	return &DirSource{
		dir:    dir,
		logger: logger.With().Str("component", "artifacts").Str("dir", dir).Logger(),
	}
}

// Dir returns the directory the source reads.
func (s *DirSource) Dir() string {
	return s.dir
}

// Fetch reads every JSON or YAML file directly under the directory.
// Subdirectories and other files are skipped.
func (s *DirSource) Fetch(ctx context.Context) (map[string][]byte, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifacts directory %s: %w", s.dir, err)
	}

	out := make(map[string][]byte)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !snapshot.IsArtifact(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read artifact %s: %w", entry.Name(), err)
		}
		out[entry.Name()] = data
	}

	s.logger.Debug().Int("files", len(out)).Msg("Artifacts read")
	return out, nil
}

var _ engine.ArtifactSource = (*DirSource)(nil)
