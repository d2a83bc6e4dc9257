package application

import (
	"fmt"
	"os"
	"time"

	"github.com/dfryer1193/odtswap/document/domain"
	"github.com/rs/zerolog/log"
)

// acquireScratch creates a uniquely named working directory below root and
// returns a release func that removes it again unless keep is set.
func acquireScratch(root string, keep bool) (string, func(), error) {
	if root != "" {
		if err := os.MkdirAll(root, 0755); err != nil {
			return "", nil, fmt.Errorf("%w: failed to create scratch root: %w", domain.ErrIO, err)
		}
	}

	dir, err := os.MkdirTemp(root, fmt.Sprintf("temp_%d_*", time.Now().UnixMilli()))
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to create scratch directory: %w", domain.ErrIO, err)
	}

	release := func() {
		if keep {
			log.Debug().Str("dir", dir).Msg("Keeping scratch directory")
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove scratch directory")
		}
	}

	return dir, release, nil
}
