package bolt

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/siglog/internal/kv"
	"github.com/roach88/siglog/internal/kv/kvtest"
)

func TestConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		s, err := Open(filepath.Join(t.TempDir(), "kv.bolt"),
			WithNoSync(true),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)
		require.NoError(t, err)
		return s
	})
}

func TestConformance_TinyPages(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		s, err := Open(filepath.Join(t.TempDir(), "kv.bolt"), WithNoSync(true), WithPageSize(2))
		require.NoError(t, err)
		return s
	})
}
