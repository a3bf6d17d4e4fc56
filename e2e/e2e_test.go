//go:build e2e

package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ytget/ytresolve"
)

func TestE2E_ResolveAndDownload(t *testing.T) {
	if os.Getenv("YTRESOLVE_E2E") == "" {
		t.Skip("YTRESOLVE_E2E not set")
	}
	url := os.Getenv("YTRESOLVE_E2E_URL")
	if url == "" {
		url = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c := ytresolve.New()
	defer c.Close()
	res, err := c.Resolve(ctx, url, ytresolve.Options{})
	if err != nil {
		t.Fatalf("e2e resolve failed: %v", err)
	}
	if len(res.Formats) == 0 {
		t.Fatal("e2e resolve returned no formats")
	}
	f, err := ytresolve.Choose(res.Formats, ytresolve.Selection{Quality: ytresolve.LowestAudio, Filter: ytresolve.FilterAudioOnly})
	if err != nil {
		t.Fatalf("e2e choose failed: %v", err)
	}
	path, n, err := c.Download(ctx, res, f, filepath.Join(t.TempDir(), "audio"))
	if err != nil {
		t.Fatalf("e2e download failed: %v", err)
	}
	if n == 0 {
		t.Fatalf("e2e download wrote nothing to %s", path)
	}
}
