package netd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// markerExists reports whether a loader completion marker is on disk.
func markerExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// waitForMarker blocks until the marker at path exists. Polling backs
// off 5s, 10s, 20s, 40s, then holds at 60s forever: boot gates on the
// marker, so there is no point at which giving up beats waiting. Only
// ctx cancellation ends the wait early.
func waitForMarker(ctx context.Context, path string, log *slog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		if markerExists(path) {
			return nil
		}
		attempts++
		log.Info("waiting for bpf loader marker", "path", path, "attempts", attempts)
		return fmt.Errorf("marker %s not present", path)
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
