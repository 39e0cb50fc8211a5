package hal

import (
	"log/slog"
)

// Locate binds the preferred available offload service. The AIDL
// socket is tried first; devices still shipping the HIDL service
// expose only the second path. A device with neither has no offload
// hardware, reported as ServiceNotFoundError.
func Locate(aidlPath, hidlPath string, log *slog.Logger) (*Client, error) {
	log = log.With("component", "hal")

	paths := make([]string, 0, 2)
	for _, path := range []string{aidlPath, hidlPath} {
		if path == "" {
			continue
		}
		paths = append(paths, path)

		c, err := Dial(path, log)
		if err != nil {
			log.Debug("offload service not reachable", "path", path, "error", err)
			continue
		}
		return c, nil
	}
	return nil, &ServiceNotFoundError{Paths: paths}
}
