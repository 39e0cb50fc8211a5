// Package bpffs provides functions to check and mount the BPF
// filesystem, and to enumerate tetherbpf's pinned objects in it.
package bpffs

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
)

const (
	// DefaultMountInfoPath is the path to the mountinfo file.
	DefaultMountInfoPath = "/proc/self/mountinfo"

	// defaultScanMaxLineLen is the maximum line length for
	// scanning mountinfo. Some runtimes produce long lines; this
	// prevents ErrTooLong.
	defaultScanMaxLineLen = 1024 * 1024
)

// IsMounted reports whether a bpffs is mounted at mountPoint by
// parsing mountInfoPath (e.g. /proc/self/mountinfo).
//
// The mountinfo format is documented in proc(5). Each line contains:
//
//	mount_id parent_id major:minor root mount_point options [optional_fields...] - fstype source super_options
//
// Example bpffs entry:
//
//	30 22 0:27 / /sys/fs/bpf rw,nosuid shared:9 - bpf bpf rw,mode=700
//	              ↑                               ↑
//	              mount_point (fields[4])         fstype (after " - ")
//
// The separator " - " must be found by string search, not by assuming
// a fixed field position, because optional fields (mount propagation
// like "shared:N") may appear before it. This mirrors how libmount
// parses the file.
func IsMounted(mountInfoPath, mountPoint string) (bool, error) {
	file, err := os.Open(mountInfoPath)
	if err != nil {
		return false, fmt.Errorf("opening mountinfo: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), defaultScanMaxLineLen)

	for scanner.Scan() {
		line := scanner.Text()

		sepIdx := strings.Index(line, " - ")
		if sepIdx == -1 {
			continue
		}

		prefix := line[:sepIdx]
		fields := strings.Fields(prefix)
		if len(fields) < 5 {
			continue
		}
		mntPoint := fields[4]

		suffix := line[sepIdx+3:]
		suffixFields := strings.Fields(suffix)
		if len(suffixFields) < 1 {
			continue
		}
		fsType := suffixFields[0]

		if mntPoint == mountPoint && fsType == "bpf" {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("reading mountinfo: %w", err)
	}

	return false, nil
}

// Mount mounts a bpffs at mountPoint, creating the directory if needed.
func Mount(mountPoint string) error {
	fi, err := os.Stat(mountPoint)
	switch {
	case err == nil:
		if !fi.IsDir() {
			return fmt.Errorf("mount point exists but is not a directory")
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(mountPoint, 0o755); err != nil {
			return fmt.Errorf("creating mount point directory: %w", err)
		}
	default:
		return fmt.Errorf("stat mount point: %w", err)
	}

	if err := syscall.Mount("bpffs", mountPoint, "bpf", 0, ""); err != nil {
		return fmt.Errorf("mount syscall: %w", err)
	}

	return nil
}

// Unmount unmounts the bpffs at mountPoint.
func Unmount(mountPoint string) error {
	if err := syscall.Unmount(mountPoint, 0); err != nil {
		return fmt.Errorf("unmount syscall: %w", err)
	}
	return nil
}

// EnsureMounted ensures a bpffs is mounted at mountPoint, mounting
// one if /proc/self/mountinfo shows none.
func EnsureMounted(mountInfoPath, mountPoint string) error {
	mounted, err := IsMounted(mountInfoPath, mountPoint)
	if err != nil {
		return err
	}
	if mounted {
		return nil
	}
	return Mount(mountPoint)
}
