package tetherbpf

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Platform captures the capability inputs that gate the cgroup attach
// table: the running kernel version and the platform SDK level. It is
// computed once at startup and passed down so that everything keyed on
// it stays a pure function of an immutable value.
type Platform struct {
	kernelMajor int
	kernelMinor int
	sdkLevel    int
}

// Known SDK levels referenced by the attach table.
const (
	SdkLevelT = 33
	SdkLevelU = 34
	SdkLevelV = 35
)

// NewPlatform builds a Platform from explicit values. Tests use this
// to pin the capability surface they exercise.
func NewPlatform(kernelMajor, kernelMinor, sdkLevel int) Platform {
	return Platform{
		kernelMajor: kernelMajor,
		kernelMinor: kernelMinor,
		sdkLevel:    sdkLevel,
	}
}

// DetectPlatform probes the running kernel via uname and combines it
// with the configured SDK level.
func DetectPlatform(sdkLevel int) (Platform, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return Platform{}, fmt.Errorf("uname: %w", err)
	}

	release := unix.ByteSliceToString(uts.Release[:])
	major, minor, err := parseKernelRelease(release)
	if err != nil {
		return Platform{}, err
	}

	return NewPlatform(major, minor, sdkLevel), nil
}

// parseKernelRelease extracts major.minor from a uname release string
// such as "6.6.30-android15-8-g56a5eb1f2a3b".
func parseKernelRelease(release string) (major, minor int, err error) {
	fields := strings.SplitN(release, ".", 3)
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("unparseable kernel release %q", release)
	}

	major, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("unparseable kernel release %q: %w", release, err)
	}

	minorText := fields[1]
	if i := strings.IndexFunc(minorText, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		minorText = minorText[:i]
	}
	minor, err = strconv.Atoi(minorText)
	if err != nil {
		return 0, 0, fmt.Errorf("unparseable kernel release %q: %w", release, err)
	}

	return major, minor, nil
}

// KernelMajor returns the kernel major version.
func (p Platform) KernelMajor() int { return p.kernelMajor }

// KernelMinor returns the kernel minor version.
func (p Platform) KernelMinor() int { return p.kernelMinor }

// SdkLevel returns the platform SDK level.
func (p Platform) SdkLevel() int { return p.sdkLevel }

// AtLeastKernel reports whether the kernel is at least major.minor.
func (p Platform) AtLeastKernel(major, minor int) bool {
	if p.kernelMajor != major {
		return p.kernelMajor > major
	}
	return p.kernelMinor >= minor
}

// AtLeastSdk reports whether the SDK level is at least level.
func (p Platform) AtLeastSdk(level int) bool {
	return p.sdkLevel >= level
}

func (p Platform) String() string {
	return fmt.Sprintf("kernel %d.%d, sdk %d", p.kernelMajor, p.kernelMinor, p.sdkLevel)
}
