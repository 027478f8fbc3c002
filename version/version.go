package version

import "fmt"

const (
	// Major version component of the current release.
	Major = 0

	// Minor version component of the current release.
	Minor = 1

	// Patch version component of the current release.
	Patch = 0
)

// String returns the semver formatted version string.
func String() string {
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
}

// UserAgent returns the user agent sent with outbound requests.
func UserAgent() string {
	return fmt.Sprintf("/pulse:%s/", String())
}
