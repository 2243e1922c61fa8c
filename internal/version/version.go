// ABOUTME: Version and product identification strings
// ABOUTME: Reported in client/hello, zeroconf vars and the facade
package version

const (
	// Version is the library release.
	Version = "0.3.0"

	// Product is the library name reported to access points.
	Product = "libspotify-embedded"

	// Manufacturer is the default brand for devices built on the library.
	Manufacturer = "Thalhammer"

	// APIVersion is the supported client API revision.
	APIVersion = 13
)

// Library returns the full version string, e.g. "libspotify-embedded/0.3.0".
func Library() string {
	return Product + "/" + Version
}
