package transport

import (
	"strconv"
	"strings"
)

// Feature names a protocol behaviour that needs server support.
type Feature string

// Features gated on server version.
const (
	// FeatureSubscriptionSync: bulk re-fetch of suggested keys for all
	// joined rooms.
	FeatureSubscriptionSync Feature = "subscription-key-sync"
	// FeatureKeyIDAnnouncements: publishing a room's current key id to
	// the directory after generation.
	FeatureKeyIDAnnouncements Feature = "key-id-announcements"
	// FeatureSuggestionAcks: accept/reject acknowledgement endpoints for
	// suggested keys.
	FeatureSuggestionAcks Feature = "suggested-key-acks"
)

// featureTable lists the minimum server version per feature.
var featureTable = []struct {
	min     version
	feature Feature
}{
	{version{0, 70, 0}, FeatureSubscriptionSync},
	{version{4, 8, 0}, FeatureKeyIDAnnouncements},
	{version{5, 4, 0}, FeatureSuggestionAcks},
}

// CapabilitySet is the resolved feature set of one server session.
type CapabilitySet map[Feature]bool

// Has reports whether the server supports the feature.
func (s CapabilitySet) Has(f Feature) bool { return s[f] }

// AllCapabilities returns a set with every feature enabled, for tests
// and for servers that predate version reporting being treated as
// current.
func AllCapabilities() CapabilitySet {
	caps := make(CapabilitySet, len(featureTable))
	for _, row := range featureTable {
		caps[row.feature] = true
	}
	return caps
}

// ResolveCapabilities maps a server version string to its feature set.
// It is resolved once per session; an unparseable version yields the
// empty set.
func ResolveCapabilities(serverVersion string) CapabilitySet {
	caps := make(CapabilitySet, len(featureTable))
	v, ok := parseVersion(serverVersion)
	if !ok {
		return caps
	}
	for _, row := range featureTable {
		if !v.less(row.min) {
			caps[row.feature] = true
		}
	}
	return caps
}

type version struct {
	major, minor, patch int
}

func (v version) less(o version) bool {
	if v.major != o.major {
		return v.major < o.major
	}
	if v.minor != o.minor {
		return v.minor < o.minor
	}
	return v.patch < o.patch
}

// parseVersion reads "major.minor.patch", tolerating a "v" prefix,
// missing components and pre-release suffixes ("5.4.0-rc.1").
func parseVersion(s string) (version, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return version{}, false
	}
	parts := strings.SplitN(s, ".", 3)
	var v version
	fields := []*int{&v.major, &v.minor, &v.patch}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return version{}, false
		}
		*fields[i] = n
	}
	return v, true
}
