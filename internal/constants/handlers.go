// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Handler pagination constants
const (
	// DefaultItemsPerPage is the default page size for item listings
	DefaultItemsPerPage = 50

	// MaxItemsPerPage caps item and identity-item listings
	MaxItemsPerPage = 200

	// DefaultIdentitiesPerPage is the default page size for identity listings
	DefaultIdentitiesPerPage = 20

	// MaxIdentitiesPerPage caps identity listings
	MaxIdentitiesPerPage = 100

	// DefaultTagSearchLimit is the default number of tag autocomplete results
	DefaultTagSearchLimit = 20

	// FilterTagLimit is the number of top tags per source returned by the filters endpoint
	FilterTagLimit = 50

	// MaxGeoFeatures caps the GeoJSON endpoint
	MaxGeoFeatures = 5000
)

// Job event streaming
const (
	// EventChannelBuffer is the per-listener buffer of job events
	EventChannelBuffer = 100

	// SSEHeartbeatInterval is how often an idle event stream gets a comment
	// line, so proxies do not drop it between slow rounds
	SSEHeartbeatInterval = 15 * time.Second
)
