package database

import (
	"context"
)

// ItemReader provides read-only access to media items
type ItemReader interface {
	// GetItem retrieves an item by id, returns ErrNotFound if missing
	GetItem(ctx context.Context, id int64) (*MediaItem, error)
	// CountPending returns the number of analysable items still waiting for a stage
	CountPending(ctx context.Context, stage Stage) (int, error)
	// ListItemEmbeddings returns every non-empty item embedding
	ListItemEmbeddings(ctx context.Context) ([]ItemEmbedding, error)
	// Stats returns catalog-wide counters
	Stats(ctx context.Context) (*CatalogStats, error)
}

// IdentityTx is the identity surface used while resolving faces.
// Calls observe identities created earlier in the same transaction.
type IdentityTx interface {
	// IdentityEmbeddings returns identities with id > afterID, ordered by id
	IdentityEmbeddings(ctx context.Context, afterID int64) ([]IdentityEmbedding, error)
	// IdentityEmbeddingsByID returns the listed identities that still exist, ordered by id
	IdentityEmbeddingsByID(ctx context.Context, ids []int64) ([]IdentityEmbedding, error)
	// CreateIdentity stores a new identity and returns its id
	CreateIdentity(ctx context.Context, ident NewIdentity) (int64, error)
	// AddDetection links an item to an identity; false if the pair already existed
	AddDetection(ctx context.Context, det Detection) (bool, error)
}

// StageTx is the write surface of one pipeline batch.
type StageTx interface {
	IdentityTx

	// PendingItems selects up to limit analysable items whose prerequisite is done
	// and whose stage flag is still false, ordered by id
	PendingItems(ctx context.Context, stage Stage, limit int) ([]MediaItem, error)
	// AddTags inserts tags, ignoring (item, label, source) duplicates; returns inserted count
	AddTags(ctx context.Context, itemID int64, tags []NewTag) (int, error)
	// SetItemEmbedding stores the item's image embedding
	SetItemEmbedding(ctx context.Context, itemID int64, embedding []float32) error
	// MarkStageDone sets the stage flag; it never resets one
	MarkStageDone(ctx context.Context, itemID int64, stage Stage) error

	// PendingEmbeddings selects tagged items with neither an embedding nor a recorded failure
	PendingEmbeddings(ctx context.Context, limit int) ([]MediaItem, error)
	// MarkEmbeddingFailed records that no embedding can be computed for the item
	MarkEmbeddingFailed(ctx context.Context, itemID int64) error
}

// MergeTx is the write surface of an identity merge.
type MergeTx interface {
	// IdentityExists reports whether the identity exists
	IdentityExists(ctx context.Context, id int64) (bool, error)
	// DeleteOverlappingDetections removes source detections on items the target already has
	DeleteOverlappingDetections(ctx context.Context, sourceID, targetID int64) (int, error)
	// ReassignDetections moves all detections of source to target
	ReassignDetections(ctx context.Context, sourceID, targetID int64) (int, error)
	// DeleteIdentities removes identity records, returns the number deleted
	DeleteIdentities(ctx context.Context, ids []int64) (int, error)
	// CountDetections returns the number of detections of an identity
	CountDetections(ctx context.Context, identityID int64) (int, error)
}

// Tx groups every transactional operation of the catalog.
type Tx interface {
	StageTx
	MergeTx
}

// Transactor runs fn inside one transaction: committed when fn returns nil,
// rolled back otherwise.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Catalog is the full store used by the pipeline and the identity resolver.
type Catalog interface {
	ItemReader
	Transactor
}

// ItemQuerier serves item listings for the API layer
type ItemQuerier interface {
	// SearchItems returns one page of items matching the filter and the total match count
	SearchItems(ctx context.Context, filter ItemFilter) ([]ItemSummary, int, error)
	// ItemsByID returns summaries for the given ids, in the given order, skipping missing ids
	ItemsByID(ctx context.Context, ids []int64) ([]ItemSummary, error)
	// GetItemDetail returns an item with its tags and detections
	GetItemDetail(ctx context.Context, id int64) (*ItemDetail, error)
	// FilterOptions returns the values offered by search filters, at most tagLimit labels per source
	FilterOptions(ctx context.Context, tagLimit int) (*FilterOptions, error)
	// GeoItems returns geolocated items, newest first
	GeoItems(ctx context.Context, filter GeoFilter) ([]GeoItem, error)
}

// TagStore serves tag mutations for the API layer
type TagStore interface {
	// ToggleTagConfirmed flips the confirmed flag and returns the new value
	ToggleTagConfirmed(ctx context.Context, tagID int64) (bool, error)
	// SetTagLabel sets or clears (nil) the user label override
	SetTagLabel(ctx context.Context, tagID int64, label *string) error
	// AddTag inserts a tag, returning ErrTagExists on (item, label, source) conflict
	AddTag(ctx context.Context, itemID int64, tag NewTag) (int64, error)
	// SearchTagLabels returns labels containing q (case-insensitive), most used first
	SearchTagLabels(ctx context.Context, q string, limit int) ([]LabelCount, error)
	// DeleteTag removes a tag of any source
	DeleteTag(ctx context.Context, tagID int64) error
}

// IdentityStore serves identity reads and renames for the API layer
type IdentityStore interface {
	// ListIdentities returns one page ordered by detection count descending
	ListIdentities(ctx context.Context, page, perPage int) ([]Identity, int, error)
	// NamedIdentities returns every identity with a display name
	NamedIdentities(ctx context.Context) ([]Identity, error)
	// GetIdentity returns an identity with its detection count
	GetIdentity(ctx context.Context, id int64) (*Identity, error)
	// IdentityItems returns one page of items containing the identity
	IdentityItems(ctx context.Context, id int64, page, perPage int) ([]ItemSummary, int, error)
	// RenameIdentity sets or clears (nil) the display name
	RenameIdentity(ctx context.Context, id int64, name *string) error
	// IdentityCrop returns the first detection of the identity for crop generation
	IdentityCrop(ctx context.Context, id int64) (*CropInfo, error)
}
