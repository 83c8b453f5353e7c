// Package mock provides an in-memory implementation of the database interfaces for testing.
package mock

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/database"
)

type state struct {
	items      map[int64]*database.MediaItem
	embeddings map[int64][]float32
	failed     map[int64]bool
	tags       []database.Tag
	identities map[int64]*identityRow
	detections []database.Detection

	nextItemID      int64
	nextTagID       int64
	nextIdentityID  int64
	nextDetectionID int64
}

type identityRow struct {
	identity  database.Identity
	embedding []float32
}

func (s *state) clone() *state {
	c := &state{
		items:           make(map[int64]*database.MediaItem, len(s.items)),
		embeddings:      make(map[int64][]float32, len(s.embeddings)),
		failed:          make(map[int64]bool, len(s.failed)),
		tags:            slices.Clone(s.tags),
		identities:      make(map[int64]*identityRow, len(s.identities)),
		detections:      slices.Clone(s.detections),
		nextItemID:      s.nextItemID,
		nextTagID:       s.nextTagID,
		nextIdentityID:  s.nextIdentityID,
		nextDetectionID: s.nextDetectionID,
	}
	for id, it := range s.items {
		cp := *it
		c.items[id] = &cp
	}
	for id, e := range s.embeddings {
		c.embeddings[id] = e
	}
	for id, f := range s.failed {
		c.failed[id] = f
	}
	for id, row := range s.identities {
		cp := *row
		c.identities[id] = &cp
	}
	return c
}

// Catalog is an in-memory catalog implementing database.Catalog,
// database.ItemQuerier, database.TagStore and database.IdentityStore.
// Transactions hold an exclusive lock and restore a snapshot on rollback.
type Catalog struct {
	mu sync.RWMutex
	s  *state

	// Error injection
	WithTxError              error
	GetItemError             error
	CountPendingError        error
	ListItemEmbeddingsError  error
	StatsError               error
	PendingItemsError        error
	AddTagsError             error
	SetItemEmbeddingError    error
	MarkStageDoneError       error
	PendingEmbeddingsError   error
	CreateIdentityError      error
	AddDetectionError        error
	IdentityEmbeddingsError  error
	ReassignDetectionsError  error
	SearchItemsError         error
	ListIdentitiesError      error
	AddTagError              error
	RenameIdentityError      error
	IdentityEmbeddingsByIDFn func(ids []int64)

	// Call counters
	ListItemEmbeddingsCalls atomic.Int32
	IdentityEmbeddingsCalls atomic.Int32
	TxCount                 atomic.Int32
}

// NewCatalog creates an empty in-memory catalog.
func NewCatalog() *Catalog {
	return &Catalog{s: &state{
		items:      make(map[int64]*database.MediaItem),
		embeddings: make(map[int64][]float32),
		failed:     make(map[int64]bool),
		identities: make(map[int64]*identityRow),
	}}
}

// AddItem stores an item and returns its id. A zero ID is assigned.
func (m *Catalog) AddItem(item database.MediaItem) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == 0 {
		m.s.nextItemID++
		item.ID = m.s.nextItemID
	} else if item.ID > m.s.nextItemID {
		m.s.nextItemID = item.ID
	}
	if item.Filename == "" {
		item.Filename = item.Path
	}
	item.HasEmbedding = false
	m.s.items[item.ID] = &item
	return item.ID
}

// SetEmbedding stores an item embedding outside of a transaction.
func (m *Catalog) SetEmbedding(itemID int64, embedding []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.embeddings[itemID] = slices.Clone(embedding)
	if it, ok := m.s.items[itemID]; ok {
		it.HasEmbedding = len(embedding) > 0
	}
}

// AddIdentity stores an identity outside of a transaction and returns its id.
func (m *Catalog) AddIdentity(embedding []float32, name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.s.createIdentity(database.NewIdentity{Embedding: embedding, Category: database.CategoryPerson})
	if name != "" {
		m.s.identities[id].identity.DisplayName = &name
	}
	return id
}

// AddDetectionDirect links an item and identity outside of a transaction.
func (m *Catalog) AddDetectionDirect(det database.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.addDetection(det)
}

// Item returns a copy of the stored item.
func (m *Catalog) Item(id int64) (database.MediaItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.s.items[id]
	if !ok {
		return database.MediaItem{}, false
	}
	return *it, true
}

// Embedding returns the stored embedding of an item.
func (m *Catalog) Embedding(itemID int64) []float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.s.embeddings[itemID])
}

// EmbeddingFailed reports whether the item was marked as failed.
func (m *Catalog) EmbeddingFailed(itemID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.failed[itemID]
}

// TagsOf returns the tags of an item ordered by id.
func (m *Catalog) TagsOf(itemID int64) []database.Tag {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.tagsOf(itemID)
}

// AllTags returns every tag.
func (m *Catalog) AllTags() []database.Tag {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.s.tags)
}

// Identities returns every identity ordered by id.
func (m *Catalog) Identities() []database.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Identity, 0, len(m.s.identities))
	for _, id := range m.s.identityIDs() {
		out = append(out, m.s.identityView(id))
	}
	return out
}

// IdentityEmbedding returns the stored representative embedding.
func (m *Catalog) IdentityEmbedding(id int64) []float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row, ok := m.s.identities[id]; ok {
		return slices.Clone(row.embedding)
	}
	return nil
}

// Detections returns every detection ordered by id.
func (m *Catalog) Detections() []database.Detection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.s.detections)
}

// --- internal state helpers (caller holds the lock) ---

func (s *state) tagsOf(itemID int64) []database.Tag {
	var out []database.Tag
	for _, t := range s.tags {
		if t.ItemID == itemID {
			out = append(out, t)
		}
	}
	return out
}

func (s *state) identityIDs() []int64 {
	ids := make([]int64, 0, len(s.identities))
	for id := range s.identities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *state) detectionCount(identityID int64) int {
	n := 0
	for _, d := range s.detections {
		if d.IdentityID == identityID {
			n++
		}
	}
	return n
}

func (s *state) identityView(id int64) database.Identity {
	ident := s.identities[id].identity
	ident.DetectionCount = s.detectionCount(id)
	return ident
}

func (s *state) createIdentity(ni database.NewIdentity) int64 {
	s.nextIdentityID++
	id := s.nextIdentityID
	var category *string
	if ni.Category != "" {
		c := ni.Category
		category = &c
	}
	s.identities[id] = &identityRow{
		identity: database.Identity{
			ID:             id,
			AgeEstimate:    ni.AgeEstimate,
			GenderEstimate: ni.GenderEstimate,
			Category:       category,
			CreatedAt:      time.Now(),
		},
		embedding: slices.Clone(ni.Embedding),
	}
	return id
}

func (s *state) addDetection(det database.Detection) bool {
	for _, d := range s.detections {
		if d.ItemID == det.ItemID && d.IdentityID == det.IdentityID {
			return false
		}
	}
	s.nextDetectionID++
	det.ID = s.nextDetectionID
	s.detections = append(s.detections, det)
	return true
}

func (s *state) addTag(itemID int64, t database.NewTag) (int64, bool) {
	for _, existing := range s.tags {
		if existing.ItemID == itemID && existing.Label == t.Label && existing.Source == t.Source {
			return 0, false
		}
	}
	s.nextTagID++
	tag := database.Tag{
		ID:        s.nextTagID,
		ItemID:    itemID,
		Label:     t.Label,
		Score:     t.Score,
		Source:    t.Source,
		Confirmed: t.Confirmed,
	}
	if t.Override != nil && strings.TrimSpace(*t.Override) != "" {
		o := *t.Override
		tag.LabelOverride = &o
	}
	if t.BBox != nil {
		b := *t.BBox
		tag.BBox = &b
	}
	s.tags = append(s.tags, tag)
	return tag.ID, true
}

func analysable(ext string) bool {
	return slices.Contains(constants.AnalysableExtensions, strings.ToUpper(ext))
}

func (s *state) pending(stage database.Stage) []database.MediaItem {
	prereq := stage.Prerequisite()
	var out []database.MediaItem
	for _, it := range s.items {
		if prereq == "" || !it.Done(prereq) || it.Done(stage) || !analysable(it.Extension) {
			continue
		}
		out = append(out, *it)
	}
	slices.SortFunc(out, func(a, b database.MediaItem) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// --- database.ItemReader ---

func (m *Catalog) GetItem(ctx context.Context, id int64) (*database.MediaItem, error) {
	if m.GetItemError != nil {
		return nil, m.GetItemError
	}
	it, ok := m.Item(id)
	if !ok {
		return nil, database.ErrNotFound
	}
	return &it, nil
}

func (m *Catalog) CountPending(ctx context.Context, stage database.Stage) (int, error) {
	if m.CountPendingError != nil {
		return 0, m.CountPendingError
	}
	if _, err := stage.Column(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.s.pending(stage)), nil
}

func (m *Catalog) ListItemEmbeddings(ctx context.Context) ([]database.ItemEmbedding, error) {
	m.ListItemEmbeddingsCalls.Add(1)
	if m.ListItemEmbeddingsError != nil {
		return nil, m.ListItemEmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.ItemEmbedding
	for id, e := range m.s.embeddings {
		if len(e) == 0 {
			continue
		}
		out = append(out, database.ItemEmbedding{ItemID: id, Embedding: slices.Clone(e)})
	}
	slices.SortFunc(out, func(a, b database.ItemEmbedding) int { return cmp.Compare(a.ItemID, b.ItemID) })
	return out, nil
}

func (m *Catalog) Stats(ctx context.Context) (*database.CatalogStats, error) {
	if m.StatsError != nil {
		return nil, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &database.CatalogStats{
		Items:        len(m.s.items),
		Identities:   len(m.s.identities),
		Detections:   len(m.s.detections),
		TagsBySource: make(map[database.TagSource]int),
		Pending:      make(map[database.Stage]int),
	}
	for _, e := range m.s.embeddings {
		if len(e) > 0 {
			stats.WithEmbeddings++
		}
	}
	for _, t := range m.s.tags {
		stats.TagsBySource[t.Source]++
	}
	for _, stage := range database.AnnotationStages {
		stats.Pending[stage] = len(m.s.pending(stage))
	}
	return stats, nil
}

// --- database.Transactor ---

// WithTx runs fn under an exclusive lock. Any error restores the state
// captured before fn ran.
func (m *Catalog) WithTx(ctx context.Context, fn func(tx database.Tx) error) (err error) {
	if m.WithTxError != nil {
		return m.WithTxError
	}
	m.TxCount.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	committed := false
	defer func() {
		if !committed {
			// Sequences are not rolled back, as in PostgreSQL.
			snapshot.nextItemID = m.s.nextItemID
			snapshot.nextTagID = m.s.nextTagID
			snapshot.nextIdentityID = m.s.nextIdentityID
			snapshot.nextDetectionID = m.s.nextDetectionID
			m.s = snapshot
		}
	}()

	if err := fn(&tx{m: m}); err != nil {
		return err
	}
	committed = true
	return nil
}

// tx operates on the catalog state while WithTx holds the lock.
type tx struct {
	m *Catalog
}

func (t *tx) PendingItems(ctx context.Context, stage database.Stage, limit int) ([]database.MediaItem, error) {
	if t.m.PendingItemsError != nil {
		return nil, t.m.PendingItemsError
	}
	if _, err := stage.Column(); err != nil {
		return nil, err
	}
	items := t.m.s.pending(stage)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (t *tx) AddTags(ctx context.Context, itemID int64, tags []database.NewTag) (int, error) {
	if t.m.AddTagsError != nil {
		return 0, t.m.AddTagsError
	}
	n := 0
	for _, tag := range tags {
		if _, ok := t.m.s.addTag(itemID, tag); ok {
			n++
		}
	}
	return n, nil
}

func (t *tx) SetItemEmbedding(ctx context.Context, itemID int64, embedding []float32) error {
	if t.m.SetItemEmbeddingError != nil {
		return t.m.SetItemEmbeddingError
	}
	t.m.s.embeddings[itemID] = slices.Clone(embedding)
	delete(t.m.s.failed, itemID)
	if it, ok := t.m.s.items[itemID]; ok {
		it.HasEmbedding = true
	}
	return nil
}

func (t *tx) MarkStageDone(ctx context.Context, itemID int64, stage database.Stage) error {
	if t.m.MarkStageDoneError != nil {
		return t.m.MarkStageDoneError
	}
	it, ok := t.m.s.items[itemID]
	if !ok {
		return nil
	}
	switch stage {
	case database.StageMetadata:
		it.MetadataDone = true
	case database.StageTag:
		it.TagDone = true
	case database.StageDetect:
		it.DetectDone = true
	case database.StageFace:
		it.FaceDone = true
	default:
		_, err := stage.Column()
		return err
	}
	return nil
}

func (t *tx) PendingEmbeddings(ctx context.Context, limit int) ([]database.MediaItem, error) {
	if t.m.PendingEmbeddingsError != nil {
		return nil, t.m.PendingEmbeddingsError
	}
	var out []database.MediaItem
	for id, it := range t.m.s.items {
		if !it.TagDone || !analysable(it.Extension) || t.m.s.failed[id] || len(t.m.s.embeddings[id]) > 0 {
			continue
		}
		out = append(out, *it)
	}
	slices.SortFunc(out, func(a, b database.MediaItem) int { return cmp.Compare(a.ID, b.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) MarkEmbeddingFailed(ctx context.Context, itemID int64) error {
	t.m.s.failed[itemID] = true
	return nil
}

func (t *tx) IdentityEmbeddings(ctx context.Context, afterID int64) ([]database.IdentityEmbedding, error) {
	t.m.IdentityEmbeddingsCalls.Add(1)
	if t.m.IdentityEmbeddingsError != nil {
		return nil, t.m.IdentityEmbeddingsError
	}
	var out []database.IdentityEmbedding
	for _, id := range t.m.s.identityIDs() {
		if id <= afterID {
			continue
		}
		out = append(out, database.IdentityEmbedding{ID: id, Embedding: slices.Clone(t.m.s.identities[id].embedding)})
	}
	return out, nil
}

func (t *tx) IdentityEmbeddingsByID(ctx context.Context, ids []int64) ([]database.IdentityEmbedding, error) {
	if t.m.IdentityEmbeddingsByIDFn != nil {
		t.m.IdentityEmbeddingsByIDFn(ids)
	}
	if t.m.IdentityEmbeddingsError != nil {
		return nil, t.m.IdentityEmbeddingsError
	}
	var out []database.IdentityEmbedding
	for _, id := range t.m.s.identityIDs() {
		if slices.Contains(ids, id) {
			out = append(out, database.IdentityEmbedding{ID: id, Embedding: slices.Clone(t.m.s.identities[id].embedding)})
		}
	}
	return out, nil
}

func (t *tx) CreateIdentity(ctx context.Context, ident database.NewIdentity) (int64, error) {
	if t.m.CreateIdentityError != nil {
		return 0, t.m.CreateIdentityError
	}
	return t.m.s.createIdentity(ident), nil
}

func (t *tx) AddDetection(ctx context.Context, det database.Detection) (bool, error) {
	if t.m.AddDetectionError != nil {
		return false, t.m.AddDetectionError
	}
	return t.m.s.addDetection(det), nil
}

func (t *tx) IdentityExists(ctx context.Context, id int64) (bool, error) {
	_, ok := t.m.s.identities[id]
	return ok, nil
}

func (t *tx) DeleteOverlappingDetections(ctx context.Context, sourceID, targetID int64) (int, error) {
	targetItems := make(map[int64]bool)
	for _, d := range t.m.s.detections {
		if d.IdentityID == targetID {
			targetItems[d.ItemID] = true
		}
	}
	before := len(t.m.s.detections)
	t.m.s.detections = slices.DeleteFunc(t.m.s.detections, func(d database.Detection) bool {
		return d.IdentityID == sourceID && targetItems[d.ItemID]
	})
	return before - len(t.m.s.detections), nil
}

func (t *tx) ReassignDetections(ctx context.Context, sourceID, targetID int64) (int, error) {
	if t.m.ReassignDetectionsError != nil {
		return 0, t.m.ReassignDetectionsError
	}
	n := 0
	for i := range t.m.s.detections {
		if t.m.s.detections[i].IdentityID == sourceID {
			t.m.s.detections[i].IdentityID = targetID
			n++
		}
	}
	return n, nil
}

func (t *tx) DeleteIdentities(ctx context.Context, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		if _, ok := t.m.s.identities[id]; !ok {
			continue
		}
		// Mirrors the foreign key: detections must be moved first.
		if t.m.s.detectionCount(id) > 0 {
			return n, fmt.Errorf("delete identity %d: still referenced by detections", id)
		}
		delete(t.m.s.identities, id)
		n++
	}
	return n, nil
}

func (t *tx) CountDetections(ctx context.Context, identityID int64) (int, error) {
	return t.m.s.detectionCount(identityID), nil
}

// --- database.ItemQuerier ---

func (m *Catalog) summary(it *database.MediaItem) database.ItemSummary {
	tags := m.s.tagsOf(it.ID)
	slices.SortStableFunc(tags, func(a, b database.Tag) int { return cmp.Compare(b.Score, a.Score) })
	if tags == nil {
		tags = []database.Tag{}
	}
	faces := 0
	for _, d := range m.s.detections {
		if d.ItemID == it.ID {
			faces++
		}
	}
	return database.ItemSummary{
		ID:          it.ID,
		Filename:    it.Filename,
		Path:        it.Path,
		Extension:   it.Extension,
		Size:        it.Size,
		TakenAt:     it.TakenAt,
		CameraModel: it.CameraModel,
		Width:       it.Width,
		Height:      it.Height,
		Latitude:    it.Latitude,
		Longitude:   it.Longitude,
		Tags:        tags,
		FaceCount:   faces,
	}
}

func (m *Catalog) matches(it *database.MediaItem, f database.ItemFilter) bool {
	if f.Tag != "" {
		want := strings.ToLower(strings.TrimSpace(f.Tag))
		found := false
		for _, t := range m.s.tagsOf(it.ID) {
			if f.Source != "" && t.Source != f.Source {
				continue
			}
			if t.Label == want || (t.LabelOverride != nil && strings.ToLower(*t.LabelOverride) == want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && (it.TakenAt == nil || it.TakenAt.Before(*f.From)) {
		return false
	}
	if f.To != nil && (it.TakenAt == nil || !it.TakenAt.Before(f.To.AddDate(0, 0, 1))) {
		return false
	}
	if f.Camera != "" && it.CameraModel != f.Camera {
		return false
	}
	if f.IdentityID > 0 {
		found := false
		for _, d := range m.s.detections {
			if d.ItemID == it.ID && d.IdentityID == f.IdentityID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q := strings.TrimSpace(f.Query); q != "" && !strings.Contains(strings.ToLower(it.Filename), strings.ToLower(q)) {
		return false
	}
	if f.HasGPS && (it.Latitude == nil || it.Longitude == nil) {
		return false
	}
	return true
}

func compareItems(a, b *database.MediaItem, sortKey string) int {
	switch sortKey {
	case database.SortFilename:
		return cmp.Compare(a.Filename, b.Filename)
	case database.SortSize:
		return cmp.Compare(a.Size, b.Size)
	case database.SortID:
		return 0
	default:
		switch {
		case a.TakenAt == nil && b.TakenAt == nil:
			return 0
		case a.TakenAt == nil:
			return 1
		case b.TakenAt == nil:
			return -1
		}
		return a.TakenAt.Compare(*b.TakenAt)
	}
}

func (m *Catalog) SearchItems(ctx context.Context, f database.ItemFilter) ([]database.ItemSummary, int, error) {
	if m.SearchItemsError != nil {
		return nil, 0, m.SearchItemsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*database.MediaItem
	for _, it := range m.s.items {
		if m.matches(it, f) {
			matched = append(matched, it)
		}
	}
	slices.SortFunc(matched, func(a, b *database.MediaItem) int {
		c := compareItems(a, b, f.Sort)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if f.Desc {
			nilA := f.Sort == database.SortTakenAt && a.TakenAt == nil
			nilB := f.Sort == database.SortTakenAt && b.TakenAt == nil
			if nilA != nilB {
				return c
			}
			return -c
		}
		return c
	})

	total := len(matched)
	out := []database.ItemSummary{}
	start := f.Offset()
	for i := start; i < total && i < start+f.PerPage; i++ {
		out = append(out, m.summary(matched[i]))
	}
	return out, total, nil
}

func (m *Catalog) ItemsByID(ctx context.Context, ids []int64) ([]database.ItemSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.ItemSummary
	for _, id := range ids {
		if it, ok := m.s.items[id]; ok {
			out = append(out, m.summary(it))
		}
	}
	return out, nil
}

func (m *Catalog) GetItemDetail(ctx context.Context, id int64) (*database.ItemDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.s.items[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	detail := &database.ItemDetail{
		Item:       *it,
		Tags:       append([]database.Tag{}, m.s.tagsOf(id)...),
		Detections: []database.DetectionView{},
	}
	for _, d := range m.s.detections {
		if d.ItemID != id {
			continue
		}
		ident := m.s.identityView(d.IdentityID)
		detail.Detections = append(detail.Detections, database.DetectionView{
			IdentityID:     d.IdentityID,
			Label:          ident.Label(),
			AgeEstimate:    ident.AgeEstimate,
			GenderEstimate: ident.GenderEstimate,
			Category:       ident.Category,
			BBox:           d.BBox,
			Confidence:     d.Confidence,
		})
	}
	return detail, nil
}

func (m *Catalog) FilterOptions(ctx context.Context, tagLimit int) (*database.FilterOptions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts := &database.FilterOptions{
		Cameras:    []database.CameraCount{},
		Tags:       make(map[database.TagSource][]database.LabelCount),
		Years:      []int{},
		TotalItems: len(m.s.items),
	}

	cameras := make(map[string]int)
	years := make(map[int]bool)
	for _, it := range m.s.items {
		if it.CameraModel != "" {
			cameras[it.CameraModel]++
		}
		if it.TakenAt != nil {
			years[it.TakenAt.Year()] = true
		}
		if it.Latitude != nil && it.Longitude != nil {
			opts.TotalGeolocated++
		}
	}
	for model, n := range cameras {
		opts.Cameras = append(opts.Cameras, database.CameraCount{Model: model, Count: n})
	}
	slices.SortFunc(opts.Cameras, func(a, b database.CameraCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Model, b.Model))
	})
	for y := range years {
		opts.Years = append(opts.Years, y)
	}
	slices.Sort(opts.Years)
	slices.Reverse(opts.Years)

	counts := make(map[database.TagSource]map[string]int)
	for _, t := range m.s.tags {
		if counts[t.Source] == nil {
			counts[t.Source] = make(map[string]int)
		}
		counts[t.Source][t.Label]++
	}
	for source, labels := range counts {
		var lc []database.LabelCount
		for label, n := range labels {
			lc = append(lc, database.LabelCount{Label: label, Count: n})
		}
		slices.SortFunc(lc, func(a, b database.LabelCount) int {
			return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Label, b.Label))
		})
		if len(lc) > tagLimit {
			lc = lc[:tagLimit]
		}
		opts.Tags[source] = lc
	}

	withFaces := make(map[int64]bool)
	for _, d := range m.s.detections {
		withFaces[d.ItemID] = true
	}
	opts.TotalWithFaces = len(withFaces)
	return opts, nil
}

func (m *Catalog) GeoItems(ctx context.Context, f database.GeoFilter) ([]database.GeoItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filter := database.ItemFilter{Tag: f.Tag, From: f.From, To: f.To, HasGPS: true}
	var matched []*database.MediaItem
	for _, it := range m.s.items {
		if m.matches(it, filter) {
			matched = append(matched, it)
		}
	}
	slices.SortFunc(matched, func(a, b *database.MediaItem) int {
		switch {
		case a.TakenAt == nil && b.TakenAt != nil:
			return 1
		case a.TakenAt != nil && b.TakenAt == nil:
			return -1
		}
		return cmp.Or(-compareItems(a, b, database.SortTakenAt), cmp.Compare(b.ID, a.ID))
	})

	out := []database.GeoItem{}
	for _, it := range matched {
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		out = append(out, database.GeoItem{
			ID:          it.ID,
			Filename:    it.Filename,
			Latitude:    *it.Latitude,
			Longitude:   *it.Longitude,
			TakenAt:     it.TakenAt,
			CameraModel: it.CameraModel,
		})
	}
	return out, nil
}

// --- database.TagStore ---

func (m *Catalog) findTag(id int64) *database.Tag {
	for i := range m.s.tags {
		if m.s.tags[i].ID == id {
			return &m.s.tags[i]
		}
	}
	return nil
}

func (m *Catalog) ToggleTagConfirmed(ctx context.Context, tagID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.findTag(tagID)
	if t == nil {
		return false, database.ErrNotFound
	}
	t.Confirmed = !t.Confirmed
	return t.Confirmed, nil
}

func (m *Catalog) SetTagLabel(ctx context.Context, tagID int64, label *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.findTag(tagID)
	if t == nil {
		return database.ErrNotFound
	}
	if label == nil || strings.TrimSpace(*label) == "" {
		t.LabelOverride = nil
		return nil
	}
	l := *label
	t.LabelOverride = &l
	return nil
}

func (m *Catalog) AddTag(ctx context.Context, itemID int64, tag database.NewTag) (int64, error) {
	if m.AddTagError != nil {
		return 0, m.AddTagError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.s.items[itemID]; !ok {
		return 0, database.ErrNotFound
	}
	tag.Label = strings.ToLower(strings.TrimSpace(tag.Label))
	id, ok := m.s.addTag(itemID, tag)
	if !ok {
		return 0, database.ErrTagExists
	}
	return id, nil
}

func (m *Catalog) SearchTagLabels(ctx context.Context, q string, limit int) ([]database.LabelCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q = strings.ToLower(strings.TrimSpace(q))
	counts := make(map[string]int)
	for _, t := range m.s.tags {
		if strings.Contains(strings.ToLower(t.Label), q) {
			counts[t.Label]++
		}
	}
	out := []database.LabelCount{}
	for label, n := range counts {
		out = append(out, database.LabelCount{Label: label, Count: n})
	}
	slices.SortFunc(out, func(a, b database.LabelCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Label, b.Label))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Catalog) DeleteTag(ctx context.Context, tagID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.s.tags)
	m.s.tags = slices.DeleteFunc(m.s.tags, func(t database.Tag) bool { return t.ID == tagID })
	if len(m.s.tags) == before {
		return database.ErrNotFound
	}
	return nil
}

// --- database.IdentityStore ---

func (m *Catalog) ListIdentities(ctx context.Context, page, perPage int) ([]database.Identity, int, error) {
	if m.ListIdentitiesError != nil {
		return nil, 0, m.ListIdentitiesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]database.Identity, 0, len(m.s.identities))
	for _, id := range m.s.identityIDs() {
		all = append(all, m.s.identityView(id))
	}
	slices.SortStableFunc(all, func(a, b database.Identity) int {
		return cmp.Compare(b.DetectionCount, a.DetectionCount)
	})

	out := []database.Identity{}
	start := (page - 1) * perPage
	for i := start; i >= 0 && i < len(all) && i < start+perPage; i++ {
		out = append(out, all[i])
	}
	return out, len(all), nil
}

func (m *Catalog) NamedIdentities(ctx context.Context) ([]database.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []database.Identity{}
	for _, id := range m.s.identityIDs() {
		ident := m.s.identityView(id)
		if ident.DisplayName != nil && *ident.DisplayName != "" {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (m *Catalog) GetIdentity(ctx context.Context, id int64) (*database.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.s.identities[id]; !ok {
		return nil, database.ErrNotFound
	}
	ident := m.s.identityView(id)
	return &ident, nil
}

func (m *Catalog) IdentityItems(ctx context.Context, id int64, page, perPage int) ([]database.ItemSummary, int, error) {
	return m.SearchItems(ctx, database.ItemFilter{
		IdentityID: id,
		Sort:       database.SortTakenAt,
		Desc:       true,
		Page:       page,
		PerPage:    perPage,
	})
}

func (m *Catalog) RenameIdentity(ctx context.Context, id int64, name *string) error {
	if m.RenameIdentityError != nil {
		return m.RenameIdentityError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.s.identities[id]
	if !ok {
		return database.ErrNotFound
	}
	if name == nil || strings.TrimSpace(*name) == "" {
		row.identity.DisplayName = nil
		return nil
	}
	n := *name
	row.identity.DisplayName = &n
	return nil
}

func (m *Catalog) IdentityCrop(ctx context.Context, id int64) (*database.CropInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.s.detections {
		if d.IdentityID != id {
			continue
		}
		it, ok := m.s.items[d.ItemID]
		if !ok {
			continue
		}
		return &database.CropInfo{ItemID: d.ItemID, Path: it.Path, BBox: d.BBox, Width: it.Width, Height: it.Height}, nil
	}
	return nil, database.ErrNotFound
}

// Interface compliance checks.
var (
	_ database.Catalog       = (*Catalog)(nil)
	_ database.ItemQuerier   = (*Catalog)(nil)
	_ database.TagStore      = (*Catalog)(nil)
	_ database.IdentityStore = (*Catalog)(nil)
	_ database.Tx            = (*tx)(nil)
)
