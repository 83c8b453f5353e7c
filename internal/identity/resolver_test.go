package identity

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/database/mock"
)

// unit2 returns a 2-d unit vector whose cosine with {1, 0} is c.
func unit2(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

func resolve(t *testing.T, cat *mock.Catalog, r *Resolver, emb []float32) Resolution {
	t.Helper()
	var res Resolution
	err := cat.WithTx(context.Background(), func(tx database.Tx) error {
		var err error
		res, err = r.Resolve(context.Background(), tx, emb, Attributes{})
		return err
	})
	require.NoError(t, err)
	return res
}

func TestResolve(t *testing.T) {
	for _, kind := range []string{"linear", "hnsw"} {
		t.Run(kind, func(t *testing.T) {
			t.Run("similar face joins existing identity", func(t *testing.T) {
				cat := mock.NewCatalog()
				existing := cat.AddIdentity([]float32{1, 0}, "")
				m, err := NewMatcher(kind)
				require.NoError(t, err)
				r := NewResolver(cat, m, 0.45)

				res := resolve(t, cat, r, unit2(0.9))
				assert.Equal(t, existing, res.IdentityID)
				assert.False(t, res.Created)
				assert.InDelta(t, 0.9, res.Similarity, 1e-4)
				assert.Len(t, cat.Identities(), 1)
			})

			t.Run("dissimilar face creates identity", func(t *testing.T) {
				cat := mock.NewCatalog()
				existing := cat.AddIdentity([]float32{1, 0}, "")
				m, err := NewMatcher(kind)
				require.NoError(t, err)
				r := NewResolver(cat, m, 0.45)

				res := resolve(t, cat, r, unit2(0.4))
				assert.True(t, res.Created)
				assert.NotEqual(t, existing, res.IdentityID)
				assert.Len(t, cat.Identities(), 2)

				// the new identity is matched by the next similar face
				again := resolve(t, cat, r, unit2(0.4))
				assert.Equal(t, res.IdentityID, again.IdentityID)
				assert.False(t, again.Created)
			})

			t.Run("tie prefers lowest id", func(t *testing.T) {
				cat := mock.NewCatalog()
				first := cat.AddIdentity([]float32{0.6, 0.8}, "")
				cat.AddIdentity([]float32{0.6, -0.8}, "")
				m, err := NewMatcher(kind)
				require.NoError(t, err)
				r := NewResolver(cat, m, 0.45)

				res := resolve(t, cat, r, []float32{1, 0})
				assert.Equal(t, first, res.IdentityID)
			})

			t.Run("faces in one transaction see each other", func(t *testing.T) {
				cat := mock.NewCatalog()
				m, err := NewMatcher(kind)
				require.NoError(t, err)
				r := NewResolver(cat, m, 0.45)

				var a, b Resolution
				err = cat.WithTx(context.Background(), func(tx database.Tx) error {
					var err error
					if a, err = r.Resolve(context.Background(), tx, []float32{1, 0}, Attributes{}); err != nil {
						return err
					}
					b, err = r.Resolve(context.Background(), tx, unit2(0.95), Attributes{})
					return err
				})
				require.NoError(t, err)
				assert.True(t, a.Created)
				assert.Equal(t, a.IdentityID, b.IdentityID)
				assert.Len(t, cat.Identities(), 1)
			})
		})
	}
}

func TestResolveStoresAttributes(t *testing.T) {
	cat := mock.NewCatalog()
	r := NewResolver(cat, NewLinearMatcher(), 0)
	age, gender := 31, "F"

	var res Resolution
	err := cat.WithTx(context.Background(), func(tx database.Tx) error {
		var err error
		res, err = r.Resolve(context.Background(), tx, []float32{3, 4}, Attributes{Age: &age, Gender: &gender})
		return err
	})
	require.NoError(t, err)

	idents := cat.Identities()
	require.Len(t, idents, 1)
	assert.Equal(t, res.IdentityID, idents[0].ID)
	assert.Equal(t, 31, *idents[0].AgeEstimate)
	assert.Equal(t, "F", *idents[0].GenderEstimate)
	assert.Equal(t, database.CategoryPerson, *idents[0].Category)

	stored := cat.IdentityEmbedding(res.IdentityID)
	assert.Equal(t, []float32{3, 4}, stored)
}

func TestResolveRejectsZeroEmbedding(t *testing.T) {
	cat := mock.NewCatalog()
	r := NewResolver(cat, NewLinearMatcher(), 0.45)
	err := cat.WithTx(context.Background(), func(tx database.Tx) error {
		_, err := r.Resolve(context.Background(), tx, []float32{0, 0}, Attributes{})
		return err
	})
	assert.ErrorIs(t, err, ErrZeroEmbedding)
	assert.Empty(t, cat.Identities())
}

func TestHNSWMatchesLinear(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	randomVec := func(dim int) []float32 {
		v := make([]float32, dim)
		for i := range v {
			v[i] = float32(rng.NormFloat64())
		}
		return v
	}

	cat := mock.NewCatalog()
	var bases [][]float32
	for range 60 {
		v := randomVec(8)
		bases = append(bases, v)
		cat.AddIdentity(v, "")
	}

	linear := NewLinearMatcher()
	ann := NewHNSWMatcher()
	for i := range 40 {
		query := make([]float32, 8)
		base := bases[rng.IntN(len(bases))]
		noise := randomVec(8)
		for j := range query {
			query[j] = base[j] + 0.3*noise[j]
		}
		if i%5 == 0 {
			query = randomVec(8)
		}
		q, ok := database.Normalize(query)
		require.True(t, ok)

		err := cat.WithTx(context.Background(), func(tx database.Tx) error {
			want, wantOK, err := linear.Best(context.Background(), tx, q, 0.45)
			require.NoError(t, err)
			got, gotOK, err := ann.Best(context.Background(), tx, q, 0.45)
			require.NoError(t, err)
			assert.Equal(t, wantOK, gotOK, "query %d", i)
			assert.Equal(t, want.ID, got.ID, "query %d", i)
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 60, ann.index.Count())
}

func TestHNSWMatcherIgnoresRolledBackIdentity(t *testing.T) {
	cat := mock.NewCatalog()
	kept := cat.AddIdentity([]float32{0, 1}, "")
	m := NewHNSWMatcher()
	r := NewResolver(cat, m, 0.45)

	boom := errors.New("boom")
	err := cat.WithTx(context.Background(), func(tx database.Tx) error {
		res, err := r.Resolve(context.Background(), tx, []float32{1, 0}, Attributes{})
		require.NoError(t, err)
		require.True(t, res.Created)
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The rolled back identity is still in the index but not in the store.
	res := resolve(t, cat, r, []float32{1, 0})
	assert.True(t, res.Created)
	assert.NotEqual(t, kept, res.IdentityID)
	assert.Len(t, cat.Identities(), 2)
}

func TestHNSWMatcherPicksUpExternalIdentities(t *testing.T) {
	cat := mock.NewCatalog()
	cat.AddIdentity([]float32{0, 1}, "")
	m := NewHNSWMatcher()
	r := NewResolver(cat, m, 0.45)

	resolve(t, cat, r, []float32{0, 1})
	external := cat.AddIdentity([]float32{1, 0}, "")

	res := resolve(t, cat, r, unit2(0.9))
	assert.Equal(t, external, res.IdentityID)
	assert.False(t, res.Created)
}

func TestMerge(t *testing.T) {
	// A is on items 7 and 8, B on item 7, C on item 9.
	setup := func() (*mock.Catalog, int64, int64, int64) {
		cat := mock.NewCatalog()
		a := cat.AddIdentity([]float32{1, 0}, "")
		b := cat.AddIdentity([]float32{0, 1}, "Bob")
		c := cat.AddIdentity([]float32{1, 1}, "")
		cat.AddDetectionDirect(database.Detection{ItemID: 7, IdentityID: a})
		cat.AddDetectionDirect(database.Detection{ItemID: 8, IdentityID: a})
		cat.AddDetectionDirect(database.Detection{ItemID: 7, IdentityID: b})
		cat.AddDetectionDirect(database.Detection{ItemID: 9, IdentityID: c})
		return cat, a, b, c
	}

	t.Run("folds sources into target", func(t *testing.T) {
		cat, a, b, c := setup()
		m := NewHNSWMatcher()
		r := NewResolver(cat, m, 0.45)

		res, err := r.Merge(context.Background(), []int64{a, c, a}, b)
		require.NoError(t, err)
		assert.Equal(t, b, res.TargetID)
		assert.Equal(t, 2, res.MergedCount)
		assert.Equal(t, 3, res.DetectionCount)

		idents := cat.Identities()
		require.Len(t, idents, 1)
		assert.Equal(t, b, idents[0].ID)
		assert.Equal(t, 3, idents[0].DetectionCount)

		items := map[int64]int{}
		for _, d := range cat.Detections() {
			assert.Equal(t, b, d.IdentityID)
			items[d.ItemID]++
		}
		assert.Equal(t, map[int64]int{7: 1, 8: 1, 9: 1}, items)
	})

	t.Run("only target in sources", func(t *testing.T) {
		cat, _, b, _ := setup()
		r := NewResolver(cat, NewLinearMatcher(), 0.45)
		_, err := r.Merge(context.Background(), []int64{b}, b)
		assert.ErrorIs(t, err, database.ErrNoMergeSources)
		_, err = r.Merge(context.Background(), nil, b)
		assert.ErrorIs(t, err, database.ErrNoMergeSources)
	})

	t.Run("unknown target", func(t *testing.T) {
		cat, a, _, _ := setup()
		r := NewResolver(cat, NewLinearMatcher(), 0.45)
		_, err := r.Merge(context.Background(), []int64{a}, 999)
		assert.ErrorIs(t, err, database.ErrNotFound)
		assert.Len(t, cat.Identities(), 3)
	})

	t.Run("failure rolls back", func(t *testing.T) {
		cat, a, b, c := setup()
		cat.ReassignDetectionsError = errors.New("db down")
		r := NewResolver(cat, NewLinearMatcher(), 0.45)
		_, err := r.Merge(context.Background(), []int64{a, c}, b)
		require.Error(t, err)
		assert.Len(t, cat.Identities(), 3)
		assert.Len(t, cat.Detections(), 4)
	})

	t.Run("merged identities stop matching", func(t *testing.T) {
		cat, a, b, _ := setup()
		m := NewHNSWMatcher()
		r := NewResolver(cat, m, 0.45)
		// build the index before the merge
		first := resolve(t, cat, r, []float32{1, 0})
		require.Equal(t, a, first.IdentityID)

		_, err := r.Merge(context.Background(), []int64{a}, b)
		require.NoError(t, err)

		res := resolve(t, cat, r, []float32{1, 0})
		assert.NotEqual(t, a, res.IdentityID)
	})
}

func TestMergeSources(t *testing.T) {
	assert.Equal(t, []int64{1, 3}, mergeSources([]int64{3, 2, 1, 3}, 2))
	assert.Empty(t, mergeSources([]int64{2, 2}, 2))
}
