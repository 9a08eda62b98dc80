package taxonomy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch/internal/datastore"
	"github.com/tphakala/wildwatch/internal/errors"
)

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) ListAnimals(ctx context.Context) ([]datastore.Animal, error) {
	args := m.Called(ctx)
	animals, _ := args.Get(0).([]datastore.Animal)
	return animals, args.Error(1)
}

func testCatalog() []datastore.Animal {
	return []datastore.Animal{
		{ID: 1, NameEN: "Unknown", NameLocal: "미확인"},
		{ID: 2, NameEN: "Roe Deer", NameLocal: "노루", ParentGroup: "deer"},
		{ID: 3, NameEN: "Water Deer", NameLocal: "고라니", Aliases: []string{"Hydropotes inermis"}, ParentGroup: "deer"},
		{ID: 4, NameEN: "Goat", NameLocal: "염소", ParentGroup: "deer"},
		{ID: 5, NameEN: "Wild Boar", NameLocal: "멧돼지"},
		{ID: 6, NameEN: "Eurasian Otter", NameLocal: "수달"},
	}
}

func TestResolveCascade(t *testing.T) {
	t.Parallel()

	catalog := &mockCatalog{}
	catalog.On("ListAnimals", mock.Anything).Return(testCatalog(), nil).Once()
	r := NewResolver(catalog, 0)
	ctx := context.Background()

	tests := []struct {
		name       string
		normalized string
		hint       string
		wantID     uint
	}{
		{"exact english", "roe deer", "", 2},
		{"exact localized", "고라니", "", 3},
		{"exact alias", "hydropotes inermis", "", 3},
		{"hint when label misses", "capreolus", "노루", 2},
		{"exact beats hint", "goat", "노루", 4},
		{"prefix", "wild", "", 5},
		{"contains", "otter", "", 6},
		{"contains localized", "루", "", 2},
		{"hint only", "", "멧돼지", 5},
	}
	for _, tt := range tests {
		animal, err := r.Resolve(ctx, tt.normalized, tt.hint)
		require.NoError(t, err, tt.name)
		require.NotNil(t, animal, tt.name)
		assert.Equal(t, tt.wantID, animal.ID, tt.name)
	}

	catalog.AssertNumberOfCalls(t, "ListAnimals", 1)
}

func TestResolveAbsenceIsNotAnError(t *testing.T) {
	t.Parallel()

	catalog := &mockCatalog{}
	catalog.On("ListAnimals", mock.Anything).Return(testCatalog(), nil)
	r := NewResolver(catalog, 0)

	for _, label := range []string{"snow leopard", "zzz", ""} {
		animal, err := r.Resolve(context.Background(), label, "")
		require.NoError(t, err)
		assert.Nil(t, animal, label)
	}
}

func TestResolveEmptyCatalog(t *testing.T) {
	t.Parallel()

	catalog := &mockCatalog{}
	catalog.On("ListAnimals", mock.Anything).Return([]datastore.Animal{}, nil)
	r := NewResolver(catalog, 0)

	animal, err := r.Resolve(context.Background(), "goat", "염소")
	require.NoError(t, err)
	assert.Nil(t, animal)
}

func TestResolveCatalogFailure(t *testing.T) {
	t.Parallel()

	catalog := &mockCatalog{}
	catalog.On("ListAnimals", mock.Anything).Return(nil, errors.NewStd("connection refused"))
	r := NewResolver(catalog, 0)

	animal, err := r.Resolve(context.Background(), "goat", "")
	require.Error(t, err)
	assert.Nil(t, animal)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}

func TestResolveInvalidateReloads(t *testing.T) {
	t.Parallel()

	catalog := &mockCatalog{}
	catalog.On("ListAnimals", mock.Anything).Return([]datastore.Animal{{ID: 9, NameEN: "Goat"}}, nil).Once()
	catalog.On("ListAnimals", mock.Anything).Return([]datastore.Animal{{ID: 10, NameEN: "Goat"}}, nil).Once()
	r := NewResolver(catalog, 0)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "goat", "")
	require.NoError(t, err)
	assert.Equal(t, uint(9), first.ID)

	r.Invalidate()
	second, err := r.Resolve(ctx, "goat", "")
	require.NoError(t, err)
	assert.Equal(t, uint(10), second.ID)
	catalog.AssertExpectations(t)
}

func TestResolveConcurrent(t *testing.T) {
	t.Parallel()

	catalog := &mockCatalog{}
	catalog.On("ListAnimals", mock.Anything).Return(testCatalog(), nil)
	r := NewResolver(catalog, 0)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			animal, err := r.Resolve(context.Background(), "goat", "")
			assert.NoError(t, err)
			if assert.NotNil(t, animal) {
				assert.Equal(t, uint(4), animal.ID)
			}
		}()
	}
	wg.Wait()
}

func TestResolveGroup(t *testing.T) {
	t.Parallel()

	deer := func(members ...string) GroupScore {
		g := GroupScore{Key: "deer", Display: "사슴류"}
		for i, m := range members {
			g.Members = append(g.Members, LabelProb{Label: m, Prob: 0.5 / float64(i+1)})
		}
		return g
	}

	tests := []struct {
		name    string
		catalog []datastore.Animal
		group   GroupScore
		wantID  uint
	}{
		{"best member", testCatalog(), deer("goat", "roe deer"), 4},
		{"member order decides", testCatalog(), deer("water deer", "goat"), 3},
		{"unknown member skipped", testCatalog(), deer("muntjac", "roe deer"), 2},
		{"parent group fallback", testCatalog(), deer("muntjac"), 2},
		{"animal named after group", append(testCatalog(), datastore.Animal{ID: 7, NameEN: "Deer"}), deer("goat"), 7},
		{"animal named after display", append(testCatalog(), datastore.Animal{ID: 8, NameLocal: "사슴류"}), deer("goat"), 8},
		{"singleton group", testCatalog(), GroupScore{Key: "wild boar", Members: []LabelProb{{Label: "wild boar", Prob: 1}}}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			catalog := &mockCatalog{}
			catalog.On("ListAnimals", mock.Anything).Return(tt.catalog, nil)
			r := NewResolver(catalog, 0)

			animal, err := r.ResolveGroup(context.Background(), tt.group)
			require.NoError(t, err)
			require.NotNil(t, animal)
			assert.Equal(t, tt.wantID, animal.ID)
		})
	}
}

func TestResolveGroupWithoutMatch(t *testing.T) {
	t.Parallel()

	catalog := &mockCatalog{}
	catalog.On("ListAnimals", mock.Anything).Return(testCatalog(), nil)
	r := NewResolver(catalog, 0)

	animal, err := r.ResolveGroup(context.Background(), GroupScore{Key: "mustelid", Members: []LabelProb{{Label: "badger", Prob: 0.6}}})
	require.NoError(t, err)
	assert.Nil(t, animal)
}
