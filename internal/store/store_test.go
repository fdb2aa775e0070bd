package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfeld/parcelwatch/internal/model"
)

// memoryBackend keeps the snapshot blob in memory so merge and load
// behavior can be tested without a database.
type memoryBackend struct {
	blob    []byte
	saves   int
	loadErr error
	saveErr error
}

func (b *memoryBackend) Load(ctx context.Context) ([]byte, error) {
	return b.blob, b.loadErr
}

func (b *memoryBackend) Save(ctx context.Context, blob []byte) error {
	if b.saveErr != nil {
		return b.saveErr
	}
	b.blob = blob
	b.saves++
	return nil
}

func (b *memoryBackend) Close() error { return nil }

func newTestStore(t *testing.T) (*PackageStore, *memoryBackend) {
	t.Helper()
	backend := &memoryBackend{}
	s := New(backend, nil)
	s.now = func() time.Time {
		return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	}
	return s, backend
}

func TestMergeInsertsNewPackage(t *testing.T) {
	s, _ := newTestStore(t)

	pkg := model.Package{
		OrderNumber: "123-4567890-1234567",
		Status:      model.StatusShipped,
		Carrier:     "DHL",
		LastUpdated: time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC),
	}
	changed := s.Merge([]model.Package{pkg})

	assert.Equal(t, []string{"123-4567890-1234567"}, changed)
	assert.Equal(t, pkg, s.Packages()["123-4567890-1234567"])
}

func TestMergeSkipsEmptyOrderNumber(t *testing.T) {
	s, _ := newTestStore(t)

	changed := s.Merge([]model.Package{{Status: model.StatusShipped}})

	assert.Empty(t, changed)
	assert.Equal(t, 0, s.Len())
}

func TestMergeAdvancesStatus(t *testing.T) {
	s, _ := newTestStore(t)
	s.Merge([]model.Package{{OrderNumber: "123-4567890-1234567", Status: model.StatusOrdered}})

	changed := s.Merge([]model.Package{{OrderNumber: "123-4567890-1234567", Status: model.StatusDelivered}})

	assert.Len(t, changed, 1)
	assert.Equal(t, model.StatusDelivered, s.Packages()["123-4567890-1234567"].Status)
}

func TestMergeIgnoresStatusDowngrade(t *testing.T) {
	s, _ := newTestStore(t)
	s.Merge([]model.Package{{OrderNumber: "123-4567890-1234567", Status: model.StatusDelivered}})

	// An order-confirmation email arriving after the delivery notice
	// must not pull the package back to an earlier state.
	changed := s.Merge([]model.Package{{OrderNumber: "123-4567890-1234567", Status: model.StatusOrdered}})

	assert.Empty(t, changed)
	assert.Equal(t, model.StatusDelivered, s.Packages()["123-4567890-1234567"].Status)
}

func TestMergeFillsAbsentFieldsOnly(t *testing.T) {
	s, _ := newTestStore(t)
	s.Merge([]model.Package{{
		OrderNumber: "123-4567890-1234567",
		Status:      model.StatusShipped,
		Carrier:     "DHL",
	}})

	changed := s.Merge([]model.Package{{
		OrderNumber:       "123-4567890-1234567",
		Status:            model.StatusShipped,
		Carrier:           "UPS",
		TrackingNumber:    "123456789012",
		EstimatedDelivery: "2025-03-12",
		ProductName:       "Echo Dot",
	}})

	require.Len(t, changed, 1)
	got := s.Packages()["123-4567890-1234567"]
	assert.Equal(t, "DHL", got.Carrier)
	assert.Equal(t, "123456789012", got.TrackingNumber)
	assert.Equal(t, "2025-03-12", got.EstimatedDelivery)
	assert.Equal(t, "Echo Dot", got.ProductName)
}

func TestMergeTakesNewerTimestamp(t *testing.T) {
	s, _ := newTestStore(t)
	first := time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC)
	second := time.Date(2025, 3, 9, 9, 0, 0, 0, time.UTC)
	s.Merge([]model.Package{{OrderNumber: "123-4567890-1234567", Status: model.StatusShipped, LastUpdated: first}})

	changed := s.Merge([]model.Package{{OrderNumber: "123-4567890-1234567", Status: model.StatusShipped, LastUpdated: second}})

	assert.Len(t, changed, 1)
	assert.Equal(t, second, s.Packages()["123-4567890-1234567"].LastUpdated)
}

func TestMergeKeepsTimestampForZeroFact(t *testing.T) {
	s, _ := newTestStore(t)
	first := time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC)
	s.Merge([]model.Package{{OrderNumber: "123-4567890-1234567", Status: model.StatusShipped, LastUpdated: first}})

	changed := s.Merge([]model.Package{{OrderNumber: "123-4567890-1234567", Status: model.StatusShipped}})

	assert.Empty(t, changed)
	assert.Equal(t, first, s.Packages()["123-4567890-1234567"].LastUpdated)
}

func TestActivePackagesWindow(t *testing.T) {
	s, _ := newTestStore(t)
	now := s.now()
	s.Merge([]model.Package{
		{OrderNumber: "111-0000000-0000001", Status: model.StatusShipped, LastUpdated: now.AddDate(0, 0, -10)},
		{OrderNumber: "111-0000000-0000002", Status: model.StatusShipped, LastUpdated: now.AddDate(0, 0, -20)},
	})

	active := s.ActivePackages(14, true, 3)

	assert.Contains(t, active, "111-0000000-0000001")
	assert.NotContains(t, active, "111-0000000-0000002")
}

func TestActivePackagesDeliveredVisibility(t *testing.T) {
	s, _ := newTestStore(t)
	now := s.now()
	s.Merge([]model.Package{
		{OrderNumber: "111-0000000-0000001", Status: model.StatusDelivered, LastUpdated: now.AddDate(0, 0, -1)},
		{OrderNumber: "111-0000000-0000002", Status: model.StatusDelivered, LastUpdated: now.AddDate(0, 0, -5)},
	})

	active := s.ActivePackages(14, true, 3)
	assert.Contains(t, active, "111-0000000-0000001")
	assert.NotContains(t, active, "111-0000000-0000002")

	wider := s.ActivePackages(14, true, 14)
	assert.Contains(t, wider, "111-0000000-0000002")

	hidden := s.ActivePackages(14, false, 3)
	assert.Empty(t, hidden)
}

func TestActivePackagesZeroTimestampNeverExpires(t *testing.T) {
	s, _ := newTestStore(t)
	s.Merge([]model.Package{{OrderNumber: "111-0000000-0000001", Status: model.StatusShipped}})

	active := s.ActivePackages(1, true, 1)

	assert.Contains(t, active, "111-0000000-0000001")
}

func TestCleanupOldRemovesExpired(t *testing.T) {
	s, _ := newTestStore(t)
	now := s.now()
	s.Merge([]model.Package{
		{OrderNumber: "111-0000000-0000001", Status: model.StatusDelivered, LastUpdated: now.AddDate(0, 0, -70)},
		{OrderNumber: "111-0000000-0000002", Status: model.StatusShipped, LastUpdated: now.AddDate(0, 0, -10)},
		{OrderNumber: "111-0000000-0000003", Status: model.StatusOrdered},
	})

	removed := s.CleanupOld(60)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, s.Len())
	assert.NotContains(t, s.Packages(), "111-0000000-0000001")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, backend := newTestStore(t)
	s.Merge([]model.Package{{
		OrderNumber: "123-4567890-1234567",
		Status:      model.StatusShipped,
		Carrier:     "DHL",
		LastUpdated: time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, s.Save(context.Background()))

	reloaded := New(backend, nil)
	require.NoError(t, reloaded.Load(context.Background()))

	assert.Equal(t, s.Packages(), reloaded.Packages())
}

func TestLoadEmptyBackend(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, 0, s.Len())
}

func TestLoadMalformedSnapshot(t *testing.T) {
	s, backend := newTestStore(t)
	backend.blob = []byte("{not json")

	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, 0, s.Len())
}

func TestLoadMissingPackagesKey(t *testing.T) {
	s, backend := newTestStore(t)
	backend.blob = []byte(`{"version":1}`)

	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, 0, s.Len())
	assert.NotNil(t, s.Packages())
}

func TestLoadUnsupportedVersion(t *testing.T) {
	s, backend := newTestStore(t)
	backend.blob = []byte(`{"version":99,"packages":{"123-4567890-1234567":{"order_number":"123-4567890-1234567","status":"shipped"}}}`)

	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, 0, s.Len())
}

func TestLoadBackendError(t *testing.T) {
	s, backend := newTestStore(t)
	backend.loadErr = errors.New("disk gone")

	err := s.Load(context.Background())

	assert.ErrorContains(t, err, "loading package snapshot")
}

func TestSaveBackendError(t *testing.T) {
	s, backend := newTestStore(t)
	backend.saveErr = errors.New("disk full")

	err := s.Save(context.Background())

	assert.ErrorContains(t, err, "saving package snapshot")
}
