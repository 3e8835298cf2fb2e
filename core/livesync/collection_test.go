package livesync_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edusmart/core"
	. "github.com/trezcool/edusmart/core/livesync"
	"github.com/trezcool/edusmart/core/school"
	testutil "github.com/trezcool/edusmart/tests"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func waitView(t *testing.T, col *BatchCollection, cond func(View) bool, msg string) View {
	t.Helper()
	require.Eventually(t, func() bool { return cond(col.View()) }, waitFor, tick, msg)
	return col.View()
}

func names(v View) []string {
	ns := make([]string, 0, len(v.Batches))
	for _, b := range v.Batches {
		ns = append(ns, b.Name)
	}
	return ns
}

func TestBatchCollection_NoTenant(t *testing.T) {
	store := testutil.NewStore(t)
	col, err := NewBatchCollection(store, "", CollectionOptions{})
	assert.ErrorIs(t, err, ErrNoTenant)
	require.NotNil(t, col)
	defer col.Close()

	view := col.View()
	assert.Equal(t, NoData, view.State)
	assert.Nil(t, view.Batches)

	// an empty tenant is Ready, not NoData
	svc, _ := testutil.NewSchoolService(t, store)
	tenant := testutil.CreateTenant(t, svc, "Alpha", "alpha")
	require.NoError(t, col.SetTenant(tenant.ID))
	view = waitView(t, col, func(v View) bool { return v.State == Ready }, "collection never got ready")
	assert.Empty(t, view.Batches)
	assert.Equal(t, tenant.ID, view.SchoolID)

	assert.ErrorIs(t, col.SetTenant(""), ErrNoTenant)
	assert.Equal(t, NoData, col.View().State)
}

func TestBatchCollection_Reconcile(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	svc, _ := testutil.NewSchoolService(t, store)
	tenant := testutil.CreateTenant(t, svc, "Alpha", "alpha")
	b := testutil.CreateBatch(t, svc, tenant.ID, "Batch A")
	other := testutil.CreateBatch(t, svc, tenant.ID, "Batch B")
	asha := testutil.AddStudent(t, svc, tenant.ID, b.ID, "Asha", "9999999999")

	col, err := NewBatchCollection(store, tenant.ID, CollectionOptions{})
	require.NoError(t, err)
	defer col.Close()
	waitView(t, col, func(v View) bool { return len(v.Batches) == 2 }, "batches not loaded")

	view := col.Select(b.ID)
	require.NotNil(t, view.Selected)
	assert.Len(t, view.Selected.Students, 1)
	view = col.SelectStudent(asha.StudentID)
	require.NotNil(t, view.SelectedStudent)
	before := view.Selected

	// updated data replaces the selected reference
	require.NoError(t, svc.SetPerformance(ctx, asha, 75))
	view = waitView(t, col, func(v View) bool {
		return v.SelectedStudent != nil && v.SelectedStudent.Performance == 75
	}, "selected student not refreshed")
	assert.Equal(t, 0, before.Students[asha.StudentID].Performance, "previous views are never mutated")
	assert.Equal(t, b.ID, view.Selected.ID)

	// removed student clears the student selection only
	require.NoError(t, svc.RemoveStudent(ctx, asha))
	view = waitView(t, col, func(v View) bool { return v.SelectedStudent == nil }, "student selection kept")
	require.NotNil(t, view.Selected)

	// deleted batch clears the selection
	require.NoError(t, svc.DeleteBatch(ctx, tenant.ID, b.ID))
	view = waitView(t, col, func(v View) bool { return len(v.Batches) == 1 }, "batch not deleted")
	assert.Nil(t, view.Selected)
	assert.Equal(t, other.ID, view.Batches[0].ID)

	// a new batch does not restore the selection
	testutil.CreateBatch(t, svc, tenant.ID, "Batch C")
	view = waitView(t, col, func(v View) bool { return len(v.Batches) == 2 }, "batch not added")
	assert.Nil(t, view.Selected)
}

func TestBatchCollection_SortByName(t *testing.T) {
	store := testutil.NewStore(t)
	svc, _ := testutil.NewSchoolService(t, store)
	tenant := testutil.CreateTenant(t, svc, "Alpha", "alpha")
	for _, name := range []string{"beta", "Alpha", "Épsilon", "gamma"} {
		testutil.CreateBatch(t, svc, tenant.ID, name)
	}

	col, err := NewBatchCollection(store, tenant.ID, CollectionOptions{SortByName: true})
	require.NoError(t, err)
	defer col.Close()
	view := waitView(t, col, func(v View) bool { return len(v.Batches) == 4 }, "batches not loaded")
	assert.Equal(t, []string{"Alpha", "beta", "Épsilon", "gamma"}, names(view))
}

func TestBatchCollection_SetTenant(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	svc, _ := testutil.NewSchoolService(t, store)
	alpha := testutil.CreateTenant(t, svc, "Alpha", "alpha")
	beta := testutil.CreateTenant(t, svc, "Beta", "beta")
	testutil.CreateBatch(t, svc, alpha.ID, "Alpha batch")
	testutil.CreateBatch(t, svc, beta.ID, "Beta batch")

	col, err := NewBatchCollection(store, alpha.ID, CollectionOptions{})
	require.NoError(t, err)
	defer col.Close()
	waitView(t, col, func(v View) bool { return len(v.Batches) == 1 }, "alpha not loaded")

	var (
		mu   sync.Mutex
		seen []View
	)
	col.OnChange(func(v View) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})
	mu.Lock()
	require.Len(t, seen, 1, "observers get the current view first")
	mu.Unlock()

	require.NoError(t, col.SetTenant(beta.ID))
	view := waitView(t, col, func(v View) bool {
		return v.State == Ready && len(v.Batches) == 1 && v.Batches[0].Name == "Beta batch"
	}, "beta not loaded")
	assert.Equal(t, beta.ID, view.SchoolID)

	_, err = svc.CreateBatch(ctx, alpha.ID, school.NewBatch{Name: "Another alpha batch"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"Beta batch"}, names(col.View()), "the previous tenant is unsubscribed")
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].Version, seen[i-1].Version)
	}
}

// failingStore rejects every write.
type failingStore struct {
	core.Store
}

var errOffline = errors.New("offline")

func (failingStore) Set(context.Context, string, interface{}) error       { return errOffline }
func (failingStore) Update(context.Context, map[string]interface{}) error { return errOffline }
func (failingStore) Remove(context.Context, string) error                 { return errOffline }
func (failingStore) UpdateIfExists(context.Context, map[string]interface{}, ...string) error {
	return errOffline
}

func TestBatchCollection_Apply(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	svc, _ := testutil.NewSchoolService(t, store)
	tenant := testutil.CreateTenant(t, svc, "Alpha", "alpha")
	b := testutil.CreateBatch(t, svc, tenant.ID, "Batch A")
	asha := testutil.AddStudent(t, svc, tenant.ID, b.ID, "Asha", "1")

	col, err := NewBatchCollection(failingStore{store}, tenant.ID, CollectionOptions{})
	require.NoError(t, err)
	defer col.Close()
	waitView(t, col, func(v View) bool { return len(v.Batches) == 1 }, "batches not loaded")

	path := asha.FeePath("2024", "jan")
	done := col.Apply(map[string]interface{}{path: school.FeePaid})
	assert.True(t, col.Pending().InFlight(path))
	student := func(v View) school.Student {
		bb, _ := v.Batch(b.ID)
		return bb.Students[asha.StudentID]
	}
	assert.Equal(t, school.FeePaid, student(col.View()).FeeStatus("2024", "jan"))

	// the write fails: nothing is rolled back
	assert.Error(t, failingStore{store}.Set(ctx, path, school.FeePaid))
	done()
	done()
	assert.False(t, col.Pending().InFlight(path))
	assert.Equal(t, school.FeePaid, student(col.View()).FeeStatus("2024", "jan"))

	// the next snapshot wins
	require.NoError(t, svc.SetPerformance(ctx, asha, 40))
	view := waitView(t, col, func(v View) bool { return student(v).Performance == 40 }, "snapshot not received")
	assert.Equal(t, school.FeePending, student(view).FeeStatus("2024", "jan"))
}

func TestBatchCollection_WaitReady(t *testing.T) {
	store := testutil.NewStore(t)
	svc, _ := testutil.NewSchoolService(t, store)
	tenant := testutil.CreateTenant(t, svc, "Alpha", "alpha")
	testutil.CreateBatch(t, svc, tenant.ID, "Batch A")

	col, err := NewBatchCollection(store, tenant.ID, CollectionOptions{})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, col.WaitReady(ctx))
	assert.Len(t, col.View().Batches, 1)

	col.Close()
	assert.ErrorIs(t, col.WaitReady(ctx), ErrNoTenant)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	empty, _ := NewBatchCollection(failingStore{store}, "", CollectionOptions{})
	assert.ErrorIs(t, empty.WaitReady(cancelled), ErrNoTenant)
}
