package participant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wichananm65/participant-service/internal/recordstore"
	"github.com/wichananm65/participant-service/internal/saga"
)

func sampleInput(email string) Input {
	return Input{
		Email:       email,
		Firstname:   "Ada",
		Lastname:    "Lovelace",
		Dob:         "1990/01/01",
		CompanyName: "Analytical Engines",
		Salary:      Salary(`50000`),
		Currency:    "GBP",
		Country:     "UK",
		City:        "London",
	}
}

// flakyStore fails fragment writes for the named fragment.
type flakyStore struct {
	recordstore.Store
	failFragment string
}

func (s *flakyStore) Fragment(key, name string) recordstore.Fragment {
	f := s.Store.Fragment(key, name)
	if name == s.failFragment {
		return failingFragment{Fragment: f}
	}
	return f
}

type failingFragment struct {
	recordstore.Fragment
}

func (failingFragment) Set(context.Context, recordstore.Doc) error {
	return errors.New("fragment write timed out")
}

// brokenStore fails every call.
type brokenStore struct {
	recordstore.Store
}

func (brokenStore) Get(context.Context, string) (recordstore.Record, error) {
	return recordstore.Record{}, errors.New("connection refused")
}

func (brokenStore) List(context.Context) ([]recordstore.Record, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Filter(context.Context, string, any) ([]recordstore.Record, error) {
	return nil, errors.New("connection refused")
}

func TestService_CreateThenGet(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemoryStore("participants"))

	res, err := svc.Create(ctx, sampleInput("a@b.com"))
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", res.Item.Email)
	assert.True(t, res.Item.Active)
	assert.False(t, res.Item.Created.IsZero())
	require.NotNil(t, res.Work)
	require.NotNil(t, res.Home)
	if diff := cmp.Diff(&WorkFragment{CompanyName: "Analytical Engines", Salary: Salary(`50000`), Currency: "GBP"}, res.Work); diff != "" {
		t.Fatalf("work fragment mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, &HomeFragment{Country: "UK", City: "London"}, res.Home)

	got, err := svc.Get(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, res.Item, got)
}

func TestService_SalaryKeepsStringForm(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemoryStore("participants"))
	in := sampleInput("s@b.com")
	in.Salary = Salary(`"72000"`)

	_, err := svc.Create(ctx, in)
	require.NoError(t, err)

	work, err := svc.GetWork(ctx, "s@b.com")
	require.NoError(t, err)
	assert.Equal(t, `"72000"`, string(work.Salary))
}

func TestService_CreateRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemoryStore("participants")
	svc := NewService(store)

	bad := sampleInput("not-an-email")
	_, err := svc.Create(ctx, bad)
	assert.Equal(t, KindValidation, KindOf(err))

	bad = sampleInput("a@b.com")
	bad.Dob = "1990-01-01"
	_, err = svc.Create(ctx, bad)
	assert.Equal(t, KindValidation, KindOf(err))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestService_CreateDuplicateLeavesExistingUntouched(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemoryStore("participants"))

	first, err := svc.Create(ctx, sampleInput("a@b.com"))
	require.NoError(t, err)

	dup := sampleInput("a@b.com")
	dup.Firstname = "Someone"
	dup.City = "Paris"
	_, err = svc.Create(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "Participant with the same email already exists", err.Error())

	got, err := svc.Get(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, first.Item, got)
	home, err := svc.GetHome(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "London", home.City)
}

func TestService_DeactivateTwice(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemoryStore("participants"))
	_, err := svc.Create(ctx, sampleInput("a@b.com"))
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, "a@b.com"))

	err = svc.Deactivate(ctx, "a@b.com")
	assert.Equal(t, KindState, KindOf(err))
	assert.Equal(t, "Participant is already inactive.", err.Error())

	err = svc.Deactivate(ctx, "nobody@b.com")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestService_DeactivatedIsHiddenFromDetailsButListed(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemoryStore("participants"))
	_, err := svc.Create(ctx, sampleInput("a@b.com"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, sampleInput("c@d.com"))
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, "a@b.com"))

	_, err = svc.Get(ctx, "a@b.com")
	assert.Equal(t, KindState, KindOf(err))
	assert.Equal(t, "Participant is inactive.", err.Error())
	_, err = svc.GetWork(ctx, "a@b.com")
	assert.Equal(t, KindState, KindOf(err))
	_, err = svc.GetHome(ctx, "a@b.com")
	assert.Equal(t, KindState, KindOf(err))

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a@b.com", all[0].Email)
	assert.False(t, all[0].Active)
	// deactivation only touches the flag
	assert.Equal(t, "Ada", all[0].Firstname)

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c@d.com", active[0].Email)

	inactive, err := svc.ListInactive(ctx)
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, "a@b.com", inactive[0].Email)
}

func TestService_UpdateResurrectsDeactivated(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemoryStore("participants"))
	_, err := svc.Create(ctx, sampleInput("a@b.com"))
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, "a@b.com"))

	in := sampleInput("a@b.com")
	in.Lastname = "King"
	res, err := svc.Update(ctx, "a@b.com", in)
	require.NoError(t, err)
	assert.True(t, res.Item.Active)
	assert.Equal(t, "King", res.Item.Lastname)

	got, err := svc.Get(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestService_UpdateUpsertsAndUsesBodyEmail(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemoryStore("participants")
	svc := NewService(store)

	res, err := svc.Update(ctx, "path@b.com", sampleInput("body@b.com"))
	require.NoError(t, err)
	assert.Equal(t, "body@b.com", res.Item.Email)

	_, err = store.Get(ctx, "path@b.com")
	assert.ErrorIs(t, err, recordstore.ErrNotFound)
	_, err = store.Get(ctx, "body@b.com")
	assert.NoError(t, err)
}

func TestService_UpdateOverwritesFragments(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemoryStore("participants"))
	_, err := svc.Create(ctx, sampleInput("a@b.com"))
	require.NoError(t, err)

	in := sampleInput("a@b.com")
	in.CompanyName = ""
	in.Salary = nil
	in.Currency = ""
	in.City = "Oxford"
	res, err := svc.Update(ctx, "a@b.com", in)
	require.NoError(t, err)
	assert.Equal(t, &WorkFragment{}, res.Work)
	assert.Equal(t, "Oxford", res.Home.City)
}

func TestService_FragmentNeverSetIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := recordstore.NewMemoryStore("participants")
	svc := NewService(store)
	require.NoError(t, store.Set(ctx, "bare@b.com", recordstore.Doc{"firstname": "Bare", "dob": "2000/01/01", "active": true}))

	_, err := svc.GetWork(ctx, "bare@b.com")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "Work details not found.", err.Error())

	_, err = svc.GetHome(ctx, "bare@b.com")
	assert.Equal(t, "Home details not found.", err.Error())

	_, err = svc.GetWork(ctx, "missing@b.com")
	assert.Equal(t, "Participant not found.", err.Error())
}

func TestService_BestEffortLeavesPartialCreate(t *testing.T) {
	ctx := context.Background()
	mem := recordstore.NewMemoryStore("participants")
	svc := NewService(&flakyStore{Store: mem, failFragment: homeFragment})

	_, err := svc.Create(ctx, sampleInput("a@b.com"))
	require.Error(t, err)
	assert.Equal(t, KindStore, KindOf(err))
	assert.Equal(t, "fragment write timed out", err.Error())

	_, err = mem.Get(ctx, "a@b.com")
	assert.NoError(t, err, "profile stays behind under best-effort")
	_, err = mem.Fragment("a@b.com", workFragment).Get(ctx)
	assert.NoError(t, err)
}

func TestService_CompensateRemovesPartialCreate(t *testing.T) {
	ctx := context.Background()
	mem := recordstore.NewMemoryStore("participants")
	svc := NewService(&flakyStore{Store: mem, failFragment: homeFragment}, WithPolicy(saga.Compensate))

	_, err := svc.Create(ctx, sampleInput("a@b.com"))
	require.Error(t, err)

	var stepErr *saga.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.True(t, stepErr.Compensated)

	_, err = mem.Get(ctx, "a@b.com")
	assert.ErrorIs(t, err, recordstore.ErrNotFound)
	_, err = mem.Fragment("a@b.com", workFragment).Get(ctx)
	assert.ErrorIs(t, err, recordstore.ErrNotFound)
}

func TestService_CompensateRestoresPreviousOnUpdate(t *testing.T) {
	ctx := context.Background()
	mem := recordstore.NewMemoryStore("participants")
	_, err := NewService(mem).Create(ctx, sampleInput("a@b.com"))
	require.NoError(t, err)
	require.NoError(t, NewService(mem).Deactivate(ctx, "a@b.com"))

	svc := NewService(&flakyStore{Store: mem, failFragment: homeFragment}, WithPolicy(saga.Compensate))
	in := sampleInput("a@b.com")
	in.Firstname = "Changed"
	in.CompanyName = "Elsewhere"
	_, err = svc.Update(ctx, "a@b.com", in)
	require.Error(t, err)

	rec, err := mem.Get(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada", rec.Props["firstname"])
	assert.Equal(t, false, rec.Props["active"])

	work, err := mem.Fragment("a@b.com", workFragment).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Analytical Engines", work["companyname"])
}

func TestService_CompensateDropsFieldsTheUpdateAdded(t *testing.T) {
	ctx := context.Background()
	mem := recordstore.NewMemoryStore("participants")
	require.NoError(t, mem.Set(ctx, "a@b.com", recordstore.Doc{"firstname": "Ada", "active": false}))
	require.NoError(t, mem.Fragment("a@b.com", workFragment).Set(ctx, recordstore.Doc{"companyname": "Analytical Engines"}))

	svc := NewService(&flakyStore{Store: mem, failFragment: homeFragment}, WithPolicy(saga.Compensate))
	in := sampleInput("a@b.com")
	in.Firstname = "Changed"
	in.CompanyName = "Elsewhere"
	_, err := svc.Update(ctx, "a@b.com", in)
	require.Error(t, err)

	rec, err := mem.Get(ctx, "a@b.com")
	require.NoError(t, err)
	if diff := cmp.Diff(recordstore.Doc{"firstname": "Ada", "active": false}, rec.Props); diff != "" {
		t.Fatalf("profile not restored (-want +got):\n%s", diff)
	}

	work, err := mem.Fragment("a@b.com", workFragment).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, recordstore.Doc{"companyname": "Analytical Engines"}, work)
	_, err = mem.Fragment("a@b.com", homeFragment).Get(ctx)
	assert.ErrorIs(t, err, recordstore.ErrNotFound)
}

func TestService_StoreFailuresAreStoreErrors(t *testing.T) {
	ctx := context.Background()
	svc := NewService(brokenStore{})

	_, err := svc.List(ctx)
	assert.Equal(t, KindStore, KindOf(err))
	assert.Equal(t, "connection refused", err.Error())

	_, err = svc.ListActive(ctx)
	assert.Equal(t, KindStore, KindOf(err))

	_, err = svc.Get(ctx, "a@b.com")
	assert.Equal(t, KindStore, KindOf(err))

	_, err = svc.Create(ctx, sampleInput("a@b.com"))
	assert.Equal(t, KindStore, KindOf(err))

	err = svc.Deactivate(ctx, "a@b.com")
	assert.Equal(t, KindStore, KindOf(err))
}

// Concurrent creates for one email are not serialized: the existence check
// and the write are separate calls. At least one succeeds and every other
// caller either succeeds or gets a conflict.
func TestService_ConcurrentCreateSameEmail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemoryStore("participants"))

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		conflict int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, sampleInput("race@b.com"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case KindOf(err) == KindConflict:
				conflict++
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, created, 1)
	assert.Equal(t, n, created+conflict)
}
