package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-grc/aegis/internal/access"
	"github.com/aegis-grc/aegis/internal/authz"
	"github.com/aegis-grc/aegis/internal/shared"
	_ "github.com/aegis-grc/aegis/testing"
)

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	profiles map[string]authz.AccessProfile
	controls map[string]authz.UserAccessControl
}

func newMemRepo() *memRepo {
	return &memRepo{
		profiles: make(map[string]authz.AccessProfile),
		controls: make(map[string]authz.UserAccessControl),
	}
}

func (m *memRepo) ListProfiles(ctx context.Context, page shared.Pagination) ([]authz.AccessProfile, error) {
	out := make([]authz.AccessProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (m *memRepo) GetProfile(ctx context.Context, id string) (*authz.AccessProfile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	return &p, nil
}

func (m *memRepo) InsertProfile(ctx context.Context, profile authz.AccessProfile) error {
	for _, p := range m.profiles {
		if p.Name == profile.Name {
			return access.ErrDuplicateName
		}
	}
	m.profiles[profile.ID] = profile
	return nil
}

func (m *memRepo) UpdateProfile(ctx context.Context, profile authz.AccessProfile) error {
	if _, ok := m.profiles[profile.ID]; !ok {
		return access.ErrNotFound
	}
	m.profiles[profile.ID] = profile
	return nil
}

func (m *memRepo) DeleteProfile(ctx context.Context, id string) error {
	if _, ok := m.profiles[id]; !ok {
		return access.ErrNotFound
	}
	delete(m.profiles, id)
	return nil
}

func (m *memRepo) CountControlsForProfile(ctx context.Context, profileID string) (int, error) {
	count := 0
	for _, c := range m.controls {
		if c.ProfileID == profileID {
			count++
		}
	}
	return count, nil
}

func (m *memRepo) ListControls(ctx context.Context, page shared.Pagination) ([]authz.UserAccessControl, error) {
	out := make([]authz.UserAccessControl, 0, len(m.controls))
	for _, c := range m.controls {
		out = append(out, c)
	}
	return out, nil
}

func (m *memRepo) GetControl(ctx context.Context, id string) (*authz.UserAccessControl, error) {
	c, ok := m.controls[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	return &c, nil
}

func (m *memRepo) InsertControl(ctx context.Context, control authz.UserAccessControl) error {
	m.controls[control.ID] = control
	return nil
}

func (m *memRepo) UpdateControl(ctx context.Context, control authz.UserAccessControl) error {
	if _, ok := m.controls[control.ID]; !ok {
		return access.ErrNotFound
	}
	m.controls[control.ID] = control
	return nil
}

func (m *memRepo) DeleteControl(ctx context.Context, id string) error {
	if _, ok := m.controls[id]; !ok {
		return access.ErrNotFound
	}
	delete(m.controls, id)
	return nil
}

func newService(repo access.Repository) *access.Service {
	return access.NewService(repo, nil, nil, nil)
}

func validProfileInput() access.ProfileInput {
	return access.ProfileInput{
		Name:     "Risk Analyst",
		IsActive: true,
		Permissions: []authz.ModulePermission{
			{Module: authz.ModuleRisks, Actions: authz.ActionSet{View: true, Create: true}},
		},
	}
}

func TestCreateProfile(t *testing.T) {
	svc := newService(newMemRepo())

	profile, err := svc.CreateProfile(context.Background(), "admin@example.com", validProfileInput())
	require.NoError(t, err)
	assert.NotEmpty(t, profile.ID)
	assert.Equal(t, "Risk Analyst", profile.Name)
	assert.Equal(t, "admin@example.com", profile.CreatedBy)
	assert.False(t, profile.CreatedAt.IsZero())
}

func TestCreateProfileRejectsUnknownModule(t *testing.T) {
	svc := newService(newMemRepo())

	input := validProfileInput()
	input.Permissions = append(input.Permissions, authz.ModulePermission{Module: "finance"})
	_, err := svc.CreateProfile(context.Background(), "admin@example.com", input)
	assert.ErrorIs(t, err, access.ErrUnknownModule)
}

func TestCreateProfileRejectsDuplicateModuleEntry(t *testing.T) {
	svc := newService(newMemRepo())

	input := validProfileInput()
	input.Permissions = append(input.Permissions, authz.ModulePermission{Module: authz.ModuleRisks})
	_, err := svc.CreateProfile(context.Background(), "admin@example.com", input)
	assert.ErrorIs(t, err, access.ErrDuplicateModule)
}

func TestDeleteProfileInUse(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)

	profile, err := svc.CreateProfile(context.Background(), "admin@example.com", validProfileInput())
	require.NoError(t, err)

	start := time.Now().Add(-time.Hour)
	_, err = svc.CreateControl(context.Background(), "admin@example.com", access.ControlInput{
		UserID:    "u-1",
		UserName:  "Analyst",
		UserEmail: "analyst@example.com",
		ProfileID: profile.ID,
		IsActive:  true,
		StartDate: &start,
	})
	require.NoError(t, err)

	err = svc.DeleteProfile(context.Background(), "admin@example.com", profile.ID)
	assert.ErrorIs(t, err, access.ErrProfileInUse)

	// After the control is gone the profile can be deleted.
	for id := range repo.controls {
		require.NoError(t, svc.DeleteControl(context.Background(), "admin@example.com", id))
	}
	assert.NoError(t, svc.DeleteProfile(context.Background(), "admin@example.com", profile.ID))
}

func TestCreateControlDenormalizesProfileName(t *testing.T) {
	svc := newService(newMemRepo())

	profile, err := svc.CreateProfile(context.Background(), "admin@example.com", validProfileInput())
	require.NoError(t, err)

	start := time.Now().Add(-time.Hour)
	control, err := svc.CreateControl(context.Background(), "admin@example.com", access.ControlInput{
		UserID:    "u-1",
		UserName:  "Analyst",
		UserEmail: "Analyst@Example.com",
		ProfileID: profile.ID,
		IsActive:  true,
		StartDate: &start,
	})
	require.NoError(t, err)
	assert.Equal(t, "Risk Analyst", control.ProfileName)
	assert.Equal(t, "analyst@example.com", control.UserEmail, "email stored canonicalized")
}

func TestCreateControlMissingProfile(t *testing.T) {
	svc := newService(newMemRepo())

	_, err := svc.CreateControl(context.Background(), "admin@example.com", access.ControlInput{
		UserID:    "u-1",
		UserName:  "Analyst",
		UserEmail: "analyst@example.com",
		ProfileID: "11111111-1111-4111-8111-111111111111",
		IsActive:  true,
	})
	assert.ErrorIs(t, err, access.ErrProfileMissing)
}

func TestCreateControlInvertedWindow(t *testing.T) {
	svc := newService(newMemRepo())

	start := time.Now()
	end := start.Add(-24 * time.Hour)
	_, err := svc.CreateControl(context.Background(), "admin@example.com", access.ControlInput{
		UserID:    "u-1",
		UserName:  "Analyst",
		UserEmail: "analyst@example.com",
		ProfileID: "11111111-1111-4111-8111-111111111111",
		IsActive:  true,
		StartDate: &start,
		EndDate:   &end,
	})
	assert.ErrorIs(t, err, access.ErrWindowInverted)
}

func TestCreateControlWithoutStartDateIsStored(t *testing.T) {
	svc := newService(newMemRepo())

	profile, err := svc.CreateProfile(context.Background(), "admin@example.com", validProfileInput())
	require.NoError(t, err)

	control, err := svc.CreateControl(context.Background(), "admin@example.com", access.ControlInput{
		UserID:    "u-1",
		UserName:  "Analyst",
		UserEmail: "analyst@example.com",
		ProfileID: profile.ID,
		IsActive:  true,
	})
	require.NoError(t, err)
	assert.Nil(t, control.StartDate)
	// The stored grant exists but is not yet in force.
	assert.False(t, control.EffectivelyActiveAt(time.Now()))
}

// countingStore records how many access-control fetches the loader
// performs; a second fetch for the same email means the cached entry
// was dropped.
type countingStore struct {
	fetches int
}

func (c *countingStore) AccessControlByEmail(ctx context.Context, email string) (*authz.UserAccessControl, int, error) {
	c.fetches++
	return nil, 0, authz.ErrNotFound
}

func (c *countingStore) ProfileByID(ctx context.Context, id string) (*authz.AccessProfile, error) {
	return nil, authz.ErrNotFound
}

func TestControlMutationsInvalidateCachedContext(t *testing.T) {
	store := &countingStore{}
	loader := authz.NewContextLoader(store, nil, time.Second)
	svc := access.NewService(newMemRepo(), nil, nil, loader)

	ctx := context.Background()
	loader.Load(ctx, "analyst@example.com")
	loader.Load(ctx, "analyst@example.com")
	require.Equal(t, 1, store.fetches, "second load is served from cache")

	profile, err := svc.CreateProfile(ctx, "admin@example.com", validProfileInput())
	require.NoError(t, err)

	start := time.Now().Add(-time.Hour)
	_, err = svc.CreateControl(ctx, "admin@example.com", access.ControlInput{
		UserID:    "u-1",
		UserName:  "Analyst",
		UserEmail: "analyst@example.com",
		ProfileID: profile.ID,
		IsActive:  true,
		StartDate: &start,
	})
	require.NoError(t, err)

	loader.Load(ctx, "analyst@example.com")
	assert.Equal(t, 2, store.fetches, "control mutation drops the cached context")
}

func TestProfileUpdateInvalidatesAllCachedContexts(t *testing.T) {
	store := &countingStore{}
	loader := authz.NewContextLoader(store, nil, time.Second)
	repo := newMemRepo()
	svc := access.NewService(repo, nil, nil, loader)

	ctx := context.Background()
	profile, err := svc.CreateProfile(ctx, "admin@example.com", validProfileInput())
	require.NoError(t, err)

	loader.Load(ctx, "analyst@example.com")
	require.Equal(t, 1, store.fetches)

	input := validProfileInput()
	input.Permissions[0].Actions.Delete = true
	_, err = svc.UpdateProfile(ctx, "admin@example.com", profile.ID, input)
	require.NoError(t, err)

	loader.Load(ctx, "analyst@example.com")
	assert.Equal(t, 2, store.fetches, "profile rewrite drops every cached context")
}

func TestUpdateControlRefreshesProfileName(t *testing.T) {
	svc := newService(newMemRepo())

	first, err := svc.CreateProfile(context.Background(), "admin@example.com", validProfileInput())
	require.NoError(t, err)

	secondInput := validProfileInput()
	secondInput.Name = "Compliance Officer"
	second, err := svc.CreateProfile(context.Background(), "admin@example.com", secondInput)
	require.NoError(t, err)

	start := time.Now().Add(-time.Hour)
	control, err := svc.CreateControl(context.Background(), "admin@example.com", access.ControlInput{
		UserID:    "u-1",
		UserName:  "Analyst",
		UserEmail: "analyst@example.com",
		ProfileID: first.ID,
		IsActive:  true,
		StartDate: &start,
	})
	require.NoError(t, err)

	updated, err := svc.UpdateControl(context.Background(), "admin@example.com", control.ID, access.ControlInput{
		UserID:    "u-1",
		UserName:  "Analyst",
		UserEmail: "analyst@example.com",
		ProfileID: second.ID,
		IsActive:  true,
		StartDate: &start,
	})
	require.NoError(t, err)
	assert.Equal(t, "Compliance Officer", updated.ProfileName)
}
