package permission

import (
	"context"
	"errors"
	"sync"
	"testing"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
	"github.com/louisbranch/gatekeeper/internal/services/gatekeeper/domain/place"
)

func TestResolveUserScenePermissions_Land(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		land  LandPermissions
		admin bool
		want  Permissions
	}{
		{name: "owner", land: LandPermissions{Owner: true}, want: Permissions{Owner: true}},
		{name: "operator", land: LandPermissions{Operator: true}, want: Permissions{HasExtendedPermissions: true}},
		{name: "admin skips extended", land: LandPermissions{Operator: true}, admin: true, want: Permissions{Admin: true}},
		{name: "nobody", want: Permissions{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			lands := &fakeLands{perms: tc.land}
			admins := &fakeAdmins{admins: map[string]bool{}}
			if tc.admin {
				admins.admins["place-1|0xuser"] = true
			}
			resolver := NewResolver(lands, &fakeWorlds{}, admins)

			got, err := resolver.ResolveUserScenePermissions(context.Background(), landPlace(), "0xUSER")
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got != tc.want {
				t.Fatalf("permissions = %+v, want %+v", got, tc.want)
			}
			if lands.callCount() != 1 {
				t.Fatalf("land lookups = %d, want 1", lands.callCount())
			}
		})
	}
}

func TestResolveUserScenePermissions_World(t *testing.T) {
	t.Parallel()

	worlds := &fakeWorlds{deploy: map[string]bool{"0xuser": true}}
	resolver := NewResolver(&fakeLands{}, worlds, &fakeAdmins{})

	got, err := resolver.ResolveUserScenePermissions(context.Background(), worldPlace(), "0xuser")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != (Permissions{HasExtendedPermissions: true}) {
		t.Fatalf("permissions = %+v, want extended only", got)
	}
	if worlds.lastWorld != "foo.dcl.eth" {
		t.Fatalf("world name = %q, want normalized foo.dcl.eth", worlds.lastWorld)
	}
}

func TestResolveUserScenePermissions_AdminSkipsWorldExtendedLookups(t *testing.T) {
	t.Parallel()

	worlds := &fakeWorlds{streaming: map[string]bool{"0xuser": true}}
	admins := &fakeAdmins{admins: map[string]bool{"world-1|0xuser": true}}
	resolver := NewResolver(&fakeLands{}, worlds, admins)

	got, err := resolver.ResolveUserScenePermissions(context.Background(), worldPlace(), "0xuser")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !got.Admin || got.HasExtendedPermissions {
		t.Fatalf("permissions = %+v, want admin without extended", got)
	}
	if worlds.extendedCalls != 0 {
		t.Fatalf("extended lookups = %d, want 0", worlds.extendedCalls)
	}
}

func TestIsSceneOwner(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(
		&fakeLands{perms: LandPermissions{Owner: true}},
		&fakeWorlds{owner: map[string]bool{"0xowner": true}},
		&fakeAdmins{},
	)
	owner, err := resolver.IsSceneOwner(context.Background(), landPlace(), "0xanyone")
	if err != nil {
		t.Fatalf("land owner: %v", err)
	}
	if !owner {
		t.Fatal("expected land owner")
	}
	owner, err = resolver.IsSceneOwner(context.Background(), worldPlace(), "0xother")
	if err != nil {
		t.Fatalf("world owner: %v", err)
	}
	if owner {
		t.Fatal("expected non-owner for 0xother")
	}
}

func TestIsSceneOwnerOrAdminAdmitsExtendedHolders(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(&fakeLands{perms: LandPermissions{Operator: true}}, &fakeWorlds{}, &fakeAdmins{})
	ok, err := resolver.IsSceneOwnerOrAdmin(context.Background(), landPlace(), "0xoperator")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok {
		t.Fatal("expected operator to pass the manage gate")
	}
}

func TestLookupFailuresPropagate(t *testing.T) {
	t.Parallel()

	boom := errors.New("lands api down")
	resolver := NewResolver(&fakeLands{err: boom}, &fakeWorlds{}, &fakeAdmins{})
	_, err := resolver.IsSceneOwnerOrAdmin(context.Background(), landPlace(), "0xuser")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped lookup failure", err)
	}
	if code := apperrors.CodeOf(err); code != apperrors.CodeFault {
		t.Fatalf("code = %s, want %s", code, apperrors.CodeFault)
	}
}

func TestResolveRejectsMissingAddress(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(&fakeLands{}, &fakeWorlds{}, &fakeAdmins{})
	_, err := resolver.ResolveUserScenePermissions(context.Background(), landPlace(), "  ")
	if !apperrors.HasCode(err, apperrors.CodeInvalidRequest) {
		t.Fatalf("err = %v, want invalid request", err)
	}
}

func landPlace() place.Place {
	return place.Place{ID: "place-1", Positions: []string{"10,20"}, BasePosition: "10,20"}
}

func worldPlace() place.Place {
	return place.Place{ID: "world-1", IsWorld: true, WorldName: "Foo.dcl.eth"}
}

type fakeLands struct {
	mu    sync.Mutex
	perms LandPermissions
	err   error
	calls int
}

func (f *fakeLands) GetLandPermissions(_ context.Context, _ string, _ []string) (LandPermissions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.perms, f.err
}

func (f *fakeLands) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWorlds struct {
	mu            sync.Mutex
	owner         map[string]bool
	streaming     map[string]bool
	deploy        map[string]bool
	lastWorld     string
	extendedCalls int
}

func (f *fakeWorlds) HasWorldOwnerPermission(_ context.Context, address string, worldName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWorld = worldName
	return f.owner[address], nil
}

func (f *fakeWorlds) HasWorldStreamingPermission(_ context.Context, address string, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extendedCalls++
	return f.streaming[address], nil
}

func (f *fakeWorlds) HasWorldDeployPermission(_ context.Context, address string, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extendedCalls++
	return f.deploy[address], nil
}

type fakeAdmins struct {
	admins map[string]bool
}

func (f *fakeAdmins) IsAdmin(_ context.Context, placeID string, address string) (bool, error) {
	return f.admins[placeID+"|"+address], nil
}
