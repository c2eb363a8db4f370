package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/plex-auth-server/internal/errors"
	"github.com/openclaw/plex-auth-server/internal/model"
	"github.com/openclaw/plex-auth-server/internal/plex"
)

func newDiscoveryFixture(t *testing.T, resources []plex.Resource, results map[string]model.ProbeResult) (*DiscoveryService, *oauthFixture, *fakeProber) {
	t.Helper()
	f := newOAuthFixture(t)
	f.plex.listResources = func(_ context.Context, token string) ([]plex.Resource, error) {
		if token != "tok" {
			return nil, apperrors.InvalidToken("Invalid or expired Plex token")
		}
		return resources, nil
	}
	prober := &fakeProber{results: results}
	return NewDiscoveryService(f.svc, f.plex, prober, f.creds, 4), f, prober
}

func conn(uri string, local bool) plex.Connection {
	return plex.Connection{URI: uri, Protocol: "http", Address: "10.0.0.2", Port: 32400, Local: local}
}

func TestDiscoveryService_ListServers(t *testing.T) {
	ctx := context.Background()

	resources := []plex.Resource{
		{
			Name: "Home", ClientIdentifier: "m1", Provides: "server", Owned: true, ProductVersion: "1.40",
			Connections: []plex.Connection{conn("http://a:1", true), conn("http://dead:1", true), conn("https://b:2", false)},
		},
		{
			Name: "Friend", ClientIdentifier: "m2", Provides: "server", Owned: false,
			Connections: []plex.Connection{conn("http://friend:1", false)},
		},
		{
			Name: "Phone", ClientIdentifier: "p1", Provides: "client,player", Owned: true,
			Connections: []plex.Connection{conn("http://phone:1", true)},
		},
		{
			Name: "Offline", ClientIdentifier: "m3", Provides: "server", Owned: true,
			Connections: []plex.Connection{conn("http://off:1", true)},
		},
		{
			Name: "Cabin", ClientIdentifier: "m4", Provides: "client,server", Owned: true,
			Connections: []plex.Connection{conn("http://cabin:1", false)},
		},
	}
	results := map[string]model.ProbeResult{
		"http://a:1":      model.ProbeOK,
		"https://b:2":     model.ProbeOK,
		"http://dead:1":   model.ProbeTimeout,
		"http://off:1":    model.ProbeRefused,
		"http://cabin:1":  model.ProbeOK,
		"http://friend:1": model.ProbeOK,
		"http://phone:1":  model.ProbeOK,
	}

	t.Run("owned servers with live connections in order", func(t *testing.T) {
		svc, f, prober := newDiscoveryFixture(t, resources, results)
		f.storeToken(t, "tok", time.Now())

		servers, err := svc.ListServers(ctx)
		require.NoError(t, err)
		require.Len(t, servers, 2)

		assert.Equal(t, "m1", servers[0].MachineIdentifier)
		assert.Equal(t, "1.40", servers[0].Version)
		require.Len(t, servers[0].Connections, 2)
		assert.Equal(t, "http://a:1", servers[0].Connections[0].URI)
		assert.Equal(t, "https://b:2", servers[0].Connections[1].URI)
		for _, c := range servers[0].Connections {
			assert.True(t, c.Reachable)
		}
		assert.Equal(t, "m4", servers[1].MachineIdentifier)

		assert.NotContains(t, prober.calls, "http://friend:1")
		assert.NotContains(t, prober.calls, "http://phone:1")
		assert.Len(t, prober.calls, 5)
	})

	t.Run("no credential", func(t *testing.T) {
		svc, _, _ := newDiscoveryFixture(t, resources, results)
		_, err := svc.ListServers(ctx)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServerNotFound))
	})

	t.Run("provider rejects token", func(t *testing.T) {
		svc, _, _ := newDiscoveryFixture(t, resources, results)
		_, err := svc.ListServersWithToken(ctx, "revoked")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidToken))
	})

	t.Run("nothing reachable", func(t *testing.T) {
		svc, _, _ := newDiscoveryFixture(t, resources, map[string]model.ProbeResult{})
		servers, err := svc.ListServersWithToken(ctx, "tok")
		require.NoError(t, err)
		assert.Empty(t, servers)
	})
}

type blockingProber struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (p *blockingProber) Check(ctx context.Context, uri, token string) model.ProbeResult {
	p.mu.Lock()
	p.active++
	if p.active > p.maxSeen {
		p.maxSeen = p.active
	}
	p.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return model.ProbeOK
}

func TestDiscoveryService_ProbeConcurrencyLimit(t *testing.T) {
	conns := make([]plex.Connection, 12)
	for i := range conns {
		conns[i] = conn(fmt.Sprintf("http://host-%d:32400", i), true)
	}
	f := newOAuthFixture(t)
	f.plex.listResources = func(context.Context, string) ([]plex.Resource, error) {
		return []plex.Resource{{Name: "Big", ClientIdentifier: "m", Provides: "server", Owned: true, Connections: conns}}, nil
	}
	prober := &blockingProber{}
	svc := NewDiscoveryService(f.svc, f.plex, prober, f.creds, 3)

	servers, err := svc.ListServersWithToken(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Len(t, servers[0].Connections, 12)
	assert.LessOrEqual(t, prober.maxSeen, 3)
	assert.Greater(t, prober.maxSeen, 1)
}

func TestDiscoveryService_TestConnection(t *testing.T) {
	ctx := context.Background()
	results := map[string]model.ProbeResult{
		"http://ok:1":   model.ProbeOK,
		"http://slow:1": model.ProbeTimeout,
	}

	t.Run("input validated before credential", func(t *testing.T) {
		svc, _, _ := newDiscoveryFixture(t, nil, results)

		_, err := svc.TestConnection(ctx, "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))
		_, err = svc.TestConnection(ctx, "nope")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
		_, err = svc.TestConnection(ctx, "http://ok:1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServerNotFound))
	})

	t.Run("reports probe outcome", func(t *testing.T) {
		svc, f, _ := newDiscoveryFixture(t, nil, results)
		f.storeToken(t, "tok", time.Now())

		res, err := svc.TestConnection(ctx, "http://ok:1")
		require.NoError(t, err)
		assert.Equal(t, &model.ConnectionTestResult{Success: true}, res)

		res, err = svc.TestConnection(ctx, "http://slow:1")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "Connection timeout", res.Error)
	})
}

func TestDiscoveryService_SelectServer(t *testing.T) {
	ctx := context.Background()
	svc, f, _ := newDiscoveryFixture(t, nil, nil)

	_, err := svc.SelectedServer(ctx)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	cases := []model.SelectedServer{
		{Name: "Home", URI: "http://a:1"},
		{MachineIdentifier: "m1", URI: "http://a:1"},
		{MachineIdentifier: "m1", Name: "Home"},
		{MachineIdentifier: "m1", Name: "Home", URI: "a:1"},
	}
	for _, c := range cases {
		_, err := svc.SelectServer(ctx, c)
		assert.Error(t, err)
	}
	assert.Nil(t, f.creds.server)

	want := model.SelectedServer{MachineIdentifier: "m1", Name: "Home", URI: "http://10.0.0.2:32400", Local: true}
	got, err := svc.SelectServer(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	stored, err := svc.SelectedServer(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, *stored)

	f.creds.failAll = errors.New("locked")
	_, err = svc.SelectServer(ctx, want)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
}
