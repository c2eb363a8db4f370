package service

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/openclaw/plex-auth-server/internal/errors"
	"github.com/openclaw/plex-auth-server/internal/model"
	"github.com/openclaw/plex-auth-server/internal/plex"
)

type fakePlex struct {
	createPin     func(ctx context.Context, clientID string) (*plex.Pin, error)
	getPin        func(ctx context.Context, pinID, clientID string) (*plex.Pin, error)
	getUser       func(ctx context.Context, token string) (*plex.User, error)
	ping          func(ctx context.Context, token string) error
	listResources func(ctx context.Context, token string) ([]plex.Resource, error)

	mu        sync.Mutex
	pingCalls int
}

func (f *fakePlex) CreatePin(ctx context.Context, clientID string) (*plex.Pin, error) {
	return f.createPin(ctx, clientID)
}

func (f *fakePlex) GetPin(ctx context.Context, pinID, clientID string) (*plex.Pin, error) {
	return f.getPin(ctx, pinID, clientID)
}

func (f *fakePlex) GetUser(ctx context.Context, token string) (*plex.User, error) {
	return f.getUser(ctx, token)
}

func (f *fakePlex) Ping(ctx context.Context, token string) error {
	f.mu.Lock()
	f.pingCalls++
	f.mu.Unlock()
	return f.ping(ctx, token)
}

func (f *fakePlex) ListResources(ctx context.Context, token string) ([]plex.Resource, error) {
	return f.listResources(ctx, token)
}

func (f *fakePlex) AuthURL(clientID, code string) string {
	return "https://app.plex.tv/auth#?clientID=" + clientID + "&code=" + code
}

func strPtr(s string) *string { return &s }

func userFor(token string) func(context.Context, string) (*plex.User, error) {
	return func(_ context.Context, got string) (*plex.User, error) {
		if got != token {
			return nil, apperrors.InvalidToken("Invalid or expired Plex token")
		}
		return &plex.User{ID: 9, Username: "alice", Email: "a@example.com"}, nil
	}
}

// memCreds is an in-memory CredentialRepository.
type memCreds struct {
	mu      sync.Mutex
	cred    *model.AuthCredential
	server  *model.SelectedServer
	saves   int
	touches int
	failAll error
}

func (m *memCreds) Load(ctx context.Context) (*model.AuthCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	if m.cred == nil {
		return nil, nil
	}
	c := *m.cred
	return &c, nil
}

func (m *memCreds) Save(ctx context.Context, cred model.AuthCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	m.saves++
	m.cred = &cred
	return nil
}

func (m *memCreds) Touch(ctx context.Context, validatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	m.touches++
	if m.cred != nil {
		m.cred.LastValidatedAt = validatedAt
	}
	return nil
}

func (m *memCreds) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	m.cred = nil
	return nil
}

func (m *memCreds) SaveServer(ctx context.Context, server model.SelectedServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	m.server = &server
	return nil
}

func (m *memCreds) LoadServer(ctx context.Context) (*model.SelectedServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	return m.server, nil
}

type fakeProber struct {
	results map[string]model.ProbeResult
	mu      sync.Mutex
	calls   []string
}

func (p *fakeProber) Check(ctx context.Context, uri, token string) model.ProbeResult {
	p.mu.Lock()
	p.calls = append(p.calls, uri)
	p.mu.Unlock()
	if r, ok := p.results[uri]; ok {
		return r
	}
	return model.ProbeRefused
}
