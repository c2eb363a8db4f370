package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/openclaw/plex-auth-server/internal/errors"
	"github.com/openclaw/plex-auth-server/internal/model"
	"github.com/openclaw/plex-auth-server/internal/repository"
	"github.com/openclaw/plex-auth-server/internal/util"
)

const defaultProbeConcurrency = 8

// Prober is satisfied by ConnectionProber.
type Prober interface {
	Check(ctx context.Context, uri, token string) model.ProbeResult
}

var _ Prober = (*ConnectionProber)(nil)

// DiscoveryService lists the account's owned servers with their live
// connections and records the user's choice.
type DiscoveryService struct {
	oauth       *OAuthService
	plex        PlexAPI
	prober      Prober
	creds       repository.CredentialRepository
	concurrency int
}

func NewDiscoveryService(
	oauth *OAuthService,
	plexAPI PlexAPI,
	prober Prober,
	creds repository.CredentialRepository,
	concurrency int,
) *DiscoveryService {
	if concurrency < 1 {
		concurrency = defaultProbeConcurrency
	}
	return &DiscoveryService{
		oauth:       oauth,
		plex:        plexAPI,
		prober:      prober,
		creds:       creds,
		concurrency: concurrency,
	}
}

// ListServers uses the stored credential. Without one it fails with ServerNotFound.
func (s *DiscoveryService) ListServers(ctx context.Context) ([]model.ServerDescriptor, error) {
	token, _, err := s.oauth.RequireCredential(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListServersWithToken(ctx, token)
}

// ListServersWithToken returns owned servers with only the connections that
// passed a probe, in provider order. Servers with no live connection are
// left out. Probes run concurrently and a failed probe never cancels another.
func (s *DiscoveryService) ListServersWithToken(ctx context.Context, token string) ([]model.ServerDescriptor, error) {
	resources, err := s.plex.ListResources(ctx, token)
	if err != nil {
		return nil, err
	}

	servers := make([]model.ServerDescriptor, 0, len(resources))
	for _, res := range resources {
		if !res.ProvidesServer() || !res.Owned {
			continue
		}
		desc := model.ServerDescriptor{
			Name:              res.Name,
			MachineIdentifier: res.ClientIdentifier,
			Version:           res.ProductVersion,
			Platform:          res.Platform,
			Device:            res.Device,
			Connections:       make([]model.ConnectionCandidate, 0, len(res.Connections)),
		}
		for _, c := range res.Connections {
			desc.Connections = append(desc.Connections, model.ConnectionCandidate{
				URI:      c.URI,
				Protocol: c.Protocol,
				Address:  c.Address,
				Port:     c.Port,
				Local:    c.Local,
				Relay:    c.Relay,
			})
		}
		servers = append(servers, desc)
	}

	start := time.Now()
	probes := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range servers {
		for j := range servers[i].Connections {
			conn := &servers[i].Connections[j]
			probes++
			g.Go(func() error {
				conn.Reachable = s.prober.Check(gctx, conn.URI, token) == model.ProbeOK
				return nil
			})
		}
	}
	_ = g.Wait()

	result := make([]model.ServerDescriptor, 0, len(servers))
	for _, desc := range servers {
		live := desc.Connections[:0]
		for _, c := range desc.Connections {
			if c.Reachable {
				live = append(live, c)
			}
		}
		if len(live) == 0 {
			log.Info().Str("machineIdentifier", desc.MachineIdentifier).Str("name", desc.Name).Msg("no reachable connections, skipping server")
			continue
		}
		desc.Connections = live
		result = append(result, desc)
	}

	log.Info().
		Int("resources", len(resources)).
		Int("probes", probes).
		Int("servers", len(result)).
		Dur("elapsed", time.Since(start)).
		Msg("plex server discovery finished")

	return result, nil
}

// TestConnection probes a single URI with the stored credential.
func (s *DiscoveryService) TestConnection(ctx context.Context, uri string) (*model.ConnectionTestResult, error) {
	if uri == "" {
		return nil, apperrors.MissingRequired("uri")
	}
	if !util.IsValidServerURI(uri) {
		return nil, apperrors.InvalidInput("uri", "must be an absolute http or https URL")
	}

	token, _, err := s.oauth.RequireCredential(ctx)
	if err != nil {
		return nil, err
	}

	result := s.prober.Check(ctx, uri, token)
	if result == model.ProbeOK {
		return &model.ConnectionTestResult{Success: true}, nil
	}
	return &model.ConnectionTestResult{Success: false, Error: probeMessage(result)}, nil
}

func probeMessage(r model.ProbeResult) string {
	switch r {
	case model.ProbeTimeout:
		return "Connection timeout"
	case model.ProbeTLS:
		return "TLS certificate verification failed"
	case model.ProbeRefused:
		return "Connection refused"
	case model.ProbeStatus:
		return "Server rejected the request"
	case model.ProbeInvalid:
		return "Invalid server URI"
	default:
		return "Connection failed"
	}
}

// SelectServer validates and persists the chosen server. No network calls.
func (s *DiscoveryService) SelectServer(ctx context.Context, server model.SelectedServer) (*model.SelectedServer, error) {
	switch {
	case server.MachineIdentifier == "":
		return nil, apperrors.MissingRequired("machineIdentifier")
	case server.Name == "":
		return nil, apperrors.MissingRequired("name")
	case server.URI == "":
		return nil, apperrors.MissingRequired("connection.uri")
	case !util.IsValidServerURI(server.URI):
		return nil, apperrors.InvalidInput("connection.uri", "must be an absolute http or https URL")
	}

	if err := s.creds.SaveServer(ctx, server); err != nil {
		log.Error().Err(err).Str("machineIdentifier", server.MachineIdentifier).Msg("failed to save selected server")
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("machineIdentifier", server.MachineIdentifier).
		Str("name", server.Name).
		Str("uri", server.URI).
		Bool("local", server.Local).
		Msg("plex server selected")
	return &server, nil
}

// SelectedServer returns the persisted choice, or NotFound.
func (s *DiscoveryService) SelectedServer(ctx context.Context) (*model.SelectedServer, error) {
	server, err := s.creds.LoadServer(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if server == nil {
		return nil, apperrors.NotFound("Selected server")
	}
	return server, nil
}
