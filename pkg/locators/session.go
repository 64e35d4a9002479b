// Package locators implements the artifact locators of the build planner:
// tarballs in a Google Cloud Storage bucket and images in a container
// registry.
//
// A Session holds everything the locators need to reach the cloud: the
// project, its storage settings and credentials. It resolves them lazily,
// so commands that never look up an artifact make no remote calls.
package locators

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/burrmill/miller/pkg/engine"
)

// Options are the explicit session settings. Empty fields are discovered.
type Options struct {
	// Project is the Google Cloud project holding the artifacts.
	Project string

	// GSLocation is the registry multiregion, e.g. "us".
	GSLocation string

	// GSSoftware is the software bucket, with or without gs://.
	GSSoftware string

	// RegistryHost overrides "<GSLocation>.gcr.io".
	RegistryHost string

	// RegistryInsecure talks to the registry over plain HTTP.
	RegistryInsecure bool

	// WarnThreshold and MaxObjects bound the tarball listing. Zero means
	// the default.
	WarnThreshold int
	MaxObjects    int

	// RuntimeConfigEndpoint overrides the runtimeconfig API endpoint.
	RuntimeConfigEndpoint string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger.
func WithSessionLogger(log zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.log = log
	}
}

// WithTokenSource sets the Google credentials instead of the application
// default credentials.
func WithTokenSource(ts oauth2.TokenSource) SessionOption {
	return func(s *Session) {
		s.tokenSource = ts
	}
}

// WithHTTPClient sets the base HTTP client for all requests.
func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) {
		s.httpClient = c
	}
}

// WithObjectLister replaces the Cloud Storage lister.
func WithObjectLister(l ObjectLister) SessionOption {
	return func(s *Session) {
		s.lister = l
	}
}

// WithProjectFinder replaces the project discovery.
func WithProjectFinder(f *ProjectFinder) SessionOption {
	return func(s *Session) {
		s.finder = f
	}
}

// WithListingObserver registers a function called with the number of
// tarball candidates once the tarball directory is listed.
func WithListingObserver(fn func(int)) SessionOption {
	return func(s *Session) {
		s.onListed = fn
	}
}

// Session is the context object shared by the locators of one run.
type Session struct {
	opts     Options
	log      zerolog.Logger
	finder   *ProjectFinder
	onListed func(int)

	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	authClient  *http.Client

	project     string
	settingsErr error
	resolved    bool

	lister   ObjectLister
	gcs      *storage.Client
	tarballs *TarballLocator
	tarErr   error
	images   *ImageLocator
	imgErr   error
}

// NewSession creates a session. Nothing is resolved until a locator is
// first used.
func NewSession(opts Options, sopts ...SessionOption) *Session {
	s := &Session{
		opts:       opts,
		log:        zerolog.Nop(),
		httpClient: http.DefaultClient,
	}
	for _, o := range sopts {
		o(s)
	}
	if s.finder == nil {
		s.finder = NewProjectFinder(s.log)
	}
	return s
}

// tokens returns the source of Google access tokens.
func (s *Session) tokens(ctx context.Context) (oauth2.TokenSource, error) {
	if s.tokenSource != nil {
		return s.tokenSource, nil
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
	if err != nil {
		return nil, engine.NewRemoteError("cannot obtain Google credentials", err).
			WithCode(engine.ErrCodeAuthFailed)
	}
	s.tokenSource = ts
	return ts, nil
}

// auth returns the HTTP client carrying the Google access token.
func (s *Session) auth(ctx context.Context) (*http.Client, error) {
	if s.authClient != nil {
		return s.authClient, nil
	}
	ts, err := s.tokens(ctx)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	s.authClient = oauth2.NewClient(ctx, ts)
	return s.authClient, nil
}

// resolve determines the project and the storage settings. Settings given
// explicitly are kept; only the missing ones are read from the project's
// runtime configuration.
func (s *Session) resolve(ctx context.Context) error {
	if s.resolved {
		return s.settingsErr
	}
	s.resolved = true
	s.settingsErr = s.doResolve(ctx)
	return s.settingsErr
}

func (s *Session) doResolve(ctx context.Context) error {
	s.project = s.opts.Project
	if s.project == "" {
		p, err := s.finder.Find(ctx)
		if err != nil {
			return err
		}
		s.project = p
	}
	s.log.Debug().Str("project", s.project).Msg("current project set")

	if s.opts.GSLocation == "" || s.opts.GSSoftware == "" {
		client, err := s.auth(ctx)
		if err != nil {
			return err
		}
		svc, err := NewRuntimeConfigService(ctx, client, s.opts.RuntimeConfigEndpoint)
		if err != nil {
			return err
		}
		ps, err := FetchProjectSettings(ctx, svc, s.project, s.log)
		if err != nil {
			return err
		}
		if s.opts.GSLocation == "" {
			s.opts.GSLocation = ps.GSLocation
		}
		if s.opts.GSSoftware == "" {
			s.opts.GSSoftware = ps.GSSoftware
		}
	}

	if s.opts.GSLocation == "" {
		return engine.NewConsistencyError(fmt.Sprintf("project '%s' has not configured the 'gs_location'", s.project)).
			WithCode(engine.ErrCodeConfig)
	}
	if s.opts.GSSoftware == "" {
		return engine.NewConsistencyError(fmt.Sprintf("project '%s' has not configured the 'gs_software'", s.project)).
			WithCode(engine.ErrCodeConfig)
	}
	b, err := SanitizeBucket(s.opts.GSSoftware)
	if err != nil {
		return engine.NewConsistencyError(fmt.Sprintf("project '%s' has invalid config value gs_software=%s",
			s.project, s.opts.GSSoftware)).
			WithCode(engine.ErrCodeConfig)
	}
	s.opts.GSSoftware = b
	s.log.Debug().Str("gs_location", s.opts.GSLocation).Str("gs_software", b).Msg("storage settings resolved")
	return nil
}

// Project returns the resolved project.
func (s *Session) Project(ctx context.Context) (string, error) {
	if err := s.resolve(ctx); err != nil {
		return "", err
	}
	return s.project, nil
}

// Bucket returns the resolved software bucket name.
func (s *Session) Bucket(ctx context.Context) (string, error) {
	if err := s.resolve(ctx); err != nil {
		return "", err
	}
	return s.opts.GSSoftware, nil
}

// RegistryHost returns the registry host images are probed at.
func (s *Session) RegistryHost(ctx context.Context) (string, error) {
	if s.opts.RegistryHost != "" {
		return s.opts.RegistryHost, nil
	}
	if err := s.resolve(ctx); err != nil {
		return "", err
	}
	return s.opts.GSLocation + ".gcr.io", nil
}

// tarballLocator creates the tarball locator on first use.
func (s *Session) tarballLocator(ctx context.Context) (*TarballLocator, error) {
	if s.tarballs != nil || s.tarErr != nil {
		return s.tarballs, s.tarErr
	}
	s.tarballs, s.tarErr = s.newTarballLocator(ctx)
	return s.tarballs, s.tarErr
}

func (s *Session) newTarballLocator(ctx context.Context) (*TarballLocator, error) {
	bucket, err := s.Bucket(ctx)
	if err != nil {
		return nil, err
	}
	if s.lister == nil {
		client, err := s.auth(ctx)
		if err != nil {
			return nil, err
		}
		gcs, err := storage.NewClient(ctx, option.WithHTTPClient(client))
		if err != nil {
			return nil, engine.NewRemoteError("cannot create storage client", err)
		}
		s.gcs = gcs
		s.lister = NewGCSLister(gcs)
	}

	warn, max := s.opts.WarnThreshold, s.opts.MaxObjects
	if warn <= 0 {
		warn = DefaultWarnThreshold
	}
	if max <= 0 {
		max = DefaultMaxObjects
	}
	return NewTarballLocator(s.lister, bucket,
		WithThresholds(warn, max),
		WithTarballLogger(s.log),
		WithListingHook(s.onListed),
	), nil
}

// imageLocator creates the image locator on first use.
func (s *Session) imageLocator(ctx context.Context) (*ImageLocator, error) {
	if s.images != nil || s.imgErr != nil {
		return s.images, s.imgErr
	}
	s.images, s.imgErr = s.newImageLocator(ctx)
	return s.images, s.imgErr
}

func (s *Session) newImageLocator(ctx context.Context) (*ImageLocator, error) {
	project, err := s.Project(ctx)
	if err != nil {
		return nil, err
	}
	host, err := s.RegistryHost(ctx)
	if err != nil {
		return nil, err
	}
	ts, err := s.tokens(ctx)
	if err != nil {
		return nil, err
	}
	prober := &RegistryClient{
		Auth:      GoogleAuthenticator(ts),
		Transport: s.httpClient.Transport,
		Insecure:  s.opts.RegistryInsecure,
		Log:       s.log,
	}
	return NewImageLocator(prober, host, project, s.log), nil
}

// Locators returns the locator dispatch table backed by this session.
// Builders and images live in the same registry.
func (s *Session) Locators() engine.Locators {
	tar := engine.LocatorFunc(func(ctx context.Context, name, version string) (string, bool, error) {
		l, err := s.tarballLocator(ctx)
		if err != nil {
			return "", false, err
		}
		return l.Locate(ctx, name, version)
	})
	img := engine.LocatorFunc(func(ctx context.Context, name, version string) (string, bool, error) {
		l, err := s.imageLocator(ctx)
		if err != nil {
			return "", false, err
		}
		return l.Locate(ctx, name, version)
	})
	return engine.Locators{Image: img, Builder: img, Tar: tar}
}

// Close releases the storage client, if one was created.
func (s *Session) Close() error {
	if s.gcs == nil {
		return nil
	}
	return s.gcs.Close()
}
