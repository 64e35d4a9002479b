package locators

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/burrmill/miller/pkg/engine"
)

// ManifestProber checks whether an image manifest exists in a registry.
type ManifestProber interface {
	ProbeManifest(ctx context.Context, host, repo, tag string) (bool, error)
}

// googleAuth presents a Google access token the way Container Registry and
// Artifact Registry expect it in the token exchange.
type googleAuth struct {
	ts oauth2.TokenSource
}

// GoogleAuthenticator returns registry credentials backed by ts.
func GoogleAuthenticator(ts oauth2.TokenSource) authn.Authenticator {
	return googleAuth{ts: ts}
}

// Authorization implements authn.Authenticator.
func (a googleAuth) Authorization() (*authn.AuthConfig, error) {
	tok, err := a.ts.Token()
	if err != nil {
		return nil, err
	}
	return &authn.AuthConfig{Username: "oauth2accesstoken", Password: tok.AccessToken}, nil
}

// RegistryClient probes a Docker registry v2 API with a HEAD request for
// the manifest. The registry's bearer challenge is answered with Auth.
type RegistryClient struct {
	// Auth supplies the credentials traded for a pull token. Nil means
	// anonymous access.
	Auth authn.Authenticator

	// Transport carries registry requests. It must not be an oauth2
	// transport, which would replace the registry's bearer token.
	Transport http.RoundTripper

	// Insecure uses http instead of https.
	Insecure bool

	Log zerolog.Logger
}

func (c *RegistryClient) options(ctx context.Context, auth authn.Authenticator) []remote.Option {
	tr := c.Transport
	if tr == nil {
		tr = remote.DefaultTransport
	}
	return []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuth(auth),
		remote.WithTransport(tr),
		remote.WithRetryStatusCodes(),
		remote.WithRetryBackoff(remote.Backoff{Steps: 1}),
	}
}

// ProbeManifest implements ManifestProber. 200 means the manifest exists,
// 404 that it does not; any other status is a remote error.
func (c *RegistryClient) ProbeManifest(ctx context.Context, host, repo, tag string) (bool, error) {
	var nopts []name.Option
	if c.Insecure {
		nopts = append(nopts, name.Insecure)
	}
	ref, err := name.NewTag(host+"/"+repo+":"+tag, nopts...)
	if err != nil {
		return false, engine.NewConsistencyError(fmt.Sprintf("invalid image reference %s/%s:%s: %v", host, repo, tag, err))
	}
	u := fmt.Sprintf("%s://%s/v2/%s/manifests/%s", ref.Context().Registry.Scheme(), host, repo, tag)
	op := http.MethodHead + " " + u

	auth := c.Auth
	if auth == nil {
		auth = authn.Anonymous
	}
	if _, err := auth.Authorization(); err != nil {
		return false, engine.NewRemoteError("cannot obtain registry credentials", err).
			WithCode(engine.ErrCodeAuthFailed).
			WithOperation(op)
	}

	_, err = remote.Head(ref, c.options(ctx, auth)...)
	if err == nil {
		c.Log.Debug().Str("manifest", u).Msg("manifest exists")
		return true, nil
	}

	var terr *transport.Error
	switch {
	case errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound:
		c.Log.Debug().Str("manifest", u).Msg("manifest does not exist")
		return false, nil
	case errors.As(err, &terr) && (terr.StatusCode == http.StatusUnauthorized || terr.StatusCode == http.StatusForbidden):
		return false, engine.NewRemoteError(
			fmt.Sprintf("registry %s refused access to %s with HTTP error %d", host, repo, terr.StatusCode), err).
			WithCode(engine.ErrCodeAuthFailed).
			WithOperation(op)
	case errors.As(err, &terr):
		return false, engine.NewRemoteError(
			fmt.Sprintf("a HEAD request to %s failed with HTTP error %d", u, terr.StatusCode), err).
			WithCode(engine.ErrCodeHTTPStatus).
			WithOperation(op)
	}
	return false, engine.NewRemoteError("manifest probe failed", err).WithOperation(op)
}
