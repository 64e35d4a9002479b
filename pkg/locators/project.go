package locators

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/compute/metadata"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	runtimeconfig "google.golang.org/api/runtimeconfig/v1beta1"

	"github.com/burrmill/miller/pkg/engine"
)

// cloudPlatformScope is requested for every Google API call.
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Environment variables naming the active project, in lookup order.
var projectEnvVars = []string{"CLOUDSDK_CORE_PROJECT", "GOOGLE_CLOUD_PROJECT"}

// ProjectFinder discovers the active Google Cloud project. The function
// fields default to the real environment; tests replace them.
type ProjectFinder struct {
	// Lookup reads an environment variable.
	Lookup func(string) (string, bool)

	// Credentials finds application default credentials.
	Credentials func(ctx context.Context) (*google.Credentials, error)

	// OnGCE reports whether the process runs on Compute Engine.
	OnGCE func() bool

	// MetadataProject reads the project from the metadata server.
	MetadataProject func(ctx context.Context) (string, error)

	Log zerolog.Logger
}

// NewProjectFinder returns a finder looking at the real environment.
func NewProjectFinder(log zerolog.Logger) *ProjectFinder {
	return &ProjectFinder{
		Lookup: os.LookupEnv,
		Credentials: func(ctx context.Context) (*google.Credentials, error) {
			return google.FindDefaultCredentials(ctx, cloudPlatformScope)
		},
		OnGCE:           metadata.OnGCE,
		MetadataProject: metadata.ProjectIDWithContext,
		Log:             log,
	}
}

// Find returns the active project from, in order, the environment, the
// application default credentials, and the metadata server.
func (f *ProjectFinder) Find(ctx context.Context) (string, error) {
	for _, v := range projectEnvVars {
		if p, ok := f.Lookup(v); ok && p != "" {
			f.Log.Debug().Str("project", p).Msgf("project set from %s", v)
			return p, nil
		}
	}

	if creds, err := f.Credentials(ctx); err != nil {
		f.Log.Debug().Err(err).Msg("no application default credentials")
	} else if creds.ProjectID != "" {
		f.Log.Debug().Str("project", creds.ProjectID).Msg("project set from application default credentials")
		return creds.ProjectID, nil
	}

	if f.OnGCE() {
		p, err := f.MetadataProject(ctx)
		if err != nil {
			return "", engine.NewRemoteError("cannot read the project from the metadata server", err).
				WithCode(engine.ErrCodeConfig)
		}
		if p != "" {
			f.Log.Debug().Str("project", p).Msg("project set from the metadata server")
			return p, nil
		}
	}

	return "", engine.NewRemoteError("cannot determine active project. Use \"gcloud config list\" to check "+
		"your local configuration, or pass --project", nil).
		WithCode(engine.ErrCodeConfig)
}

// ProjectSettings are the storage settings of a project.
type ProjectSettings struct {
	// GSLocation is the registry multiregion, e.g. "us".
	GSLocation string

	// GSSoftware is the software bucket, possibly with the gs:// prefix.
	GSSoftware string
}

// NewRuntimeConfigService creates a runtimeconfig API client sending
// requests through client. An empty endpoint selects the public API.
func NewRuntimeConfigService(ctx context.Context, client *http.Client, endpoint string) (*runtimeconfig.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := runtimeconfig.NewService(ctx, opts...)
	if err != nil {
		return nil, engine.NewRemoteError("cannot create runtimeconfig client", err).
			WithCode(engine.ErrCodeConfig)
	}
	return svc, nil
}

// FetchProjectSettings reads the "globals" variable of the "burrmill"
// runtime configuration. Its text is a whitespace-separated list of
// KEY=VALUE pairs; unknown keys are ignored.
func FetchProjectSettings(ctx context.Context, svc *runtimeconfig.Service, project string, log zerolog.Logger) (ProjectSettings, error) {
	name := fmt.Sprintf("projects/%s/configs/burrmill/variables/globals", project)
	v, err := svc.Projects.Configs.Variables.Get(name).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return ProjectSettings{}, engine.NewRemoteError(
				fmt.Sprintf("reading runtime config variable %s failed with HTTP error %d", name, gerr.Code), err).
				WithCode(engine.ErrCodeHTTPStatus).
				WithOperation("GET " + name)
		}
		return ProjectSettings{}, engine.NewRemoteError("cannot read project configuration", err).
			WithCode(engine.ErrCodeConfig).
			WithOperation("GET " + name)
	}

	text := v.Text
	if text == "" && v.Value != "" {
		b, err := base64.StdEncoding.DecodeString(v.Value)
		if err != nil {
			return ProjectSettings{}, engine.NewRemoteError("malformed project configuration", err).
				WithCode(engine.ErrCodeConfig).
				WithOperation("GET " + name)
		}
		text = string(b)
	}
	log.Debug().Msgf("got project config '%s'", text)

	var s ProjectSettings
	for _, kv := range strings.Fields(text) {
		k, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "gs_location":
			s.GSLocation = val
		case "gs_software":
			s.GSSoftware = val
		}
	}
	return s, nil
}
