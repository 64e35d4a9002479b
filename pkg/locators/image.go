package locators

import (
	"context"

	"github.com/rs/zerolog"
)

// DefaultTag is probed for unversioned images.
const DefaultTag = "latest"

// ImageLocator finds container images named HOST/PROJECT/NAME:TAG, where
// the tag is the target version.
type ImageLocator struct {
	prober  ManifestProber
	host    string
	project string
	log     zerolog.Logger
}

// NewImageLocator creates a locator for images of project in the
// registry at host, e.g. "us.gcr.io".
func NewImageLocator(prober ManifestProber, host, project string, log zerolog.Logger) *ImageLocator {
	return &ImageLocator{prober: prober, host: host, project: project, log: log}
}

// Locate implements engine.Locator.
func (l *ImageLocator) Locate(ctx context.Context, name, version string) (string, bool, error) {
	tag := version
	if tag == "" {
		tag = DefaultTag
	}
	repo := l.project + "/" + name
	ref := l.host + "/" + repo + ":" + tag

	found, err := l.prober.ProbeManifest(ctx, l.host, repo, tag)
	if err != nil {
		return "", false, err
	}
	if !found {
		l.log.Debug().Msgf("image %s does not exist", ref)
		return "", false, nil
	}
	l.log.Debug().Msgf("found existing image %s", ref)
	return "image " + ref, true, nil
}
