package locators

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrmill/miller/pkg/engine"
)

// Tarball directory listing limits. A normal software bucket holds a few
// dozen tarballs.
const (
	DefaultWarnThreshold = 150
	DefaultMaxObjects    = 1000
)

const (
	// TarballsDir is the bucket "directory" holding tarballs.
	TarballsDir = "tarballs/"

	tarballSuffix   = ".tar.gz"
	versionMetadata = "version"
)

// ObjectAttrs is the subset of storage object attributes the tarball
// locator looks at.
type ObjectAttrs struct {
	// Name is the full object name, e.g. "tarballs/kaldi.tar.gz".
	Name string

	// Generation is the object generation number.
	Generation int64

	// Metadata is the user metadata of the object.
	Metadata map[string]string

	// Deleted is the time the object became non-current, or zero if the
	// object is current.
	Deleted time.Time
}

// ObjectQuery selects the objects to list.
type ObjectQuery struct {
	Bucket    string
	Prefix    string
	Delimiter string

	// Versions includes non-current object generations.
	Versions bool
}

// ObjectLister lists storage objects, calling fn for each. An error
// returned by fn stops the listing and is returned as is.
type ObjectLister interface {
	ListObjects(ctx context.Context, q ObjectQuery, fn func(ObjectAttrs) error) error
}

// candidate is a tarball that may satisfy a lookup.
type candidate struct {
	version    string
	current    bool
	name       string
	generation int64
}

// less orders candidates in match-first order: version descending, current
// before non-current, then name and generation descending. Objects without
// a version metadatum sort last.
func (c candidate) less(o candidate) bool {
	if c.version != o.version {
		return c.version > o.version
	}
	if c.current != o.current {
		return c.current
	}
	if c.name != o.name {
		return c.name > o.name
	}
	return c.generation > o.generation
}

// TarballOption configures a TarballLocator.
type TarballOption func(*TarballLocator)

// WithThresholds sets the listing size at which a warning is logged and
// the size at which listing fails.
func WithThresholds(warn, max int) TarballOption {
	return func(l *TarballLocator) {
		l.warnAt = warn
		l.maxObjects = max
	}
}

// WithTarballLogger sets the logger.
func WithTarballLogger(log zerolog.Logger) TarballOption {
	return func(l *TarballLocator) {
		l.log = log
	}
}

// WithListingHook registers a function called with the number of
// candidates once the listing is loaded.
func WithListingHook(fn func(candidates int)) TarballOption {
	return func(l *TarballLocator) {
		l.onListed = fn
	}
}

// TarballLocator finds tarballs in the tarballs/ directory of the software
// bucket. The directory is listed once, on first use, including
// non-current generations.
//
// A tarball matches NAME and VERSION if it is named NAME.tar.gz and its
// "version" metadatum equals VERSION, or, as a courtesy, if it is named
// NAME-VERSION.tar.gz and has no version metadatum. Non-current objects
// without the metadatum are ignored: the user deleted them.
type TarballLocator struct {
	lister     ObjectLister
	bucket     string
	warnAt     int
	maxObjects int
	onListed   func(int)
	log        zerolog.Logger

	cache  []candidate
	loaded bool
}

// NewTarballLocator creates a locator over the given bucket.
func NewTarballLocator(lister ObjectLister, bucket string, opts ...TarballOption) *TarballLocator {
	l := &TarballLocator{
		lister:     lister,
		bucket:     bucket,
		warnAt:     DefaultWarnThreshold,
		maxObjects: DefaultMaxObjects,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *TarballLocator) dirURL() string {
	return "gs://" + l.bucket + "/" + TarballsDir
}

// load lists the tarball directory into the candidate cache.
func (l *TarballLocator) load(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	var cache []candidate
	q := ObjectQuery{Bucket: l.bucket, Prefix: TarballsDir, Delimiter: "/", Versions: true}
	err := l.lister.ListObjects(ctx, q, func(o ObjectAttrs) error {
		if !strings.HasSuffix(o.Name, tarballSuffix) {
			return nil
		}
		c := candidate{
			version:    o.Metadata[versionMetadata],
			current:    o.Deleted.IsZero(),
			name:       o.Name[strings.LastIndexByte(o.Name, '/')+1:],
			generation: o.Generation,
		}
		if c.version == "" && !c.current {
			return nil
		}
		cache = append(cache, c)

		if len(cache) == l.warnAt {
			l.log.Warn().Msgf("the number of tarballs in %s is over %d. Did you put something there "+
				"that does not belong?", l.dirURL(), l.warnAt)
		}
		if len(cache) >= l.maxObjects {
			return engine.NewConsistencyError(fmt.Sprintf("the number of tarballs in %s is over %d. Clean it up",
				l.dirURL(), l.maxObjects)).
				WithCode(engine.ErrCodeTooManyObjects)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sort.SliceStable(cache, func(i, j int) bool { return cache[i].less(cache[j]) })
	l.cache = cache
	l.loaded = true
	if l.onListed != nil {
		l.onListed(len(cache))
	}
	l.log.Debug().Int("candidates", len(cache)).Msgf("loaded directory of %s", l.dirURL())
	if e := l.log.Trace(); e.Enabled() {
		lines := make([]string, len(cache))
		for i, c := range cache {
			lines[i] = fmt.Sprintf(">|   %q %v %s#%d", c.version, c.current, c.name, c.generation)
		}
		e.Msg("cached candidate list, in match-first order:\n" + strings.Join(lines, "\n"))
	}
	return nil
}

// Locate implements engine.Locator.
func (l *TarballLocator) Locate(ctx context.Context, name, version string) (string, bool, error) {
	if err := l.load(ctx); err != nil {
		return "", false, err
	}

	nameTgz := name + tarballSuffix
	nameVerTgz := ""
	if version != "" {
		nameVerTgz = name + "-" + version + tarballSuffix
	}
	for _, c := range l.cache {
		if (c.name == nameTgz && c.version == version) || (c.name == nameVerTgz && c.version == "") {
			res := fmt.Sprintf("gs %s%s#%d", l.dirURL(), c.name, c.generation)
			l.log.Debug().Str("name", name).Str("version", version).Msgf("found tarball %s", res)
			return res, true, nil
		}
	}
	l.log.Debug().Str("name", name).Str("version", version).Msg("no tarball found")
	return "", false, nil
}
