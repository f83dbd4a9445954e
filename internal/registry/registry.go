// Package registry defines the external container-registry client
// contract (§6) and a github.com/google/go-containerregistry-backed
// implementation, grounded on mirror/pkg/image/image.go and
// legacy/stream/http.go's authentication/reference handling.
package registry

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/sirupsen/logrus"

	"github.com/msg555/tplbuild/internal/tplerr"
)

// ManifestListEntry is one sub-manifest of a published manifest list.
type ManifestListEntry struct {
	Image   v1.Image
	OS      string
	Arch    string
	Variant string
}

//counterfeiter:generate . Client

// Client is the registry capability contract consumed by the resolver
// and executor.
type Client interface {
	// LookupDescriptor looks up repo:tag, returning ok=false (not an
	// error) when the reference does not exist.
	LookupDescriptor(ctx context.Context, ref string) (*remote.Descriptor, bool, error)
	// Image fetches the v1.Image for ref (single-arch, or the matching
	// platform selected from a manifest list when platform is non-empty).
	Image(ctx context.Context, ref string, platform string) (v1.Image, error)
	// WriteManifestList publishes an index/manifest-list to ref.
	WriteManifestList(ctx context.Context, ref string, entries []ManifestListEntry) error
	// DeleteRef deletes ref from the registry (prune use-case, §6).
	DeleteRef(ctx context.Context, ref string) error
}

type ggcrClient struct {
	keychain  authn.Keychain
	log       *logrus.Entry
	transport http.RoundTripper
}

// New constructs a Client backed by go-containerregistry using the
// default (Docker-config-file-aware) keychain. WithRateLimit may be
// passed to bound registry QPS per host (§C7 domain stack).
func New(log *logrus.Entry, opts ...Option) Client {
	c := &ggcrClient{keychain: authn.DefaultKeychain, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ggcrClient) transportOpts() []remote.Option {
	if c.transport == nil {
		return nil
	}
	return []remote.Option{remote.WithTransport(c.transport)}
}

func (c *ggcrClient) LookupDescriptor(ctx context.Context, ref string) (*remote.Descriptor, bool, error) {
	r, err := name.ParseReference(ref)
	if err != nil {
		return nil, false, tplerr.Wrap(tplerr.KindConfiguration, err, "parse reference "+ref)
	}
	desc, err := remote.Get(r, append([]remote.Option{remote.WithContext(ctx), remote.WithAuthFromKeychain(c.keychain)}, c.transportOpts()...)...)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, tplerr.Wrap(tplerr.KindRegistry, err, "lookup manifest "+ref)
	}
	return desc, true, nil
}

func (c *ggcrClient) Image(ctx context.Context, ref string, platform string) (v1.Image, error) {
	r, err := name.ParseReference(ref)
	if err != nil {
		return nil, tplerr.Wrap(tplerr.KindConfiguration, err, "parse reference "+ref)
	}
	opts := append([]remote.Option{remote.WithContext(ctx), remote.WithAuthFromKeychain(c.keychain)}, c.transportOpts()...)
	if platform != "" {
		p, err := v1.ParsePlatform(platform)
		if err != nil {
			return nil, tplerr.Wrap(tplerr.KindConfiguration, err, "parse platform "+platform)
		}
		opts = append(opts, remote.WithPlatform(*p))
	}
	img, err := remote.Image(r, opts...)
	if err != nil {
		return nil, tplerr.Wrap(tplerr.KindRegistry, err, "fetch image "+ref)
	}
	return img, nil
}

func (c *ggcrClient) WriteManifestList(ctx context.Context, ref string, entries []ManifestListEntry) error {
	r, err := name.ParseReference(ref)
	if err != nil {
		return tplerr.Wrap(tplerr.KindConfiguration, err, "parse reference "+ref)
	}

	idx := mutate.IndexMediaType(empty.Index, types.DockerManifestList)
	for _, e := range entries {
		idx = mutate.AppendManifests(idx, mutate.IndexAddendum{
			Add: e.Image,
			Descriptor: v1.Descriptor{
				Platform: &v1.Platform{
					OS:           e.OS,
					Architecture: e.Arch,
					Variant:      e.Variant,
				},
			},
		})
	}

	if err := remote.WriteIndex(r, idx, append([]remote.Option{remote.WithContext(ctx), remote.WithAuthFromKeychain(c.keychain)}, c.transportOpts()...)...); err != nil {
		return tplerr.Wrap(tplerr.KindRegistry, err, "write manifest list "+ref)
	}
	return nil
}

func (c *ggcrClient) DeleteRef(ctx context.Context, ref string) error {
	r, err := name.ParseReference(ref)
	if err != nil {
		return tplerr.Wrap(tplerr.KindConfiguration, err, "parse reference "+ref)
	}
	if err := remote.Delete(r, append([]remote.Option{remote.WithContext(ctx), remote.WithAuthFromKeychain(c.keychain)}, c.transportOpts()...)...); err != nil {
		return tplerr.Wrap(tplerr.KindRegistry, err, "delete ref "+ref)
	}
	return nil
}

func isNotFound(err error) bool {
	var te *transport.Error
	if errors.As(err, &te) {
		return te.StatusCode == 404
	}
	return false
}
