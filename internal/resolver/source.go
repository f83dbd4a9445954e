package resolver

import (
	"context"
	"fmt"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/sirupsen/logrus"

	"github.com/msg555/tplbuild/internal/builddata"
	"github.com/msg555/tplbuild/internal/graph"
	"github.com/msg555/tplbuild/internal/registry"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// SourceOptions controls source-image resolution, resolving the draft
// ambiguity noted in spec.md §9: force_update defaults to false.
type SourceOptions struct {
	ForceUpdate bool
	CheckOnly   bool
}

// Resolver resolves Source and Base graph nodes against a registry
// client and the durable build-data store.
type Resolver struct {
	Registry  registry.Client
	Store     *builddata.Store
	Log       *logrus.Entry
}

// ResolveSource fills in n.Digest per §4.5's source-resolution algorithm.
func (r *Resolver) ResolveSource(ctx context.Context, n *graph.SourceNode, opts SourceOptions) error {
	if n.Digest != "" {
		return nil
	}

	if !opts.ForceUpdate {
		if digest, ok := r.Store.LookupSource(n.Repo, n.Tag, n.Platform); ok {
			n.Digest = digest
			return nil
		}
	}

	if opts.CheckOnly {
		return tplerr.New(tplerr.KindNoSourceImage, fmt.Sprintf("no cached digest for %s:%s (%s)", n.Repo, n.Tag, n.Platform))
	}

	ref := n.Repo + ":" + n.Tag
	digest, err := r.resolveDigestForPlatform(ctx, ref, n.Platform)
	if err != nil {
		return err
	}

	n.Digest = digest
	if err := r.Store.SetSource(n.Repo, n.Tag, n.Platform, digest); err != nil {
		return err
	}
	return nil
}

// resolveDigestForPlatform implements the three manifest cases from
// §4.5 step 5.
func (r *Resolver) resolveDigestForPlatform(ctx context.Context, ref, platform string) (string, error) {
	desc, ok, err := r.Registry.LookupDescriptor(ctx, ref)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", tplerr.New(tplerr.KindRegistry, "reference not found: "+ref)
	}

	wantPlatform, err := NormalizePlatform(platform)
	if err != nil {
		return "", err
	}

	if desc.MediaType.IsIndex() {
		idx, err := desc.ImageIndex()
		if err != nil {
			return "", tplerr.Wrap(tplerr.KindRegistry, err, "read manifest list "+ref)
		}
		manifest, err := idx.IndexManifest()
		if err != nil {
			return "", tplerr.Wrap(tplerr.KindRegistry, err, "read manifest list index "+ref)
		}
		for _, m := range manifest.Manifests {
			if m.Platform == nil {
				continue
			}
			arch, variant := NormalizeArchitecture(m.Platform.Architecture, m.Platform.Variant)
			if m.Platform.OS == wantPlatform.OS && arch == wantPlatform.Arch && variant == wantPlatform.Variant {
				return m.Digest.String(), nil
			}
		}
		return "", tplerr.New(tplerr.KindRegistry, "no matching platform "+platform+" in manifest list "+ref)
	}

	img, err := desc.Image()
	if err != nil {
		return "", tplerr.Wrap(tplerr.KindRegistry, err, "read image manifest "+ref)
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return "", tplerr.Wrap(tplerr.KindRegistry, err, "read image config "+ref)
	}

	gotPlatform := derivePlatform(cfg)
	if gotPlatform.OS != wantPlatform.OS || gotPlatform.Arch != wantPlatform.Arch || gotPlatform.Variant != wantPlatform.Variant {
		return "", tplerr.New(tplerr.KindRegistry, fmt.Sprintf("wrong architecture for %s: got %s want %s", ref, gotPlatform, wantPlatform))
	}
	return desc.Digest.String(), nil
}

func derivePlatform(cfg *v1.ConfigFile) Platform {
	arch, variant := NormalizeArchitecture(cfg.Architecture, cfg.Variant)
	return Platform{OS: cfg.OS, Arch: arch, Variant: variant}
}
