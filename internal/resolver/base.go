package resolver

import (
	"context"

	"github.com/msg555/tplbuild/internal/builddata"
	"github.com/msg555/tplbuild/internal/graph"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// BaseOptions controls base-image resolution.
type BaseOptions struct {
	// Dereference, when true, computes the salted content hash of the
	// base's inner image graph. When false the resolver requires an
	// already-cached content hash (the invariant from §3: "without
	// dereference, require a cached content hash or fail").
	Dereference bool
}

// ResolveBase implements §4.5's base-resolution algorithm. It returns
// rebuilds=true when the stage must rebuild its base (the inner image is
// kept as n.Inner and the caller should append the base's external name
// as a push target), or false when the base collapses to its
// content-hash/digest form (the pull path).
func (r *Resolver) ResolveBase(ctx context.Context, n *graph.BaseNode, repo string, opts BaseOptions) (rebuilds bool, err error) {
	if opts.Dereference {
		if n.Inner == nil {
			return false, tplerr.New(tplerr.KindInternal, "dereference requested but base "+n.Stage+" has no inner image")
		}
		hashes, err := graph.HashGraph([]graph.Node{n.Inner}, r.Store.HashSalt(), false)
		if err != nil {
			return false, err
		}
		n.ContentHash = hashes[n.Inner]
	}

	if n.ContentHash == "" {
		rec, ok := r.Store.LookupBase(n.Profile, n.Stage, n.Platform)
		if !ok {
			return false, tplerr.New(tplerr.KindInternal, "no cached content hash for base "+n.Stage+" without dereference")
		}
		n.ContentHash = rec.BuildHash
		n.Digest = rec.ImageDigest
		n.Inner = nil
		return false, nil
	}

	ref := repo + ":" + n.ContentHash
	if desc, ok, lookupErr := r.Registry.LookupDescriptor(ctx, ref); lookupErr != nil {
		return false, lookupErr
	} else if ok {
		digest := desc.Digest.String()
		if err := r.Store.SetBase(n.Profile, n.Stage, n.Platform, builddata.BaseRecord{
			BuildHash:   n.ContentHash,
			ImageDigest: digest,
		}); err != nil {
			return false, err
		}
		n.Digest = digest
	}

	cached, ok := r.Store.LookupBase(n.Profile, n.Stage, n.Platform)
	if ok && cached.BuildHash == n.ContentHash {
		n.Digest = cached.ImageDigest
		n.Inner = nil
		return false, nil
	}

	return true, nil
}
