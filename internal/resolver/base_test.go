package resolver

import (
	"context"
	"path/filepath"
	"testing"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/msg555/tplbuild/internal/builddata"
	"github.com/msg555/tplbuild/internal/graph"
	"github.com/msg555/tplbuild/internal/registry"
)

// missingRegistry reports every reference as absent; used to exercise
// the rebuild path, which never needs the other Client methods.
type missingRegistry struct{}

func (missingRegistry) LookupDescriptor(ctx context.Context, ref string) (*remote.Descriptor, bool, error) {
	return nil, false, nil
}
func (missingRegistry) Image(ctx context.Context, ref string, platform string) (v1.Image, error) {
	panic("not used")
}
func (missingRegistry) WriteManifestList(ctx context.Context, ref string, entries []registry.ManifestListEntry) error {
	panic("not used")
}
func (missingRegistry) DeleteRef(ctx context.Context, ref string) error {
	panic("not used")
}

func newStore(t *testing.T) *builddata.Store {
	t.Helper()
	s, err := builddata.Load(filepath.Join(t.TempDir(), "build-data.json"))
	require.NoError(t, err)
	return s
}

func TestResolveBaseWithoutDereferenceNoCacheErrors(t *testing.T) {
	r := &Resolver{Store: newStore(t), Log: logrus.NewEntry(logrus.New())}
	n := &graph.BaseNode{Profile: "default", Stage: "builder", Platform: "linux/amd64"}
	_, err := r.ResolveBase(context.Background(), n, "registry.example.com/base", BaseOptions{})
	require.Error(t, err)
}

func TestResolveBaseWithoutDereferenceUsesCachedContentHash(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.SetBase("default", "builder", "linux/amd64", builddata.BaseRecord{
		BuildHash:   "abc123",
		ImageDigest: "sha256:deadbeef",
	}))
	r := &Resolver{Store: store, Log: logrus.NewEntry(logrus.New())}
	n := &graph.BaseNode{Profile: "default", Stage: "builder", Platform: "linux/amd64"}

	rebuilds, err := r.ResolveBase(context.Background(), n, "registry.example.com/base", BaseOptions{})
	require.NoError(t, err)
	require.False(t, rebuilds)
	require.Equal(t, "abc123", n.ContentHash)
	require.Equal(t, "sha256:deadbeef", n.Digest)
	require.Nil(t, n.Inner)
}

func TestResolveBaseDereferenceWithoutInnerErrors(t *testing.T) {
	r := &Resolver{Store: newStore(t), Log: logrus.NewEntry(logrus.New())}
	n := &graph.BaseNode{Profile: "default", Stage: "builder", Platform: "linux/amd64"}
	_, err := r.ResolveBase(context.Background(), n, "registry.example.com/base", BaseOptions{Dereference: true})
	require.Error(t, err)
}

func TestResolveBaseDereferenceRebuildsWhenNothingCached(t *testing.T) {
	store := newStore(t)
	r := &Resolver{Registry: missingRegistry{}, Store: store, Log: logrus.NewEntry(logrus.New())}
	n := &graph.BaseNode{
		Profile:  "default",
		Stage:    "builder",
		Platform: "linux/amd64",
		Inner:    &graph.ScratchNode{Platform: "linux/amd64"},
	}

	rebuilds, err := r.ResolveBase(context.Background(), n, "registry.example.com/base", BaseOptions{Dereference: true})
	require.NoError(t, err)
	require.True(t, rebuilds)
	require.NotEmpty(t, n.ContentHash)
	require.NotNil(t, n.Inner)
}

func TestResolveBaseDereferenceCollapsesWhenCachedHashMatches(t *testing.T) {
	store := newStore(t)
	inner := &graph.ScratchNode{Platform: "linux/amd64"}

	hashes, err := graph.HashGraph([]graph.Node{inner}, store.HashSalt(), false)
	require.NoError(t, err)
	contentHash := hashes[inner]

	require.NoError(t, store.SetBase("default", "builder", "linux/amd64", builddata.BaseRecord{
		BuildHash:   contentHash,
		ImageDigest: "sha256:cafef00d",
	}))

	r := &Resolver{Registry: missingRegistry{}, Store: store, Log: logrus.NewEntry(logrus.New())}
	n := &graph.BaseNode{
		Profile:  "default",
		Stage:    "builder",
		Platform: "linux/amd64",
		Inner:    inner,
	}

	rebuilds, err := r.ResolveBase(context.Background(), n, "registry.example.com/base", BaseOptions{Dereference: true})
	require.NoError(t, err)
	require.False(t, rebuilds)
	require.Equal(t, "sha256:cafef00d", n.Digest)
	require.Nil(t, n.Inner)
}
