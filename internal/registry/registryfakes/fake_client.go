// Package registryfakes holds a hand-maintained stand-in for the
// counterfeiter-generated registry.Client fake, checked in so tests
// don't depend on `go generate` having been run. Shaped the way
// counterfeiter itself would emit it: one Stub func field and canned
// return values per method, behind a per-method mutex. Only
// LookupDescriptor records call counts and call arguments.
package registryfakes

import (
	"context"
	"sync"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/msg555/tplbuild/internal/registry"
)

type FakeClient struct {
	LookupDescriptorStub        func(context.Context, string) (*remote.Descriptor, bool, error)
	lookupDescriptorMutex       sync.RWMutex
	lookupDescriptorArgsForCall []struct {
		ctx context.Context
		ref string
	}
	lookupDescriptorReturns struct {
		result1 *remote.Descriptor
		result2 bool
		result3 error
	}

	ImageStub    func(context.Context, string, string) (v1.Image, error)
	imageMutex   sync.RWMutex
	imageReturns struct {
		result1 v1.Image
		result2 error
	}

	WriteManifestListStub    func(context.Context, string, []registry.ManifestListEntry) error
	writeManifestListMutex   sync.RWMutex
	writeManifestListReturns struct {
		result1 error
	}

	DeleteRefStub    func(context.Context, string) error
	deleteRefMutex   sync.RWMutex
	deleteRefReturns struct {
		result1 error
	}
}

var _ registry.Client = &FakeClient{}

func (f *FakeClient) LookupDescriptor(ctx context.Context, ref string) (*remote.Descriptor, bool, error) {
	f.lookupDescriptorMutex.Lock()
	f.lookupDescriptorArgsForCall = append(f.lookupDescriptorArgsForCall, struct {
		ctx context.Context
		ref string
	}{ctx, ref})
	f.lookupDescriptorMutex.Unlock()
	if f.LookupDescriptorStub != nil {
		return f.LookupDescriptorStub(ctx, ref)
	}
	return f.lookupDescriptorReturns.result1, f.lookupDescriptorReturns.result2, f.lookupDescriptorReturns.result3
}

func (f *FakeClient) LookupDescriptorReturns(desc *remote.Descriptor, ok bool, err error) {
	f.lookupDescriptorReturns = struct {
		result1 *remote.Descriptor
		result2 bool
		result3 error
	}{desc, ok, err}
}

func (f *FakeClient) LookupDescriptorCallCount() int {
	f.lookupDescriptorMutex.RLock()
	defer f.lookupDescriptorMutex.RUnlock()
	return len(f.lookupDescriptorArgsForCall)
}

func (f *FakeClient) LookupDescriptorArgsForCall(i int) (context.Context, string) {
	f.lookupDescriptorMutex.RLock()
	defer f.lookupDescriptorMutex.RUnlock()
	a := f.lookupDescriptorArgsForCall[i]
	return a.ctx, a.ref
}

func (f *FakeClient) Image(ctx context.Context, ref string, platform string) (v1.Image, error) {
	f.imageMutex.Lock()
	defer f.imageMutex.Unlock()
	if f.ImageStub != nil {
		return f.ImageStub(ctx, ref, platform)
	}
	return f.imageReturns.result1, f.imageReturns.result2
}

func (f *FakeClient) ImageReturns(img v1.Image, err error) {
	f.imageReturns = struct {
		result1 v1.Image
		result2 error
	}{img, err}
}

func (f *FakeClient) WriteManifestList(ctx context.Context, ref string, entries []registry.ManifestListEntry) error {
	f.writeManifestListMutex.Lock()
	defer f.writeManifestListMutex.Unlock()
	if f.WriteManifestListStub != nil {
		return f.WriteManifestListStub(ctx, ref, entries)
	}
	return f.writeManifestListReturns.result1
}

func (f *FakeClient) WriteManifestListReturns(err error) {
	f.writeManifestListReturns = struct{ result1 error }{err}
}

func (f *FakeClient) DeleteRef(ctx context.Context, ref string) error {
	f.deleteRefMutex.Lock()
	defer f.deleteRefMutex.Unlock()
	if f.DeleteRefStub != nil {
		return f.DeleteRefStub(ctx, ref)
	}
	return f.deleteRefReturns.result1
}

func (f *FakeClient) DeleteRefReturns(err error) {
	f.deleteRefReturns = struct{ result1 error }{err}
}
