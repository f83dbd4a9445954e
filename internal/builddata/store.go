// Package builddata implements the durable build-data record: a JSON
// file beside the build root caching source-image digests and
// base-image build records, plus the project's hash salt.
package builddata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/msg555/tplbuild/internal/tplerr"
)

// BaseRecord is the cached (build-hash, image-digest) pair for one
// (profile, stage, platform) base image.
type BaseRecord struct {
	BuildHash   string `json:"build_hash"`
	ImageDigest string `json:"image_digest"`
}

// Record is the on-disk build-data shape, matching §6's persisted JSON:
//
//	{
//	  "source": { repo: { tag: { platform: digest } } },
//	  "base":   { profile: { stage: { platform: {build_hash, image_digest} } } },
//	  "hash_salt": string
//	}
type Record struct {
	Source   map[string]map[string]map[string]string          `json:"source"`
	Base     map[string]map[string]map[string]BaseRecord       `json:"base"`
	HashSalt string                                            `json:"hash_salt"`
}

func newRecord() *Record {
	return &Record{
		Source: map[string]map[string]map[string]string{},
		Base:   map[string]map[string]map[string]BaseRecord{},
	}
}

// Store owns the single in-process writer lock for one build-data file.
type Store struct {
	path string
	mu   sync.Mutex
	rec  *Record
}

// Load reads the build-data file at path, creating a fresh record (with
// a freshly generated hash_salt) if the file does not yet exist.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		rec := newRecord()
		rec.HashSalt = uuid.NewString()
		return &Store{path: path, rec: rec}, nil
	}
	if err != nil {
		return nil, tplerr.Wrap(tplerr.KindInternal, err, "read build-data file "+path)
	}

	rec := newRecord()
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, tplerr.Wrap(tplerr.KindConfiguration, err, "parse build-data file "+path)
	}
	if rec.Source == nil {
		rec.Source = map[string]map[string]map[string]string{}
	}
	if rec.Base == nil {
		rec.Base = map[string]map[string]map[string]BaseRecord{}
	}
	if rec.HashSalt == "" {
		rec.HashSalt = uuid.NewString()
	}
	return &Store{path: path, rec: rec}, nil
}

// HashSalt returns the project's persisted hash salt.
func (s *Store) HashSalt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.HashSalt
}

// LookupSource returns the cached manifest digest for (repo, tag,
// platform), if present.
func (s *Store) LookupSource(repo, tag, platform string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byTag, ok := s.rec.Source[repo]; ok {
		if byPlatform, ok := byTag[tag]; ok {
			if digest, ok := byPlatform[platform]; ok {
				return digest, true
			}
		}
	}
	return "", false
}

// SetSource persists digest for (repo, tag, platform) and saves the
// record to disk.
func (s *Store) SetSource(repo, tag, platform, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTag, ok := s.rec.Source[repo]
	if !ok {
		byTag = map[string]map[string]string{}
		s.rec.Source[repo] = byTag
	}
	byPlatform, ok := byTag[tag]
	if !ok {
		byPlatform = map[string]string{}
		byTag[tag] = byPlatform
	}
	byPlatform[platform] = digest
	return s.saveLocked()
}

// LookupBase returns the cached base-image build record for (profile,
// stage, platform), if present.
func (s *Store) LookupBase(profile, stage, platform string) (BaseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byStage, ok := s.rec.Base[profile]; ok {
		if byPlatform, ok := byStage[stage]; ok {
			if rec, ok := byPlatform[platform]; ok {
				return rec, true
			}
		}
	}
	return BaseRecord{}, false
}

// SetBase persists rec for (profile, stage, platform) and saves the
// record to disk.
func (s *Store) SetBase(profile, stage, platform string, rec BaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStage, ok := s.rec.Base[profile]
	if !ok {
		byStage = map[string]map[string]BaseRecord{}
		s.rec.Base[profile] = byStage
	}
	byPlatform, ok := byStage[stage]
	if !ok {
		byPlatform = map[string]BaseRecord{}
		byStage[stage] = byPlatform
	}
	byPlatform[platform] = rec
	return s.saveLocked()
}

// saveLocked atomically persists the record: write to a sibling temp
// file, flush, then rename over the target. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.rec, "", "  ")
	if err != nil {
		return tplerr.Wrap(tplerr.KindInternal, err, "marshal build-data record")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".build-data-*.tmp")
	if err != nil {
		return tplerr.Wrap(tplerr.KindInternal, err, "create temp build-data file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return tplerr.Wrap(tplerr.KindInternal, err, "write temp build-data file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return tplerr.Wrap(tplerr.KindInternal, err, "sync temp build-data file")
	}
	if err := tmp.Close(); err != nil {
		return tplerr.Wrap(tplerr.KindInternal, err, "close temp build-data file")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return tplerr.Wrap(tplerr.KindInternal, err, "rename build-data file into place")
	}
	return nil
}
