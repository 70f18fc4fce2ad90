package git

import (
	"errors"
	"io"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"
)

// lockedStorer serializes every object access to the repository store.
// go-git stores are not safe for interleaved use, so workers share the
// handle through this single lock while doing their pure computation outside.
type lockedStorer struct {
	storage.Storer
	mu sync.Mutex
}

func newLockedStorer(s storage.Storer) *lockedStorer {
	return &lockedStorer{Storer: s}
}

// exclusive runs fn with the store locked. fn must use the raw store.
func (s *lockedStorer) exclusive(fn func(raw storage.Storer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.Storer)
}

func (s *lockedStorer) EncodedObject(t plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.Storer.EncodedObject(t, h)
	if err != nil {
		return nil, err
	}
	return materialize(obj)
}

func (s *lockedStorer) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Storer.SetEncodedObject(obj)
}

func (s *lockedStorer) HasEncodedObject(h plumbing.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Storer.HasEncodedObject(h)
}

func (s *lockedStorer) EncodedObjectSize(h plumbing.Hash) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Storer.EncodedObjectSize(h)
}

// materialize reads a lazily-backed object (packfile entries) into memory so
// that it can be consumed after the lock is released.
func materialize(obj plumbing.EncodedObject) (plumbing.EncodedObject, error) {
	if mo, ok := obj.(*plumbing.MemoryObject); ok {
		return mo, nil
	}

	mo := &plumbing.MemoryObject{}
	mo.SetType(obj.Type())
	r, err := obj.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if _, err := io.Copy(mo, r); err != nil {
		return nil, err
	}
	return mo, nil
}

// scratchStorer is a private in-memory store layered over the shared one.
// Writes only land in the scratch layer, reads fall through to shared when
// the object is not found locally. Dropping the scratchStorer discards every
// object it created.
type scratchStorer struct {
	local  *memory.Storage
	shared storer.EncodedObjectStorer
}

func newScratchStorer(shared storer.EncodedObjectStorer) *scratchStorer {
	return &scratchStorer{
		local:  memory.NewStorage(),
		shared: shared,
	}
}

var errScratchAlternate = errors.New("scratch store does not support alternates")

func (s *scratchStorer) NewEncodedObject() plumbing.EncodedObject {
	return s.local.NewEncodedObject()
}

func (s *scratchStorer) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.Hash, error) {
	return s.local.SetEncodedObject(obj)
}

// EncodedObject tries the scratch layer first, then shared.
func (s *scratchStorer) EncodedObject(t plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	obj, err := s.local.EncodedObject(t, h)
	if err == nil {
		return obj, nil
	}
	return s.shared.EncodedObject(t, h)
}

func (s *scratchStorer) HasEncodedObject(h plumbing.Hash) error {
	if err := s.local.HasEncodedObject(h); err == nil {
		return nil
	}
	return s.shared.HasEncodedObject(h)
}

func (s *scratchStorer) EncodedObjectSize(h plumbing.Hash) (int64, error) {
	sz, err := s.local.EncodedObjectSize(h)
	if err == nil {
		return sz, nil
	}
	return s.shared.EncodedObjectSize(h)
}

// IterEncodedObjects only walks scratch objects; iterating the shared store
// is never needed for a replay.
func (s *scratchStorer) IterEncodedObjects(t plumbing.ObjectType) (storer.EncodedObjectIter, error) {
	return s.local.IterEncodedObjects(t)
}

func (s *scratchStorer) AddAlternate(string) error {
	return errScratchAlternate
}

// created returns how many objects the scratch layer holds.
func (s *scratchStorer) created() int {
	n := 0
	_ = s.local.ForEachObjectHash(func(plumbing.Hash) error {
		n++
		return nil
	})
	return n
}

var errSessionClosed = errors.New("replay session is closed")
