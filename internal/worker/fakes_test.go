package worker

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/annolab/annopipe/internal/accounts"
	"github.com/annolab/annopipe/internal/jobs"
	"github.com/annolab/annopipe/internal/messages"
	"github.com/annolab/annopipe/internal/vault"
	"github.com/annolab/annopipe/shared/rabbitmq"
)

// fakeStore is an in-memory job record store with the same
// conditional/idempotent update semantics as the SQL store.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*jobs.Record

	failGet          error
	failTransition   error
	failMarkArchived error
	failMarkRestored error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*jobs.Record)}
}

func (s *fakeStore) put(rec *jobs.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.JobID] = &cp
}

func (s *fakeStore) Get(_ context.Context, jobID string) (*jobs.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	rec, ok := s.records[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) TryTransition(_ context.Context, jobID, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTransition != nil {
		return false, s.failTransition
	}
	rec, ok := s.records[jobID]
	if !ok || rec.JobStatus != from {
		return false, nil
	}
	rec.JobStatus = to
	return true, nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, jobID, resultKey, logKey string, completeTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[jobID]
	if !ok {
		return jobs.ErrJobNotFound
	}
	rec.JobStatus = jobs.StatusCompleted
	rec.CompleteTime.Int64 = completeTime
	rec.CompleteTime.Valid = true
	rec.HotResultKey.String = resultKey
	rec.HotResultKey.Valid = true
	rec.HotLogKey.String = logKey
	rec.HotLogKey.Valid = true
	return nil
}

func (s *fakeStore) MarkArchived(_ context.Context, jobID, archiveID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarkArchived != nil {
		return s.failMarkArchived
	}
	rec, ok := s.records[jobID]
	if !ok {
		return jobs.ErrJobNotFound
	}
	rec.ArchiveID.String = archiveID
	rec.ArchiveID.Valid = true
	rec.HotResultKey = sql.NullString{}
	return nil
}

func (s *fakeStore) MarkRestored(_ context.Context, jobID, resultKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarkRestored != nil {
		return s.failMarkRestored
	}
	rec, ok := s.records[jobID]
	if !ok {
		return jobs.ErrJobNotFound
	}
	rec.StorageStatus.String = jobs.StorageRestored
	rec.StorageStatus.Valid = true
	rec.HotResultKey.String = resultKey
	rec.HotResultKey.Valid = true
	rec.ArchiveID = sql.NullString{}
	return nil
}

func (s *fakeStore) ListArchivedByUser(_ context.Context, userID string) ([]jobs.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []jobs.Record
	for _, rec := range s.records {
		if rec.UserID == userID && rec.Archived() {
			recs = append(recs, *rec)
		}
	}
	return recs, nil
}

// fakeHot is an in-memory object store keyed by bucket/key.
type fakeHot struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string

	failDownload error
	failGet      error
}

func newFakeHot() *fakeHot {
	return &fakeHot{objects: make(map[string][]byte)}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func (h *fakeHot) Get(_ context.Context, bucket, key string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failGet != nil {
		return nil, h.failGet
	}
	data, ok := h.objects[objKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return data, nil
}

func (h *fakeHot) Put(_ context.Context, bucket, key string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.objects[objKey(bucket, key)] = data
	return nil
}

func (h *fakeHot) Delete(_ context.Context, bucket, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.objects, objKey(bucket, key))
	h.deleted = append(h.deleted, objKey(bucket, key))
	return nil
}

func (h *fakeHot) Download(_ context.Context, bucket, key, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failDownload != nil {
		return h.failDownload
	}
	data, ok := h.objects[objKey(bucket, key)]
	if !ok {
		return fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return os.WriteFile(path, data, 0o644)
}

func (h *fakeHot) Upload(_ context.Context, bucket, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.objects[objKey(bucket, key)] = data
	return nil
}

func (h *fakeHot) has(bucket, key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.objects[objKey(bucket, key)]
	return ok
}

type initiation struct {
	archiveID   string
	description string
	tier        vault.Tier
}

// fakeVault is an in-memory cold store with staged retrievals.
type fakeVault struct {
	mu          sync.Mutex
	archives    map[string][]byte
	retrievals  map[string][]byte
	uploads     int
	initiations []initiation

	noExpeditedCapacity bool
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		archives:   make(map[string][]byte),
		retrievals: make(map[string][]byte),
	}
}

func (v *fakeVault) Upload(_ context.Context, data []byte) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.uploads++
	id := fmt.Sprintf("archive-%d", v.uploads)
	v.archives[id] = data
	return id, nil
}

func (v *fakeVault) InitiateRetrieval(_ context.Context, archiveID, description string, tier vault.Tier) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.initiations = append(v.initiations, initiation{archiveID, description, tier})
	if tier == vault.TierExpedited && v.noExpeditedCapacity {
		return "", vault.ErrInsufficientCapacity
	}
	data, ok := v.archives[archiveID]
	if !ok {
		return "", fmt.Errorf("archive %s not found", archiveID)
	}
	id := fmt.Sprintf("retrieval-%d", len(v.retrievals)+1)
	v.retrievals[id] = data
	return id, nil
}

func (v *fakeVault) ReadRetrievalOutput(_ context.Context, retrievalJobID string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	data, ok := v.retrievals[retrievalJobID]
	if !ok {
		return nil, fmt.Errorf("retrieval %s not found", retrievalJobID)
	}
	return data, nil
}

func (v *fakeVault) DeleteArchive(_ context.Context, archiveID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.archives, archiveID)
	return nil
}

// fakeDirectory serves profiles from a map.
type fakeDirectory struct {
	profiles map[string]*accounts.Profile
	failErr  error
}

func (d *fakeDirectory) GetProfile(_ context.Context, userID string) (*accounts.Profile, error) {
	if d.failErr != nil {
		return nil, d.failErr
	}
	p, ok := d.profiles[userID]
	if !ok {
		return nil, accounts.ErrAccountNotFound
	}
	cp := *p
	return &cp, nil
}

type sentMessage struct {
	queue string
	pub   rabbitmq.Publishing
}

// fakeSender records published queue messages.
type fakeSender struct {
	mu      sync.Mutex
	sent    []sentMessage
	failErr error
}

func (s *fakeSender) Send(_ context.Context, queue string, p rabbitmq.Publishing) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{queue: queue, pub: p})
	return nil
}

// fakeNotifier records completion notices.
type fakeNotifier struct {
	notices []messages.CompletionNotice
	failErr error
}

func (n *fakeNotifier) JobCompleted(_ context.Context, notice messages.CompletionNotice) error {
	if n.failErr != nil {
		return n.failErr
	}
	n.notices = append(n.notices, notice)
	return nil
}

// fakeLauncher records launched jobs.
type fakeLauncher struct {
	launched []string
	failErr  error
}

func (l *fakeLauncher) Launch(inputPath, keyPrefix, jobID, fileName string) error {
	if l.failErr != nil {
		return l.failErr
	}
	l.launched = append(l.launched, jobID)
	return nil
}
