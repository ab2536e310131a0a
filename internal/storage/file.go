package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	logx "postbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.tenants.snapshot.json (periodic snapshot of all documents)
//   - <prefix>.tenants.journal.jsonl (append-only journal of puts/deletes)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	tenants map[int64]TenantState
	writes  int
}

// journalRecord is one journal line. A nil State records a delete.
type journalRecord struct {
	TenantID int64        `json:"tenant_id"`
	State    *TenantState `json:"state,omitempty"`
}

const compactEvery = 256

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".tenants.snapshot.json"
	journalPath := prefix + ".tenants.journal.jsonl"

	tenants := map[int64]TenantState{}
	_ = loadSnapshot(snapPath, tenants)
	_ = replayJournal(journalPath, tenants)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		tenants:      tenants,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) GetTenant(ctx context.Context, tenantID int64) (TenantState, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tenants[tenantID]
	if !ok {
		return TenantState{}, false, nil
	}
	return st.Clone(), true, nil
}

func (s *fileStore) PutTenant(ctx context.Context, tenantID int64, st TenantState) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}

	cp := st.Clone()
	if err := s.appendLocked(journalRecord{TenantID: tenantID, State: &cp}); err != nil {
		return err
	}
	s.tenants[tenantID] = cp
	return nil
}

func (s *fileStore) DeleteTenant(ctx context.Context, tenantID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if _, ok := s.tenants[tenantID]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{TenantID: tenantID}); err != nil {
		return err
	}
	delete(s.tenants, tenantID)
	return nil
}

func (s *fileStore) ForEachTenant(ctx context.Context, fn func(tenantID int64, st TenantState) error) error {
	// Snapshot under lock, walk outside it so fn may call back into the store.
	s.mu.Lock()
	ids := make([]int64, 0, len(s.tenants))
	states := make([]TenantState, 0, len(s.tenants))
	for id, st := range s.tenants {
		ids = append(ids, id)
		states = append(states, st.Clone())
	}
	s.mu.Unlock()

	for i, id := range ids {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if err := fn(id, states[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("tenant snapshot compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := make(map[string]TenantState, len(s.tenants))
	for id, st := range s.tenants {
		snap[strconv.FormatInt(id, 10)] = st
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[int64]TenantState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]TenantState
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return nil
}

func replayJournal(path string, out map[int64]TenantState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.State == nil {
			delete(out, r.TenantID)
			continue
		}
		out[r.TenantID] = *r.State
	}
	return sc.Err()
}
