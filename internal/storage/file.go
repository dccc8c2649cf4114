package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "parallax/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl (append-only JSON Lines, one record per retired entry)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsPath string
	runsFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	f, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:      log,
		runsPath: runsPath,
		runsFile: f,
	}, nil
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.runsFile == nil {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.runsFile.Write(b)
	return err
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.runsFile == nil {
		return nil, ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.runsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// The history file stays small enough in practice to scan linearly;
	// keep only the last `limit` records.
	var out []RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r RunRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			// Tolerate a torn trailing line from a crashed writer.
			s.log.Debug("skipping malformed run record", logx.Err(err))
			continue
		}
		out = append(out, r)
		if len(out) > limit {
			out = out[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) Close() error {
	if s == nil || s.runsFile == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.runsFile.Close()
	s.runsFile = nil
	return err
}
