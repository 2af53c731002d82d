package kbsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// DoneSet records which questions the batch importer has already written.
// Add persists synchronously; membership is only added after a successful
// source-store write, so a crash loses at most the in-flight record.
type DoneSet interface {
	Load(ctx context.Context) error
	Contains(question string) bool
	Add(ctx context.Context, question string) error
	Entries() []string
	Close() error
}

func BuildDoneSetFromDSN(dsn string) (DoneSet, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: done set dsn is required", ErrInvalidInput)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileDoneSet(path), nil
	case "memory", "mem", "inmem":
		return NewMemoryDoneSet(), nil
	case "postgres", "postgresql":
		return NewPostgresDoneSet(dsn)
	default:
		return nil, fmt.Errorf("unsupported done set scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	} else if host := strings.TrimSpace(parsed.Host); host != "" {
		path = filepath.Join(host, path)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

type FileDoneSet struct {
	path  string
	mu    sync.Mutex
	items map[string]struct{}
	order []string
}

func NewFileDoneSet(path string) *FileDoneSet {
	return &FileDoneSet{
		path:  strings.TrimSpace(path),
		items: map[string]struct{}{},
	}
}

// Load reads the checkpoint file, a JSON array of question strings. A missing
// file is an empty set, not an error.
func (s *FileDoneSet) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	s.items = make(map[string]struct{}, len(entries))
	s.order = s.order[:0]
	for _, entry := range entries {
		if _, seen := s.items[entry]; seen {
			continue
		}
		s.items[entry] = struct{}{}
		s.order = append(s.order, entry)
	}
	return nil
}

func (s *FileDoneSet) Contains(question string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[question]
	return ok
}

func (s *FileDoneSet) Add(ctx context.Context, question string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[question]; ok {
		return nil
	}
	s.items[question] = struct{}{}
	s.order = append(s.order, question)
	if err := s.saveLocked(); err != nil {
		delete(s.items, question)
		s.order = s.order[:len(s.order)-1]
		return err
	}
	return nil
}

func (s *FileDoneSet) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *FileDoneSet) Close() error {
	return nil
}

func (s *FileDoneSet) saveLocked() error {
	data, err := json.Marshal(s.order)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

type MemoryDoneSet struct {
	mu    sync.Mutex
	items map[string]struct{}
	order []string
}

func NewMemoryDoneSet() *MemoryDoneSet {
	return &MemoryDoneSet{items: map[string]struct{}{}}
}

func (s *MemoryDoneSet) Load(ctx context.Context) error {
	return nil
}

func (s *MemoryDoneSet) Contains(question string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[question]
	return ok
}

func (s *MemoryDoneSet) Add(ctx context.Context, question string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[question]; ok {
		return nil
	}
	s.items[question] = struct{}{}
	s.order = append(s.order, question)
	return nil
}

func (s *MemoryDoneSet) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *MemoryDoneSet) Close() error {
	return nil
}

const (
	postgresDoneTableName       = "kbsync_import_done"
	postgresDoneOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type PostgresDoneSet struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB

	mu    sync.Mutex
	items map[string]struct{}
}

func NewPostgresDoneSet(dsn string) (*PostgresDoneSet, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresDoneSet{
		dsn:       dsn,
		tableName: postgresDoneTableName,
		openDB:    sql.Open,
		items:     map[string]struct{}{},
	}, nil
}

func (s *PostgresDoneSet) Load(ctx context.Context) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresDoneOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT question FROM %s", postgresQuoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	items := map[string]struct{}{}
	for rows.Next() {
		var question string
		if err := rows.Scan(&question); err != nil {
			return err
		}
		items[question] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

func (s *PostgresDoneSet) Contains(question string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[question]
	return ok
}

func (s *PostgresDoneSet) Add(ctx context.Context, question string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresDoneOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (question, completed_at)
		VALUES ($1, NOW())
		ON CONFLICT (question) DO NOTHING`, postgresQuoteIdentifier(s.tableName))
	if _, err := s.db.ExecContext(ctx, query, question); err != nil {
		return err
	}
	s.mu.Lock()
	s.items[question] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *PostgresDoneSet) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.items))
	for question := range s.items {
		out = append(out, question)
	}
	sort.Strings(out)
	return out
}

func (s *PostgresDoneSet) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresDoneSet) ensureReady(ctx context.Context) error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(ctx, postgresDoneOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				question TEXT PRIMARY KEY,
				completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
