package storage

// files.go: JSON documents for state that is rewritten whole every cycle.
//
// Each document is written to <path>.tmp and renamed over <path>, so a crash
// leaves either the old or the new file. A stale .tmp is removed on load.
// Loading never fails on content: undecodable records are skipped and an
// unreadable document is moved to <path>.corrupt.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// FileStore implements ports.PositionStore, ports.StopOrderStore and
// ports.CooldownStore on three JSON files.
type FileStore struct {
	positionsPath string
	stopsPath     string
	cooldownsPath string

	mu sync.Mutex
}

// NewFileStore creates a FileStore. The cooldowns file lives next to the
// stop orders file.
func NewFileStore(positionsPath, stopOrdersPath string) *FileStore {
	return &FileStore{
		positionsPath: positionsPath,
		stopsPath:     stopOrdersPath,
		cooldownsPath: filepath.Join(filepath.Dir(stopOrdersPath), "cooldowns.json"),
	}
}

// LoadPositions returns the persisted ledger. A missing file is an empty
// ledger. Records that do not decode are skipped and counted.
func (s *FileStore) LoadPositions(ctx context.Context) ([]domain.Position, int, error) {
	var raw []json.RawMessage
	if err := s.read(s.positionsPath, &raw); err != nil {
		return nil, 0, fmt.Errorf("storage.LoadPositions: %w", err)
	}
	out := make([]domain.Position, 0, len(raw))
	skipped := 0
	for i, r := range raw {
		var p domain.Position
		if err := json.Unmarshal(r, &p); err != nil {
			slog.Warn("storage: skipping undecodable position", "file", s.positionsPath, "index", i, "err", err)
			skipped++
			continue
		}
		out = append(out, p)
	}
	return out, skipped, nil
}

// SavePositions rewrites the ledger document.
func (s *FileStore) SavePositions(ctx context.Context, positions []domain.Position) error {
	if positions == nil {
		positions = []domain.Position{}
	}
	if err := s.write(s.positionsPath, positions); err != nil {
		return fmt.Errorf("storage.SavePositions: %w", err)
	}
	return nil
}

// LoadStopOrders returns exit order metadata keyed by market id.
func (s *FileStore) LoadStopOrders(ctx context.Context) (map[string]domain.StopOrder, error) {
	var raw map[string]json.RawMessage
	if err := s.read(s.stopsPath, &raw); err != nil {
		return nil, fmt.Errorf("storage.LoadStopOrders: %w", err)
	}
	return decodeEntries[domain.StopOrder](s.stopsPath, raw), nil
}

// SaveStopOrders rewrites the stop order document.
func (s *FileStore) SaveStopOrders(ctx context.Context, orders map[string]domain.StopOrder) error {
	if orders == nil {
		orders = map[string]domain.StopOrder{}
	}
	if err := s.write(s.stopsPath, orders); err != nil {
		return fmt.Errorf("storage.SaveStopOrders: %w", err)
	}
	return nil
}

// LoadCooldowns returns stop-loss cooldowns keyed by event key.
func (s *FileStore) LoadCooldowns(ctx context.Context) (map[string]domain.Cooldown, error) {
	var raw map[string]json.RawMessage
	if err := s.read(s.cooldownsPath, &raw); err != nil {
		return nil, fmt.Errorf("storage.LoadCooldowns: %w", err)
	}
	return decodeEntries[domain.Cooldown](s.cooldownsPath, raw), nil
}

// SaveCooldowns rewrites the cooldown document.
func (s *FileStore) SaveCooldowns(ctx context.Context, cooldowns map[string]domain.Cooldown) error {
	if cooldowns == nil {
		cooldowns = map[string]domain.Cooldown{}
	}
	if err := s.write(s.cooldownsPath, cooldowns); err != nil {
		return fmt.Errorf("storage.SaveCooldowns: %w", err)
	}
	return nil
}

// decodeEntries decodes each entry of a keyed document on its own, skipping
// the ones that do not decode.
func decodeEntries[T any](path string, raw map[string]json.RawMessage) map[string]T {
	out := make(map[string]T, len(raw))
	for k, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			slog.Warn("storage: skipping undecodable entry", "file", path, "key", k, "err", err)
			continue
		}
		out[k] = v
	}
	return out
}

// read decodes the document at path into out, which must be a pointer to a
// slice or map of json.RawMessage. A missing or empty file leaves out
// untouched. A file whose top level does not decode is renamed to
// <path>.corrupt and also reads as empty.
func (s *FileStore) read(path string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = os.Remove(path + ".tmp")

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		corrupt := path + ".corrupt"
		if rerr := os.Rename(path, corrupt); rerr != nil {
			return fmt.Errorf("quarantine %s: %w", path, rerr)
		}
		slog.Warn("storage: unreadable document moved aside, starting empty", "file", path, "moved_to", corrupt, "err", err)
		switch v := out.(type) {
		case *[]json.RawMessage:
			*v = nil
		case *map[string]json.RawMessage:
			*v = nil
		}
	}
	return nil
}

func (s *FileStore) write(path string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
