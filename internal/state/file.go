package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileManager implements the Manager interface using one JSON file per
// script in a directory. Locks are separate files holding their owner and expiry.
type FileManager struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileManager creates a new file-based state manager, creating baseDir if needed
func NewFileManager(baseDir string) (*FileManager, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %v", err)
	}
	return &FileManager{baseDir: baseDir}, nil
}

func (m *FileManager) GetState(ctx context.Context, script string) (*RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.readState(m.stateFile(script))
}

func (m *FileManager) SaveState(ctx context.Context, state *RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %v", err)
	}
	if err := os.WriteFile(m.stateFile(state.Script), data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %v", err)
	}
	return nil
}

func (m *FileManager) DeleteState(ctx context.Context, script string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.stateFile(script)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %v", err)
	}
	return nil
}

func (m *FileManager) ListStates(ctx context.Context) ([]*RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %v", err)
	}

	var states []*RunState
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".state" {
			continue
		}
		state, err := m.readState(filepath.Join(m.baseDir, entry.Name()))
		if err != nil || state == nil {
			continue // Skip unreadable states
		}
		states = append(states, state)
	}

	sortStates(states)
	return states, nil
}

func (m *FileManager) LockState(ctx context.Context, script string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.lockFile(script)
	release, err := acquireGuard(ctx, path)
	if err != nil {
		return "", false, err
	}
	defer release()

	existing, err := readLock(path)
	if err != nil {
		return "", false, err
	}
	if existing != nil && existing.Expires.After(time.Now()) {
		return "", false, nil
	}

	owner := newOwner()
	data, err := json.Marshal(lock{Owner: owner, Expires: time.Now().Add(ttl)})
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal lock: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", false, fmt.Errorf("failed to write lock file: %v", err)
	}
	return owner, true, nil
}

func (m *FileManager) UnlockState(ctx context.Context, script, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.lockFile(script)
	release, err := acquireGuard(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	existing, err := readLock(path)
	if err != nil || existing == nil || existing.Owner != owner {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %v", err)
	}
	return nil
}

// guardTimeout is how old a guard file must be before it is considered
// abandoned by a crashed process
const guardTimeout = 10 * time.Second

// acquireGuard serializes lock changes between processes sharing the state
// directory. The guard file is created exclusively; whoever creates it may
// read and write the lock file until release is called.
func acquireGuard(ctx context.Context, lockPath string) (func(), error) {
	guard := lockPath + ".guard"
	for {
		f, err := os.OpenFile(guard, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			f.Close()
			return func() { os.Remove(guard) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock guard: %v", err)
		}

		if info, err := os.Stat(guard); err == nil && time.Since(info.ModTime()) > guardTimeout {
			os.Remove(guard)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func readLock(path string) (*lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock file: %v", err)
	}

	var l lock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %v", err)
	}
	return &l, nil
}

func (m *FileManager) readState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %v", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %v", err)
	}
	return &state, nil
}

func (m *FileManager) stateFile(script string) string {
	return filepath.Join(m.baseDir, stateName(script)+".state")
}

func (m *FileManager) lockFile(script string) string {
	return filepath.Join(m.baseDir, stateName(script)+".lock")
}

// stateName turns a script path into a short name that is safe both as a
// file name and as a Kubernetes object name.
func stateName(script string) string {
	sum := sha256.Sum256([]byte(script))

	base := strings.TrimSuffix(filepath.Base(script), filepath.Ext(script))
	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if len(name) > 40 {
		name = strings.TrimRight(name[:40], "-")
	}
	if name == "" {
		name = "script"
	}
	return name + "-" + hex.EncodeToString(sum[:5])
}
