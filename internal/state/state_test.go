package state

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"
)

func managers(t *testing.T) map[string]Manager {
	t.Helper()
	fileManager, err := NewFileManager(t.TempDir())
	require.NoError(t, err)

	return map[string]Manager{
		"memory":     NewMemoryManager(),
		"file":       fileManager,
		"kubernetes": NewKubernetesManagerWithClient(fake.NewSimpleClientset(), "ci"),
	}
}

func TestManagers(t *testing.T) {
	ctx := context.Background()

	for name, manager := range managers(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("Basic Operations", func(t *testing.T) {
				got, err := manager.GetState(ctx, "sql/create_objects.sql")
				require.NoError(t, err)
				assert.Nil(t, got)

				state := &RunState{
					Script:          "sql/create_objects.sql",
					Status:          StatusRunning,
					TotalStatements: 3,
					StartedAt:       time.Now().UTC().Truncate(time.Second),
					LastUpdated:     time.Now().UTC().Truncate(time.Second),
				}
				require.NoError(t, manager.SaveState(ctx, state))

				state.StatementsApplied = 3
				state.Status = StatusCompleted
				require.NoError(t, manager.SaveState(ctx, state))

				got, err = manager.GetState(ctx, "sql/create_objects.sql")
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, StatusCompleted, got.Status)
				assert.Equal(t, 3, got.StatementsApplied)
				assert.True(t, state.StartedAt.Equal(got.StartedAt))

				require.NoError(t, manager.SaveState(ctx, &RunState{Script: "sql/a.sql", Status: StatusFailed}))
				states, err := manager.ListStates(ctx)
				require.NoError(t, err)
				require.Len(t, states, 2)
				assert.Equal(t, "sql/a.sql", states[0].Script)
				assert.Equal(t, "sql/create_objects.sql", states[1].Script)

				require.NoError(t, manager.DeleteState(ctx, "sql/create_objects.sql"))
				require.NoError(t, manager.DeleteState(ctx, "sql/create_objects.sql"))
				got, err = manager.GetState(ctx, "sql/create_objects.sql")
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("Locking Mechanism", func(t *testing.T) {
				owner, locked, err := manager.LockState(ctx, "sql/test_queries.sql", time.Minute)
				require.NoError(t, err)
				assert.True(t, locked)
				assert.NotEmpty(t, owner)

				other, locked, err := manager.LockState(ctx, "sql/test_queries.sql", time.Minute)
				require.NoError(t, err)
				assert.False(t, locked, "lock should be held")
				assert.Empty(t, other)

				require.NoError(t, manager.UnlockState(ctx, "sql/test_queries.sql", "someone-else"))
				_, locked, err = manager.LockState(ctx, "sql/test_queries.sql", time.Minute)
				require.NoError(t, err)
				assert.False(t, locked, "only the owner may release the lock")

				require.NoError(t, manager.UnlockState(ctx, "sql/test_queries.sql", owner))
				owner, locked, err = manager.LockState(ctx, "sql/test_queries.sql", time.Minute)
				require.NoError(t, err)
				assert.True(t, locked, "lock should be free after unlock")
				require.NoError(t, manager.UnlockState(ctx, "sql/test_queries.sql", owner))
			})

			t.Run("Expired Lock", func(t *testing.T) {
				stale, locked, err := manager.LockState(ctx, "sql/expired.sql", -time.Second)
				require.NoError(t, err)
				require.True(t, locked)

				current, locked, err := manager.LockState(ctx, "sql/expired.sql", time.Hour)
				require.NoError(t, err)
				assert.True(t, locked, "expired lock should be taken over")
				assert.NotEqual(t, stale, current)

				// the run that lost its lock finishes late
				require.NoError(t, manager.UnlockState(ctx, "sql/expired.sql", stale))

				_, locked, err = manager.LockState(ctx, "sql/expired.sql", time.Hour)
				require.NoError(t, err)
				assert.False(t, locked, "a late unlock must not release the current holder")

				require.NoError(t, manager.UnlockState(ctx, "sql/expired.sql", current))
				_, locked, err = manager.LockState(ctx, "sql/expired.sql", time.Hour)
				require.NoError(t, err)
				assert.True(t, locked)
			})
		})
	}
}

func TestMemoryManager_Concurrent(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryManager()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				err := manager.SaveState(ctx, &RunState{Script: "concurrent.sql", StatementsApplied: j})
				if err != nil {
					t.Errorf("SaveState failed in goroutine %d: %v", id, err)
				}
			}
		}(i)
	}
	wg.Wait()

	got, err := manager.GetState(ctx, "concurrent.sql")
	require.NoError(t, err)
	assert.Equal(t, 99, got.StatementsApplied)
}

func TestMemoryManager_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	manager := NewMemoryManager()

	state := &RunState{Script: "a.sql", Status: StatusRunning}
	require.NoError(t, manager.SaveState(ctx, state))
	state.Status = StatusFailed

	got, err := manager.GetState(ctx, "a.sql")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestFileManager_SharedDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < 8; i++ {
		manager, err := NewFileManager(dir)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, locked, err := manager.LockState(ctx, "sql/shared.sql", time.Hour)
			if err != nil {
				t.Errorf("LockState failed: %v", err)
				return
			}
			if locked {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired, "exactly one manager may hold the lock")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files may be left behind")
	assert.Equal(t, ".lock", filepath.Ext(entries[0].Name()))
}

func TestFileManager_ExpiredTakeoverRace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	seed, err := NewFileManager(dir)
	require.NoError(t, err)
	_, locked, err := seed.LockState(ctx, "sql/shared.sql", -time.Second)
	require.NoError(t, err)
	require.True(t, locked)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < 8; i++ {
		manager, err := NewFileManager(dir)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, locked, err := manager.LockState(ctx, "sql/shared.sql", time.Hour)
			if err != nil {
				t.Errorf("LockState failed: %v", err)
				return
			}
			if locked {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired, "exactly one manager may take over an expired lock")
}

func TestStateName(t *testing.T) {
	a := stateName("sql/Create_Objects.sql")
	b := stateName("other/Create_Objects.sql")

	assert.Regexp(t, `^create-objects-[0-9a-f]{10}$`, a)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^script-[0-9a-f]{10}$`, stateName("___.sql"))
}

func TestNewManager(t *testing.T) {
	m, err := NewManager("", "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryManager{}, m)

	m, err = NewManager(BackendFile, t.TempDir(), "")
	require.NoError(t, err)
	assert.IsType(t, &FileManager{}, m)

	_, err = NewManager(BackendFile, "", "")
	assert.Error(t, err)

	_, err = NewManager("etcd", "", "")
	assert.Error(t, err)
}
