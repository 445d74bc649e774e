package registry

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

type nopTransport struct{}

func (nopTransport) Send([]byte) error { return nil }
func (nopTransport) Close() error      { return nil }

func newSession(identity string) *Session {
	return NewSession(identity, uuid.New(), nopTransport{})
}

func TestRegistry_Add_Then_Get(t *testing.T) {
	req := require.New(t)
	registry := New()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	registry.now = func() time.Time { return at }
	session := newSession("alice")

	// Given an empty registry
	req.Zero(registry.Len())

	// When alice is added
	req.NoError(registry.Add(session))

	// Then she can be looked up and her connection time is stamped
	got, ok := registry.Get("alice")
	req.True(ok)
	req.Same(session, got)
	req.Equal(at, got.ConnectedAt())
	req.Equal([]string{"alice"}, registry.Snapshot())
}

func TestRegistry_Add_Duplicate_Keeps_Existing(t *testing.T) {
	req := require.New(t)
	registry := New()
	first := newSession("alice")
	second := newSession("alice")

	req.NoError(registry.Add(first))

	err := registry.Add(second)

	req.ErrorIs(err, ErrDuplicateIdentity)
	got, ok := registry.Get("alice")
	req.True(ok)
	req.Same(first, got)
	req.True(second.ConnectedAt().IsZero())
	req.Equal(1, registry.Len())
}

func TestRegistry_Remove_Absent_Is_NoOp(t *testing.T) {
	req := require.New(t)
	registry := New()
	req.NoError(registry.Add(newSession("alice")))

	req.False(registry.Remove("bob"))
	req.False(registry.Remove(""))

	req.Equal([]string{"alice"}, registry.Snapshot())
}

func TestRegistry_Remove_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := New()
	req.NoError(registry.Add(newSession("alice")))

	req.True(registry.Remove("alice"))
	req.False(registry.Remove("alice"))

	_, ok := registry.Get("alice")
	req.False(ok)
	req.Empty(registry.Snapshot())
}

func TestRegistry_RemoveSession_Ignores_Replacement(t *testing.T) {
	req := require.New(t)
	registry := New()
	old := newSession("alice")
	req.NoError(registry.Add(old))
	req.True(registry.Remove("alice"))

	// Given alice reconnected with a new session
	current := newSession("alice")
	req.NoError(registry.Add(current))

	// When a late failure targets the old session
	req.False(registry.RemoveSession(old))

	// Then the new session survives
	got, ok := registry.Get("alice")
	req.True(ok)
	req.Same(current, got)

	req.True(registry.RemoveSession(current))
	req.Zero(registry.Len())
}

func TestRegistry_Snapshot_Is_A_Sorted_Copy(t *testing.T) {
	req := require.New(t)
	registry := New()
	for _, id := range []string{"carol", "alice", "bob"} {
		req.NoError(registry.Add(newSession(id)))
	}

	snapshot := registry.Snapshot()
	req.Equal([]string{"alice", "bob", "carol"}, snapshot)

	// Mutating the registry does not affect an existing snapshot
	registry.Remove("bob")
	req.Equal([]string{"alice", "bob", "carol"}, snapshot)
	req.Equal([]string{"alice", "carol"}, registry.Snapshot())
}

func TestRegistry_Sessions_Returns_Copy(t *testing.T) {
	req := require.New(t)
	registry := New()
	req.NoError(registry.Add(newSession("alice")))
	req.NoError(registry.Add(newSession("bob")))

	sessions := registry.Sessions()
	req.Len(sessions, 2)
	ids := lo.Map(sessions, func(s *Session, _ int) string { return s.Identity() })
	req.ElementsMatch([]string{"alice", "bob"}, ids)
}

func TestRegistry_Concurrent_Operations_Stay_Consistent(t *testing.T) {
	req := require.New(t)
	registry := New()

	const workers = 16
	const rounds = 200
	known := make(map[string]struct{}, workers)
	for w := 0; w < workers; w++ {
		known[fmt.Sprintf("user-%d", w)] = struct{}{}
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if err := registry.Add(newSession(id)); err != nil {
					errs <- fmt.Errorf("add %s: %w", id, err)
					return
				}
				snapshot := registry.Snapshot()
				if !slices.Contains(snapshot, id) {
					errs <- fmt.Errorf("%s missing from snapshot after add", id)
					return
				}
				if !registry.Remove(id) {
					errs <- fmt.Errorf("%s vanished before remove", id)
					return
				}
			}
		}(fmt.Sprintf("user-%d", w))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			snapshot := registry.Snapshot()
			if !slices.IsSorted(snapshot) || len(lo.Uniq(snapshot)) != len(snapshot) {
				errs <- fmt.Errorf("torn snapshot %v", snapshot)
				return
			}
			for _, id := range snapshot {
				if _, ok := known[id]; !ok {
					errs <- fmt.Errorf("unknown identity %q in snapshot", id)
					return
				}
			}
		}
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}
	req.Zero(registry.Len())
	req.Empty(registry.Snapshot())
}
