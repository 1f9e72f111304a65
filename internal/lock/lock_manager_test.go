package lock

import (
	"sync"
	"testing"
	"time"

	"daemondb/internal/page"
	"daemondb/storageerr"

	"github.com/stretchr/testify/require"
)

type fakeTxn struct {
	mu    sync.Mutex
	id    int32
	state State
	iso   Isolation
}

func newFakeTxn(id int32, iso Isolation) *fakeTxn { return &fakeTxn{id: id, iso: iso} }

func (t *fakeTxn) TxnID() int32 { return t.id }
func (t *fakeTxn) GetState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
func (t *fakeTxn) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}
func (t *fakeTxn) GetIsolation() Isolation { return t.iso }

func TestSharedLocksAreConcurrent(t *testing.T) {
	m := New(time.Hour, nil)
	rid := page.RID{PageID: 1, SlotNum: 0}

	t1 := newFakeTxn(1, RepeatableRead)
	t2 := newFakeTxn(2, RepeatableRead)

	require.NoError(t, m.LockShared(t1, rid))
	require.NoError(t, m.LockShared(t2, rid))
}

func TestExclusiveLockExcludesShared(t *testing.T) {
	m := New(time.Hour, nil)
	rid := page.RID{PageID: 1, SlotNum: 0}

	t1 := newFakeTxn(1, RepeatableRead)
	require.NoError(t, m.LockExclusive(t1, rid))

	t2 := newFakeTxn(2, RepeatableRead)
	done := make(chan struct{})
	go func() {
		require.NoError(t, m.LockShared(t2, rid))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("shared lock granted while exclusive lock held")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, m.Unlock(t1, rid))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shared lock never granted after exclusive released")
	}
}

func TestReadUncommittedRejectsSharedLock(t *testing.T) {
	m := New(time.Hour, nil)
	rid := page.RID{PageID: 1, SlotNum: 0}
	t1 := newFakeTxn(1, ReadUncommitted)

	err := m.LockShared(t1, rid)
	require.ErrorIs(t, err, storageerr.ErrLockOnReadUncommitted)
	require.Equal(t, Aborted, t1.GetState())
}

func TestLockUpgradeConflictWhenTwoUpgradersRace(t *testing.T) {
	m := New(time.Hour, nil)
	rid := page.RID{PageID: 1, SlotNum: 0}

	t1 := newFakeTxn(1, RepeatableRead)
	t2 := newFakeTxn(2, RepeatableRead)
	require.NoError(t, m.LockShared(t1, rid))
	require.NoError(t, m.LockShared(t2, rid))

	q := m.getQueue(rid)
	q.mu.Lock()
	q.upgrading = true
	q.mu.Unlock()

	err := m.LockUpgrade(t2, rid)
	require.ErrorIs(t, err, storageerr.ErrUpgradeConflict)
}

func TestDeadlockDetectorAbortsYoungestInCycle(t *testing.T) {
	m := New(20*time.Millisecond, nil)
	m.Run()
	defer m.Stop()

	ridA := page.RID{PageID: 1, SlotNum: 0}
	ridB := page.RID{PageID: 2, SlotNum: 0}

	t1 := newFakeTxn(1, RepeatableRead)
	t2 := newFakeTxn(2, RepeatableRead)

	require.NoError(t, m.LockExclusive(t1, ridA))
	require.NoError(t, m.LockExclusive(t2, ridB))

	waitErrs := make(chan error, 2)
	go func() { waitErrs <- m.LockExclusive(t2, ridA) }()
	go func() { waitErrs <- m.LockExclusive(t1, ridB) }()

	deadline := time.After(2 * time.Second)
	aborted := 0
	for aborted < 1 {
		select {
		case err := <-waitErrs:
			if err != nil {
				require.ErrorIs(t, err, storageerr.ErrDeadlock)
				aborted++
			}
		case <-deadline:
			t.Fatal("deadlock was never detected")
		}
	}
	require.Equal(t, Aborted, t2.GetState())
}

func TestHasCycleReportsNoCycleWhenGraphIsAcyclic(t *testing.T) {
	m := New(time.Hour, nil)
	rid := page.RID{PageID: 1, SlotNum: 0}
	t1 := newFakeTxn(1, RepeatableRead)
	require.NoError(t, m.LockExclusive(t1, rid))

	has, _ := m.HasCycle()
	require.False(t, has)
}
