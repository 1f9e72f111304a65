package txn

import "daemondb/internal/page"

// LockShared acquires a shared lock on rid on behalf of t, recording it
// in t's lock set on success so Commit/Abort know to release it.
func (m *Manager) LockShared(t *Transaction, rid page.RID) error {
	if err := m.lockMgr.LockShared(t, rid); err != nil {
		return err
	}
	t.recordSharedLock(rid)
	return nil
}

// LockExclusive acquires an exclusive lock on rid on behalf of t.
func (m *Manager) LockExclusive(t *Transaction, rid page.RID) error {
	if err := m.lockMgr.LockExclusive(t, rid); err != nil {
		return err
	}
	t.recordExclusiveLock(rid)
	return nil
}

// LockUpgrade upgrades t's shared lock on rid to exclusive.
func (m *Manager) LockUpgrade(t *Transaction, rid page.RID) error {
	if err := m.lockMgr.LockUpgrade(t, rid); err != nil {
		return err
	}
	t.recordExclusiveLock(rid)
	return nil
}
