// Package lockmanager implements a row-level shared/exclusive lock table
// under strict two-phase locking with wound-wait deadlock prevention,
// grounded on original_source/src/concurrency/lock_manager.cpp. Where the
// C++ source spins up a throwaway std::mutex purely to satisfy
// condition_variable::wait's locking requirement, this port uses a single
// sync.Cond per queue tied to the manager's own mutex — Cond.Wait already
// unlocks and relocks the associated Locker, which is the idiomatic Go
// shape for the same wait-under-the-global-lock pattern.
package lockmanager

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"latchdb/internal/metrics"
	"latchdb/internal/rid"
	"latchdb/internal/txn"
)

// LockMode is the mode of a lock request.
type LockMode int

const (
	Shared LockMode = iota
	Exclusive
)

// Abort reasons a caller can distinguish, per spec.md §7.
var (
	ErrLockSharedOnReadUncommitted = errors.New("lockmanager: shared lock requested under read uncommitted isolation")
	ErrLockOnShrinking             = errors.New("lockmanager: lock requested while transaction is shrinking")
	ErrUpgradeConflict             = errors.New("lockmanager: another upgrade is already pending on this row")
)

// request is one entry in a row's wait queue.
type request struct {
	txnID   uint64
	mode    LockMode
	granted bool
}

// queue is the per-RID wait list, grounded on LockRequestQueue in
// lock_manager.h: an ordered request list, a condition variable, and the id
// of the transaction currently upgrading (or 0, since real txn ids start at
// 1).
type queue struct {
	requests  []*request
	cond      *sync.Cond
	upgrading uint64
}

func (q *queue) heldBy(txnID uint64) (*request, bool) {
	for _, r := range q.requests {
		if r.txnID == txnID {
			return r, true
		}
	}
	return nil, false
}

func (q *queue) removeByTxn(txnID uint64) {
	kept := q.requests[:0]
	for _, r := range q.requests {
		if r.txnID != txnID {
			kept = append(kept, r)
		}
	}
	q.requests = kept
}

// removeRequest drops a specific request by identity, used during upgrade
// where the same txn id briefly has two entries (its held S-request and its
// pending X-request) and only one of them should go.
func (q *queue) removeRequest(target *request) {
	kept := q.requests[:0]
	for _, r := range q.requests {
		if r != target {
			kept = append(kept, r)
		}
	}
	q.requests = kept
}

// LockManager coordinates row locks across transactions.
type LockManager struct {
	mu sync.Mutex

	lockTable   map[rid.RID]*queue
	txnMap      map[uint64]*txn.Transaction
	sleepingMap map[uint64]rid.RID

	log     *zap.SugaredLogger
	metrics *metrics.Registry
}

// New builds an empty LockManager. reg may be nil, in which case wait time
// and wound counts simply aren't recorded.
func New(log *zap.SugaredLogger, reg *metrics.Registry) *LockManager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LockManager{
		lockTable:   make(map[rid.RID]*queue),
		txnMap:      make(map[uint64]*txn.Transaction),
		sleepingMap: make(map[uint64]rid.RID),
		log:         log,
		metrics:     reg,
	}
}

func (lm *LockManager) queueFor(r rid.RID) *queue {
	q, ok := lm.lockTable[r]
	if !ok {
		q = &queue{}
		q.cond = sync.NewCond(&lm.mu)
		lm.lockTable[r] = q
	}
	return q
}

// wound aborts every earlier request in q from a strictly younger
// transaction than requester, notifying anything it might be sleeping on.
// Caller holds lm.mu. Returns whether any earlier request remains that the
// caller must still wait on (per onlyExclusive's rule for which modes count).
func (lm *LockManager) wound(q *queue, requesterTxnID uint64, stopAt *request, onlyExclusive bool) bool {
	blocked := false
	for _, r := range q.requests {
		if r == stopAt {
			break
		}
		if r.txnID == requesterTxnID {
			continue
		}
		if onlyExclusive && r.mode != Exclusive {
			continue
		}
		if r.txnID > requesterTxnID {
			if victim, ok := lm.txnMap[r.txnID]; ok && victim.State() != txn.Aborted {
				victim.SetState(txn.Aborted)
				if lm.metrics != nil {
					lm.metrics.LockWounds.Inc()
				}
			}
			if sleepRid, ok := lm.sleepingMap[r.txnID]; ok {
				lm.queueFor(sleepRid).cond.Broadcast()
			}
		}
		blocked = true
	}
	return blocked
}

// LockShared acquires a shared lock on rid for txn, blocking behind older
// exclusive holders and wounding younger ones ahead of it in the queue.
func (lm *LockManager) LockShared(transaction *txn.Transaction, r rid.RID) (bool, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if transaction.IsolationLevel() == txn.ReadUncommitted {
		transaction.SetState(txn.Aborted)
		return false, ErrLockSharedOnReadUncommitted
	}
	if transaction.State() == txn.Shrinking {
		transaction.SetState(txn.Aborted)
		return false, ErrLockOnShrinking
	}

	q := lm.queueFor(r)
	if _, ok := q.heldBy(transaction.ID()); ok {
		return true, nil
	}

	lm.txnMap[transaction.ID()] = transaction
	req := &request{txnID: transaction.ID(), mode: Shared}
	q.requests = append(q.requests, req)
	start := time.Now()

	for {
		if transaction.State() == txn.Aborted {
			q.removeByTxn(transaction.ID())
			lm.forgetIfUnlocked(transaction)
			delete(lm.sleepingMap, transaction.ID())
			lm.observeWait(start)
			return false, nil
		}
		if !lm.wound(q, transaction.ID(), req, true) {
			delete(lm.sleepingMap, transaction.ID())
			break
		}
		lm.sleepingMap[transaction.ID()] = r
		q.cond.Wait()
	}

	req.granted = true
	transaction.AddSharedLock(r)
	lm.observeWait(start)
	return true, nil
}

// LockExclusive acquires an exclusive lock on rid for txn, waiting behind
// every earlier request regardless of mode.
func (lm *LockManager) LockExclusive(transaction *txn.Transaction, r rid.RID) (bool, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if transaction.State() == txn.Shrinking {
		transaction.SetState(txn.Aborted)
		return false, ErrLockOnShrinking
	}

	q := lm.queueFor(r)
	if _, ok := q.heldBy(transaction.ID()); ok {
		return true, nil
	}

	lm.txnMap[transaction.ID()] = transaction
	req := &request{txnID: transaction.ID(), mode: Exclusive}
	q.requests = append(q.requests, req)
	start := time.Now()

	for {
		if transaction.State() == txn.Aborted {
			q.removeByTxn(transaction.ID())
			lm.forgetIfUnlocked(transaction)
			delete(lm.sleepingMap, transaction.ID())
			lm.observeWait(start)
			return false, nil
		}
		if !lm.wound(q, transaction.ID(), req, false) {
			delete(lm.sleepingMap, transaction.ID())
			break
		}
		lm.sleepingMap[transaction.ID()] = r
		q.cond.Wait()
	}

	req.granted = true
	transaction.AddExclusiveLock(r)
	lm.observeWait(start)
	return true, nil
}

// LockUpgrade promotes txn's shared lock on rid to exclusive.
func (lm *LockManager) LockUpgrade(transaction *txn.Transaction, r rid.RID) (bool, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if transaction.State() == txn.Shrinking {
		transaction.SetState(txn.Aborted)
		return false, ErrLockOnShrinking
	}

	q := lm.queueFor(r)
	if q.upgrading != 0 {
		transaction.SetState(txn.Aborted)
		return false, ErrUpgradeConflict
	}

	existing, ok := q.heldBy(transaction.ID())
	if !ok {
		return false, nil
	}
	if existing.mode == Exclusive {
		return true, nil
	}

	lm.txnMap[transaction.ID()] = transaction
	newReq := &request{txnID: transaction.ID(), mode: Exclusive}
	q.requests = append(q.requests, newReq)
	q.upgrading = transaction.ID()
	start := time.Now()

	for {
		if transaction.State() == txn.Aborted {
			q.upgrading = 0
			q.removeRequest(newReq)
			lm.forgetIfUnlocked(transaction)
			delete(lm.sleepingMap, transaction.ID())
			lm.observeWait(start)
			return false, nil
		}
		if !lm.wound(q, transaction.ID(), newReq, false) {
			delete(lm.sleepingMap, transaction.ID())
			break
		}
		lm.sleepingMap[transaction.ID()] = r
		q.cond.Wait()
	}

	// Pop the old S-request; the new X-request keeps its already-queued
	// position rather than moving, so later arrivals that scan the queue
	// still see it as an earlier, now-granted, conflicting request.
	q.removeRequest(existing)
	q.upgrading = 0
	newReq.granted = true
	transaction.MoveSharedToExclusive(r)
	lm.observeWait(start)
	return true, nil
}

// Unlock releases txn's lock on rid and notifies the rest of the queue. A
// GROWING transaction moves to SHRINKING when the released lock was
// exclusive or its isolation level is REPEATABLE_READ; releasing a shared
// lock under READ_COMMITTED leaves it GROWING.
func (lm *LockManager) Unlock(transaction *txn.Transaction, r rid.RID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	q, ok := lm.lockTable[r]
	if !ok {
		return false
	}
	req, ok := q.heldBy(transaction.ID())
	if !ok {
		return false
	}
	q.removeByTxn(transaction.ID())
	transaction.RemoveLock(r)

	if (req.mode == Exclusive || transaction.IsolationLevel() == txn.RepeatableRead) &&
		transaction.State() == txn.Growing {
		transaction.SetState(txn.Shrinking)
	}

	if len(q.requests) == 0 {
		delete(lm.lockTable, r)
	} else {
		q.cond.Broadcast()
	}

	lm.forgetIfUnlocked(transaction)
	return true
}

// forgetIfUnlocked drops transaction from txnMap once it holds no lock
// anywhere, matching spec.md §4.4: "entries kept while any lock is held;
// removed when no locks remain" — a more precise rule than the original's
// unconditional erase on every Unlock call.
func (lm *LockManager) forgetIfUnlocked(transaction *txn.Transaction) {
	if transaction.LockCount() == 0 {
		delete(lm.txnMap, transaction.ID())
	}
}

// observeWait records how long a request spent queued, whether it ended in
// a grant or an abort.
func (lm *LockManager) observeWait(start time.Time) {
	if lm.metrics != nil {
		lm.metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	}
}
