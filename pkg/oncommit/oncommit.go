// Package oncommit defers side effects until a database transaction has
// committed. Scheduling a job from inside a transaction is a footgun: a
// worker can pick the job up before the rows it operates on are visible.
// Wrapping the transaction with Transaction and the side effect with Do
// closes that window.
package oncommit

import (
	"sync"

	"gorm.io/gorm"
)

// settingKey marks a *gorm.DB as carrying a hook set. GORM instance
// settings propagate to the transaction handle, so Do can find the set
// from any statement inside the transaction.
const settingKey = "asyncjobs:oncommit"

type hookSet struct {
	mu    sync.Mutex
	hooks []func()
}

func (h *hookSet) add(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, fn)
}

func (h *hookSet) run() {
	h.mu.Lock()
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Transaction runs fn inside a GORM transaction. Hooks registered through
// Do during fn run after the commit succeeds, in registration order. On
// rollback the hooks are discarded.
func Transaction(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	set := &hookSet{}
	err := db.Set(settingKey, set).Transaction(fn)
	if err != nil {
		return err
	}
	set.run()
	return nil
}

// Do schedules fn to run after the surrounding Transaction commits. When
// tx is not inside a managed transaction, fn runs immediately: callers
// don't need two code paths for request handlers and plain task code.
func Do(tx *gorm.DB, fn func()) {
	if v, ok := tx.Get(settingKey); ok {
		if set, ok := v.(*hookSet); ok {
			set.add(fn)
			return
		}
	}
	fn()
}
