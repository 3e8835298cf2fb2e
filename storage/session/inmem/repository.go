// Package inmemsession keeps sessions in process memory.
package inmemsession

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/edusmart/core/session"
)

type repository struct {
	mutex sync.RWMutex
	table map[string]session.Session
}

var _ session.Repository = (*repository)(nil)

func NewRepository() session.Repository {
	return &repository{table: make(map[string]session.Session)}
}

func (repo *repository) Save(_ context.Context, sess session.Session) error {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()
	sess.Profiles = append([]session.Profile(nil), sess.Profiles...)
	repo.table[sess.ID] = sess
	return nil
}

func (repo *repository) Get(_ context.Context, id string) (session.Session, error) {
	repo.mutex.RLock()
	defer repo.mutex.RUnlock()
	sess, ok := repo.table[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	sess.Profiles = append([]session.Profile(nil), sess.Profiles...)
	return sess, nil
}

func (repo *repository) Delete(_ context.Context, id string) error {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()
	delete(repo.table, id)
	return nil
}

func (repo *repository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()
	var n int
	for id, sess := range repo.table {
		if sess.Expired(now) {
			delete(repo.table, id)
			n++
		}
	}
	return n, nil
}
