package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// keyLocks 以 key 為單位的互斥鎖 (模擬資料庫 row lock)
// 使用 channel 實作，等待時可被 ctx 取消
type keyLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[uuid.UUID]*keyLock)}
}

// acquire 取得 key 的鎖，ctx 取消時放棄等待
func (k *keyLocks) acquire(ctx context.Context, key uuid.UUID) error {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.unref(key, l)
		return ctx.Err()
	}
}

// release 釋放 key 的鎖，只能由持有者呼叫
func (k *keyLocks) release(key uuid.UUID) {
	k.mu.Lock()
	l := k.locks[key]
	k.mu.Unlock()
	<-l.ch
	k.unref(key, l)
}

// unref 沒有人使用時移除，避免 map 無限成長
func (k *keyLocks) unref(key uuid.UUID, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
