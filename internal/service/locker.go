package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"degree-ledger/backend/pkg/redis"
)

// Locker 学生级互斥锁；返回的 release 必须调用且可重复调用
type Locker interface {
	Lock(ctx context.Context, studentID string) (release func(), err error)
}

// ── Redis 实现 ──

type redisLocker struct {
	rdb  *redis.Client
	ttl  time.Duration
	wait time.Duration
}

// NewRedisLocker 基于 SET NX PX 的分布式锁，适用于多实例部署
func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) Locker {
	return &redisLocker{rdb: rdb, ttl: ttl, wait: wait}
}

func (l *redisLocker) Lock(ctx context.Context, studentID string) (func(), error) {
	release, err := l.rdb.Lock(ctx, "issuance:"+studentID, l.ttl, l.wait)
	if err != nil {
		if errors.Is(err, redis.ErrLockWaitTimeout) {
			return nil, ErrIssuanceBusy
		}
		return nil, err
	}
	return release, nil
}

// ── 进程内实现 ──

// keyedLock 每个 key 一个容量为 1 的信号量，引用计数归零后回收
type keyedLock struct {
	sem  chan struct{}
	refs int
}

type localLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
	wait  time.Duration
}

// NewLocalLocker 进程内按 key 互斥，Redis 不可用时的单实例降级方案
func NewLocalLocker(wait time.Duration) Locker {
	return &localLocker{locks: make(map[string]*keyedLock), wait: wait}
}

func (l *localLocker) Lock(ctx context.Context, studentID string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[studentID]
	if !ok {
		kl = &keyedLock{sem: make(chan struct{}, 1)}
		l.locks[studentID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case kl.sem <- struct{}{}:
	case <-timer.C:
		l.unref(studentID, kl)
		return nil, ErrIssuanceBusy
	case <-ctx.Done():
		l.unref(studentID, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.unref(studentID, kl)
		})
	}, nil
}

func (l *localLocker) unref(key string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
