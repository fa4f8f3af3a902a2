package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/git-hulk/redlocker/locker/engine"
)

// EtcdMutex implements engine.Mutex against etcd. The lock record is a key
// holding the session token, attached to a lease whose TTL plays the role
// of the record expiry: acquisition is a create-if-absent transaction,
// refresh is a single lease keepalive, release is a value-guarded delete
// transaction.
type EtcdMutex struct {
	client *clientv3.Client

	// rwmu is used to protect leaseID field
	rwmu    sync.RWMutex
	leaseID clientv3.LeaseID

	token string
	key   string
}

// NewEtcdMutex creates a new EtcdMutex instance bound to token and key.
func NewEtcdMutex(client *clientv3.Client, token, key string) *EtcdMutex {
	return &EtcdMutex{
		client:  client,
		leaseID: clientv3.NoLease,
		token:   token,
		key:     key,
	}
}

// Token returns the session token of the etcd mutex.
func (mu *EtcdMutex) Token() string {
	return mu.token
}

// Key returns the store key of the etcd mutex.
func (mu *EtcdMutex) Key() string {
	return mu.key
}

// IsLocked returns true if the etcd mutex is locked.
func (mu *EtcdMutex) IsLocked() bool {
	mu.rwmu.RLock()
	defer mu.rwmu.RUnlock()
	return mu.leaseID != clientv3.NoLease
}

// TryLock makes a single attempt to obtain the lock, it will return
// ErrLockHeld if the key was created by another session. If this mutex
// already owns the key from an earlier attempt, its lease is extended
// instead of creating a new record.
func (mu *EtcdMutex) TryLock(ctx context.Context) error {
	mu.rwmu.RLock()
	leaseID := mu.leaseID
	mu.rwmu.RUnlock()

	if leaseID != clientv3.NoLease {
		_, err := mu.client.KeepAliveOnce(ctx, leaseID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, rpctypes.ErrLeaseNotFound) {
			return err
		}
		// The lease expired, the record is gone. Fall through to a
		// fresh acquire.
		mu.rwmu.Lock()
		mu.leaseID = clientv3.NoLease
		mu.rwmu.Unlock()
	}

	lease, err := mu.client.Grant(ctx, int64(engine.LockTTL/time.Second))
	if err != nil {
		return err
	}
	resp, err := mu.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(mu.key), "=", 0)).
		Then(clientv3.OpPut(mu.key, mu.token, clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil {
		_, _ = mu.client.Revoke(ctx, lease.ID)
		return err
	}
	if !resp.Succeeded {
		_, _ = mu.client.Revoke(ctx, lease.ID)
		return engine.ErrLockHeld
	}

	mu.rwmu.Lock()
	defer mu.rwmu.Unlock()
	mu.leaseID = lease.ID
	return nil
}

// Refresh extends the record's lease back out to the lock TTL. It will
// return ErrNotLockHolder if the lease has already expired.
func (mu *EtcdMutex) Refresh(ctx context.Context) error {
	mu.rwmu.RLock()
	leaseID := mu.leaseID
	mu.rwmu.RUnlock()
	if leaseID == clientv3.NoLease {
		return engine.ErrNotLockHolder
	}
	if _, err := mu.client.KeepAliveOnce(ctx, leaseID); err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			return engine.ErrNotLockHolder
		}
		return err
	}
	return nil
}

// Release deletes the key only if it still carries this mutex's token, then
// revokes the lease. It will return ErrNotLockHolder if the lock is not
// held or was re-acquired by someone else after expiring.
func (mu *EtcdMutex) Release(ctx context.Context) error {
	mu.rwmu.Lock()
	leaseID := mu.leaseID
	mu.leaseID = clientv3.NoLease
	mu.rwmu.Unlock()

	if leaseID == clientv3.NoLease {
		return engine.ErrNotLockHolder
	}

	resp, err := mu.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(mu.key), "=", mu.token)).
		Then(clientv3.OpDelete(mu.key)).
		Commit()
	if err != nil {
		return err
	}
	_, _ = mu.client.Revoke(ctx, leaseID)
	if !resp.Succeeded {
		return engine.ErrNotLockHolder
	}
	return nil
}

// EtcdEngine implements engine.MutexFactory for an etcd backend.
type EtcdEngine struct {
	client *clientv3.Client
}

func NewEtcdEngine(client *clientv3.Client) *EtcdEngine {
	return &EtcdEngine{client: client}
}

// Create creates an etcd mutex for the given token and key.
func (e *EtcdEngine) Create(token, key string) engine.Mutex {
	return NewEtcdMutex(e.client, token, key)
}
