package services

import (
	"context"
	"path"
	"time"

	"github.com/coreos/etcd/clientv3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	defaultEtcdRoot = "/agent/online"
	etcdOpTimeout   = 3 * time.Second
)

// EtcdPresence shares presence between gateways. Every key is attached to
// one lease owned by this process, so a crashed gateway's players go
// offline when the lease expires.
type EtcdPresence struct {
	client *clientv3.Client
	root   string
	lease  clientv3.LeaseID
}

// NewEtcdPresence connects to endpoints and grants a lease of ttl seconds
// that is kept alive until ctx is done.
func NewEtcdPresence(ctx context.Context, endpoints []string, root string, ttl int64) (*EtcdPresence, error) {
	if root == "" {
		root = defaultEtcdRoot
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "etcd connect")
	}
	gctx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()
	grant, err := cli.Grant(gctx, ttl)
	if err != nil {
		cli.Close()
		return nil, errors.Wrap(err, "etcd grant lease")
	}
	keep, err := cli.KeepAlive(ctx, grant.ID)
	if err != nil {
		cli.Close()
		return nil, errors.Wrap(err, "etcd keepalive")
	}
	go func() {
		for range keep {
		}
		log.Warning("etcd presence lease keepalive stopped")
	}()
	return &EtcdPresence{client: cli, root: root, lease: grant.ID}, nil
}

func (p *EtcdPresence) key(uid uint32) string {
	return path.Join(p.root, uidKey(uid))
}

func (p *EtcdPresence) Acquire(uid uint32, owner string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
	defer cancel()
	key := p.key(uid)
	resp, err := p.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, owner, clientv3.WithLease(p.lease))).
		Else(clientv3.OpGet(key)).
		Commit()
	if err != nil {
		return "", false, errors.Wrapf(err, "etcd presence acquire %v", uid)
	}
	if resp.Succeeded {
		return owner, true, nil
	}
	kvs := resp.Responses[0].GetResponseRange().Kvs
	if len(kvs) == 0 {
		return "", false, errors.Errorf("etcd presence acquire %v: key %v has no value", uid, key)
	}
	holder := string(kvs[0].Value)
	return holder, holder == owner, nil
}

func (p *EtcdPresence) Release(uid uint32, owner string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
	defer cancel()
	key := p.key(uid)
	resp, err := p.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(key), "=", owner)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		log.WithField("uid", uid).Error("etcd presence release: ", err)
		return false
	}
	return resp.Succeeded
}

func (p *EtcdPresence) Online(uid uint32) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
	defer cancel()
	resp, err := p.client.Get(ctx, p.key(uid))
	if err != nil || len(resp.Kvs) == 0 {
		return "", false
	}
	return string(resp.Kvs[0].Value), true
}

func (p *EtcdPresence) Count() int {
	ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
	defer cancel()
	resp, err := p.client.Get(ctx, p.root+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0
	}
	return int(resp.Count)
}

// Close revokes the lease, taking every player this gateway holds offline.
func (p *EtcdPresence) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
	defer cancel()
	if _, err := p.client.Revoke(ctx, p.lease); err != nil {
		log.Error("etcd presence revoke: ", err)
	}
	return p.client.Close()
}
