// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package etcd implements blobstore.Store on etcd.
//
// Each artifact owns three keys: the bytes, the tags as JSON and the lease
// token. A bounded artifact lease is bound to an etcd lease so the token key
// disappears when it lapses. Tag writes are transactions conditioned on the
// token key value.
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
	"go.uber.org/atomic"

	"github.com/tochemey/sagamatch/blobstore"
	serrors "github.com/tochemey/sagamatch/errors"
)

const (
	blobPrefix  = "blob/"
	tagsPrefix  = "tags/"
	leasePrefix = "lease/"
)

// Store is an etcd backed blobstore.Store.
type Store struct {
	client *clientv3.Client
	kv     clientv3.KV
	lease  clientv3.Lease
	closed *atomic.Bool
}

var _ blobstore.Store = (*Store)(nil)

// NewStore connects to etcd and checks the first endpoint answers.
func NewStore(config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.New("blobstore/etcd: config is nil")
	}

	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, serrors.NewErrInvalidConfig(err)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
		Username:    config.Username,
		Password:    config.Password,
		Context:     config.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore/etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(config.Context, config.DialTimeout)
	defer cancel()

	if _, err := client.Status(ctx, config.Endpoints[0]); err != nil {
		if cerr := client.Close(); cerr != nil {
			return nil, errors.Join(err, fmt.Errorf("blobstore/etcd: close client: %w", cerr))
		}
		return nil, fmt.Errorf("blobstore/etcd: failed to connect: %w", err)
	}

	prefix := normalizeNamespace(config.Namespace)
	return &Store{
		client: client,
		kv:     namespace.NewKV(client.KV, prefix),
		lease:  namespace.NewLease(client.Lease, prefix),
		closed: atomic.NewBool(false),
	}, nil
}

// Put uploads a new artifact.
func (s *Store) Put(ctx context.Context, location string, data []byte, tags map[string]string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if err := blobstore.ValidateLocation(location); err != nil {
		return err
	}

	payload, err := json.Marshal(blobstore.CopyTags(tags))
	if err != nil {
		return fmt.Errorf("blobstore/etcd: encode tags: %w", err)
	}

	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(blobPrefix+location), "=", 0)).
		Then(
			clientv3.OpPut(blobPrefix+location, string(data)),
			clientv3.OpPut(tagsPrefix+location, string(payload)),
		).
		Commit()
	if err != nil {
		return fmt.Errorf("blobstore/etcd: put: %w", err)
	}
	if !resp.Succeeded {
		return serrors.ErrObjectExists
	}
	return nil
}

// Exists reports whether the artifact is stored.
func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	if err := s.guard(ctx); err != nil {
		return false, err
	}
	resp, err := s.kv.Get(ctx, blobPrefix+location, clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("blobstore/etcd: exists: %w", err)
	}
	return resp.Count > 0, nil
}

// Data returns the artifact bytes.
func (s *Store) Data(ctx context.Context, location string) ([]byte, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	resp, err := s.kv.Get(ctx, blobPrefix+location)
	if err != nil {
		return nil, fmt.Errorf("blobstore/etcd: get: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, serrors.NewErrObjectNotFound(location)
	}
	return resp.Kvs[0].Value, nil
}

// GetTags returns the artifact tags.
func (s *Store) GetTags(ctx context.Context, location string) (map[string]string, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	resp, err := s.kv.Get(ctx, tagsPrefix+location)
	if err != nil {
		return nil, fmt.Errorf("blobstore/etcd: get tags: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, serrors.NewErrObjectNotFound(location)
	}
	return decodeTags(resp.Kvs[0].Value)
}

// SetTags replaces the artifact tags under lease.
func (s *Store) SetTags(ctx context.Context, location string, tags map[string]string, lease *blobstore.Lease) error {
	if err := s.mustExist(ctx, location); err != nil {
		return err
	}
	if lease == nil || lease.Token == "" {
		return serrors.ErrLeaseRequired
	}

	payload, err := json.Marshal(blobstore.CopyTags(tags))
	if err != nil {
		return fmt.Errorf("blobstore/etcd: encode tags: %w", err)
	}

	leaseKey := leasePrefix + location
	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(leaseKey), "=", lease.Token)).
		Then(clientv3.OpPut(tagsPrefix+location, string(payload))).
		Else(clientv3.OpGet(leaseKey, clientv3.WithCountOnly())).
		Commit()
	if err != nil {
		return fmt.Errorf("blobstore/etcd: set tags: %w", err)
	}
	if resp.Succeeded {
		return nil
	}

	if holder := resp.Responses[0].GetResponseRange(); holder != nil && holder.Count > 0 {
		return serrors.ErrLeaseMismatch
	}
	return serrors.ErrLeaseExpired
}

// AcquireLease takes the artifact lease. A bounded lease is rounded up to
// whole seconds, the etcd lease granularity.
func (s *Store) AcquireLease(ctx context.Context, location string, d time.Duration) (*blobstore.Lease, error) {
	if err := blobstore.ValidateLeaseDuration(d); err != nil {
		return nil, err
	}
	if err := s.mustExist(ctx, location); err != nil {
		return nil, err
	}

	lease := blobstore.NewLease(location, d, time.Now())
	put := clientv3.OpPut(leasePrefix+location, lease.Token)

	var granted clientv3.LeaseID
	if !lease.Infinite() {
		resp, err := s.lease.Grant(ctx, ttlSeconds(d))
		if err != nil {
			return nil, fmt.Errorf("blobstore/etcd: grant lease: %w", err)
		}
		granted = resp.ID
		put = clientv3.OpPut(leasePrefix+location, lease.Token, clientv3.WithLease(granted))
	}

	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(leasePrefix+location), "=", 0)).
		Then(put).
		Commit()
	if err != nil || !resp.Succeeded {
		s.revoke(ctx, granted)
		if err != nil {
			return nil, fmt.Errorf("blobstore/etcd: acquire lease: %w", err)
		}
		return nil, serrors.NewErrAlreadyLeased(location)
	}
	return lease, nil
}

// ReleaseLease gives the lease back.
func (s *Store) ReleaseLease(ctx context.Context, lease *blobstore.Lease) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if lease == nil || lease.Token == "" {
		return nil
	}

	leaseKey := leasePrefix + lease.Location
	current, err := s.kv.Get(ctx, leaseKey)
	if err != nil {
		return fmt.Errorf("blobstore/etcd: release lease: %w", err)
	}
	if len(current.Kvs) == 0 || string(current.Kvs[0].Value) != lease.Token {
		return nil
	}

	holder := current.Kvs[0]
	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(leaseKey), "=", holder.ModRevision)).
		Then(clientv3.OpDelete(leaseKey)).
		Commit()
	if err != nil {
		return fmt.Errorf("blobstore/etcd: release lease: %w", err)
	}
	if resp.Succeeded {
		s.revoke(ctx, clientv3.LeaseID(holder.Lease))
	}
	return nil
}

// FindByTags scans the tags prefix.
func (s *Store) FindByTags(ctx context.Context, q blobstore.Query) ([]string, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	resp, err := s.kv.Get(ctx, tagsPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("blobstore/etcd: list tags: %w", err)
	}

	locations := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		tags, err := decodeTags(kv.Value)
		if err != nil {
			return nil, err
		}
		if q.Matches(tags) {
			locations = append(locations, strings.TrimPrefix(string(kv.Key), tagsPrefix))
		}
	}
	return blobstore.SortLocations(locations), nil
}

// Close closes the client. Close is idempotent.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}

func (s *Store) mustExist(ctx context.Context, location string) error {
	exists, err := s.Exists(ctx, location)
	if err != nil {
		return err
	}
	if !exists {
		return serrors.NewErrObjectNotFound(location)
	}
	return nil
}

// revoke drops an etcd lease that no longer guards anything. A failure only
// delays the server side expiry.
func (s *Store) revoke(ctx context.Context, id clientv3.LeaseID) {
	if id == clientv3.NoLease {
		return
	}
	_, _ = s.lease.Revoke(context.WithoutCancel(ctx), id)
}

func (s *Store) guard(ctx context.Context) error {
	if s.closed.Load() {
		return serrors.ErrStoreClosed
	}
	return blobstore.ContextErr(ctx)
}

func ttlSeconds(d time.Duration) int64 {
	seconds := int64(d / time.Second)
	if d%time.Second != 0 {
		seconds++
	}
	return seconds
}

func decodeTags(payload []byte) (map[string]string, error) {
	tags := make(map[string]string)
	if err := json.Unmarshal(payload, &tags); err != nil {
		return nil, fmt.Errorf("blobstore/etcd: decode tags: %w", err)
	}
	return tags, nil
}
