// Package zookeeper provides a replica.Store backed by ZooKeeper nodes
// using the native Watch API.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/replica"
)

// DefaultRoot is the parent node of every record.
const DefaultRoot = "/replica"

// retryDelay is the pause after a failed watch registration.
const retryDelay = time.Second

// Store keeps each record in the node root/key.
type Store struct {
	conn *zk.Conn
	root string
	acl  []zk.ACL
}

// Option configures a Store.
type Option func(*Store)

// WithRoot sets the parent node. Missing ancestors are created on write.
func WithRoot(root string) Option {
	return func(s *Store) {
		s.root = path.Clean("/" + root)
	}
}

// WithACL sets the ACL of created nodes. Defaults to world access.
func WithACL(acl []zk.ACL) Option {
	return func(s *Store) {
		s.acl = acl
	}
}

// New creates a Store on conn.
func New(conn *zk.Conn, opts ...Option) *Store {
	s := &Store{
		conn: conn,
		root: DefaultRoot,
		acl:  zk.WorldACL(zk.PermAll),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(key string) string {
	return path.Join(s.root, key)
}

// Get implements replica.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	data, _, err := s.conn.Get(s.path(key))
	if errors.Is(err, zk.ErrNoNode) {
		return nil, replica.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("zookeeper get %s: %w", s.path(key), err)
	}
	return data, nil
}

// Set implements replica.Store. The node and its ancestors are created
// when missing.
func (s *Store) Set(_ context.Context, key string, data []byte) error {
	p := s.path(key)
	_, err := s.conn.Set(p, data, -1)
	if errors.Is(err, zk.ErrNoNode) {
		if err = s.ensureParents(p); err == nil {
			_, err = s.conn.Create(p, data, 0, s.acl)
			if errors.Is(err, zk.ErrNodeExists) {
				_, err = s.conn.Set(p, data, -1)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("zookeeper set %s: %w", p, err)
	}
	return nil
}

func (s *Store) ensureParents(p string) error {
	node := ""
	parts := strings.Split(strings.Trim(path.Dir(p), "/"), "/")
	for _, part := range parts {
		if part == "" {
			continue
		}
		node += "/" + part
		if _, err := s.conn.Create(node, nil, 0, s.acl); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

// Watch implements replica.Store. The current value is emitted first when
// the node exists; a node created later is picked up through an exists
// watch.
func (s *Store) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	p := s.path(key)
	out := make(chan []byte)

	go func() {
		defer close(out)

		for {
			// Get current value and set watch
			data, _, eventCh, err := s.conn.GetW(p)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Node doesn't exist yet, watch for creation
				exists, _, existCh, err := s.conn.ExistsW(p)
				if err != nil {
					select {
					case <-time.After(retryDelay):
						continue
					case <-ctx.Done():
						return
					}
				}
				if !exists {
					select {
					case <-ctx.Done():
						return
					case <-existCh:
					}
				}
				continue
			}

			select {
			case out <- data:
			case <-ctx.Done():
				return
			}

			// Wait for change
			select {
			case <-ctx.Done():
				return
			case <-eventCh:
				// Loop back to get the new value and set a new watch
			}
		}
	}()

	return out, nil
}

// Ensure Store implements replica.Store.
var _ replica.Store = (*Store)(nil)
