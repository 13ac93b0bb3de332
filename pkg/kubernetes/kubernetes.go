// Package kubernetes provides a replica.Store that keeps durable records
// as data keys of a Kubernetes ConfigMap or Secret.
package kubernetes

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/replica"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

// ResourceType specifies the type of Kubernetes resource holding the records.
type ResourceType int

const (
	// ConfigMap stores records in a ConfigMap.
	ConfigMap ResourceType = iota
	// Secret stores records in a Secret.
	Secret
)

// retryDelay is the pause before re-establishing a failed watch.
const retryDelay = time.Second

// Store keeps each record under a data key of one named resource. The
// resource is created on first write.
type Store struct {
	client       kubernetes.Interface
	namespace    string
	name         string
	resourceType ResourceType
}

// Option configures a Store.
type Option func(*Store)

// WithResourceType sets the resource type. Defaults to ConfigMap.
func WithResourceType(rt ResourceType) Option {
	return func(s *Store) {
		s.resourceType = rt
	}
}

// New creates a Store for the resource namespace/name.
func New(client kubernetes.Interface, namespace, name string, opts ...Option) *Store {
	s := &Store{
		client:       client,
		namespace:    namespace,
		name:         name,
		resourceType: ConfigMap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements replica.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, _, err := s.getValue(ctx, key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, replica.ErrNotFound
	}
	return value, nil
}

// Set implements replica.Store. Conflicting concurrent updates are retried.
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		if s.resourceType == ConfigMap {
			return s.setConfigMap(ctx, key, data)
		}
		return s.setSecret(ctx, key, data)
	})
	if err != nil {
		return fmt.Errorf("kubernetes set %s/%s[%s]: %w", s.namespace, s.name, key, err)
	}
	return nil
}

func (s *Store) setConfigMap(ctx context.Context, key string, data []byte) error {
	api := s.client.CoreV1().ConfigMaps(s.namespace)
	cm, err := api.Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = api.Create(ctx, &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: s.name, Namespace: s.namespace},
			Data:       map[string]string{key: string(data)},
		}, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	cm.Data[key] = string(data)
	_, err = api.Update(ctx, cm, metav1.UpdateOptions{})
	return err
}

func (s *Store) setSecret(ctx context.Context, key string, data []byte) error {
	api := s.client.CoreV1().Secrets(s.namespace)
	secret, err := api.Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = api.Create(ctx, &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: s.name, Namespace: s.namespace},
			Data:       map[string][]byte{key: data},
		}, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	if secret.Data == nil {
		secret.Data = map[string][]byte{}
	}
	secret.Data[key] = data
	_, err = api.Update(ctx, secret, metav1.UpdateOptions{})
	return err
}

// Watch implements replica.Store. The current value is emitted first when
// the key exists. Updates that leave the key unchanged are not emitted.
func (s *Store) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	out := make(chan []byte)

	go func() {
		defer close(out)

		var last []byte
		for {
			if err := s.watchLoop(ctx, key, &last, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case <-time.After(retryDelay):
				case <-ctx.Done():
					return
				}
				continue
			}
			return
		}
	}()

	return out, nil
}

func (s *Store) watchLoop(ctx context.Context, key string, last *[]byte, out chan<- []byte) error {
	value, resourceVersion, err := s.getValue(ctx, key)
	if err != nil {
		return err
	}
	if err := s.emit(ctx, value, last, out); err != nil {
		return err
	}

	opts := metav1.ListOptions{
		FieldSelector:   fmt.Sprintf("metadata.name=%s", s.name),
		ResourceVersion: resourceVersion,
		Watch:           true,
	}

	var watcher watch.Interface
	if s.resourceType == ConfigMap {
		watcher, err = s.client.CoreV1().ConfigMaps(s.namespace).Watch(ctx, opts)
	} else {
		watcher, err = s.client.CoreV1().Secrets(s.namespace).Watch(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to start watch: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return fmt.Errorf("watch channel closed")
			}

			switch event.Type {
			case watch.Error:
				return fmt.Errorf("watch error")
			case watch.Deleted, watch.Bookmark:
				continue
			}

			if err := s.emit(ctx, s.extractValue(event.Object, key), last, out); err != nil {
				return err
			}
		}
	}
}

// emit sends value unless it is absent or equal to the last emitted value.
func (s *Store) emit(ctx context.Context, value []byte, last *[]byte, out chan<- []byte) error {
	if value == nil || (*last != nil && bytes.Equal(*last, value)) {
		return nil
	}
	*last = value
	select {
	case out <- value:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// getValue returns the value of key and the resource version. A missing
// resource or key yields a nil value.
func (s *Store) getValue(ctx context.Context, key string) ([]byte, string, error) {
	var obj runtime.Object
	var err error
	if s.resourceType == ConfigMap {
		obj, err = s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	} else {
		obj, err = s.client.CoreV1().Secrets(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	}
	if apierrors.IsNotFound(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("kubernetes get %s/%s: %w", s.namespace, s.name, err)
	}

	meta, _ := obj.(metav1.Object)
	return s.extractValue(obj, key), meta.GetResourceVersion(), nil
}

func (s *Store) extractValue(obj runtime.Object, key string) []byte {
	switch o := obj.(type) {
	case *corev1.ConfigMap:
		if o.Name != s.name {
			return nil
		}
		if v, ok := o.Data[key]; ok {
			return []byte(v)
		}
	case *corev1.Secret:
		if o.Name != s.name {
			return nil
		}
		if v, ok := o.Data[key]; ok {
			return v
		}
	}
	return nil
}

// Ensure Store implements replica.Store.
var _ replica.Store = (*Store)(nil)
