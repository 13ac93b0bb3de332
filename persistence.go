package replica

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/zoobzio/capitan"
)

const (
	// writeRetries bounds the attempts made for one durable write.
	writeRetries = 3

	// writeTimeout bounds one durable write including its retries. Writes
	// outlive destroy so a record already taken by the writer still lands.
	writeTimeout = 5 * time.Second
)

// persistence writes the durable subset of a State under a single storage
// key and applies changes made to that key by other contexts.
type persistence struct {
	state  *State
	store  Store
	key    string
	logger hclog.Logger

	unsubscribe func()
	cancel      context.CancelFunc
	pending     chan []byte
	stop        chan struct{}
	writerDone  chan struct{}

	mu   sync.Mutex
	last []byte
}

func newPersistence(s *State) *persistence {
	return &persistence{
		state:   s,
		store:   s.store,
		key:     s.storageKey,
		logger:  s.logger.Named("persistence").With("storage_key", s.storageKey),
		pending: make(chan []byte, 1),
		stop:    make(chan struct{}),
	}
}

// start registers the change listener and watches the storage key. Roles
// without direct storage access register nothing.
func (p *persistence) start(ctx context.Context) {
	if !p.state.reach.Durable {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.unsubscribe = p.state.events.subscribe(func(c Change) {
		p.onChange(ctx, c)
	})

	if !p.state.syncMode {
		p.writerDone = make(chan struct{})
		go p.writer(ctx)
	}

	records, err := p.store.Watch(ctx, p.key)
	if err != nil {
		p.failed(ctx, "watch", err)
		return
	}
	go func() {
		for data := range records {
			if p.state.Status() == StatusDestroyed {
				continue
			}
			p.apply(ctx, data)
		}
	}()
}

// fetch reads the stored record once and applies it. It marks its bootstrap
// prerequisite done whatever the outcome.
func (p *persistence) fetch(ctx context.Context) {
	defer p.state.markPrerequisiteDone()

	if !p.state.reach.Durable {
		return
	}
	data, err := p.store.Get(ctx, p.key)
	switch {
	case errors.Is(err, ErrNotFound):
		p.logger.Debug("no durable record yet")
		return
	case err != nil:
		p.failed(ctx, "fetch", err)
		return
	}
	p.apply(ctx, data)
}

// apply decodes a stored record and applies each of its keys. A record
// that cannot be decoded is treated as absent.
func (p *persistence) apply(ctx context.Context, data []byte) {
	if !p.remember(data) {
		return
	}

	var record map[string]any
	if err := p.state.codec.Unmarshal(data, &record); err != nil {
		p.failed(ctx, "decode", fmt.Errorf("%w: %v", ErrMalformedRecord, err))
		return
	}

	changed := 0
	for key, value := range record {
		ok, err := p.state.mutate(key, value, SourceStorage)
		if err != nil {
			if errors.Is(err, ErrDestroyed) {
				return
			}
			p.logger.Debug("skipping stored key", "key", key, "error", err)
			continue
		}
		if ok {
			changed++
		}
	}
	if changed == 0 {
		return
	}

	p.logger.Debug("applied durable record", "keys", changed)
	capitan.Emit(ctx, StorageApplied,
		KeyOrigin.Field(p.state.id),
		KeyStorageKey.Field(p.key),
	)

	// Indirect leaves cannot watch storage; the relaying hub forwards it.
	if p.state.reach.ServeRelay {
		p.state.requestPush(ctx)
	}
}

// remember records data as the latest known record and reports whether it
// differs from the previous one.
func (p *persistence) remember(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last != nil && bytes.Equal(p.last, data) {
		return false
	}
	p.last = append([]byte(nil), data...)
	return true
}

// onChange writes the durable subset after a local change to a durable key.
func (p *persistence) onChange(ctx context.Context, c Change) {
	if !c.Source.Local() {
		return
	}
	if c.Key != AllKeys && !p.state.IsKeyDurable(c.Key) {
		return
	}

	record, err := p.state.codec.Marshal(p.state.durableSubset())
	if err != nil {
		p.failed(ctx, "encode", err)
		return
	}
	if !p.remember(record) {
		return
	}

	if p.state.syncMode {
		p.write(ctx, record, writeRetries)
		return
	}
	p.schedule(record)
}

// schedule hands record to the writer, replacing any record still waiting.
func (p *persistence) schedule(record []byte) {
	for {
		select {
		case p.pending <- record:
			return
		default:
		}
		select {
		case <-p.pending:
		default:
		}
	}
}

// writer performs scheduled writes until destroy, then flushes the last
// pending record once.
func (p *persistence) writer(ctx context.Context) {
	defer close(p.writerDone)
	for {
		select {
		case record := <-p.pending:
			p.write(ctx, record, writeRetries)
		case <-p.stop:
			select {
			case record := <-p.pending:
				p.write(ctx, record, 0)
			default:
			}
			return
		}
	}
}

// write stores record, retrying with exponential backoff. Canceling ctx does
// not abort it; writeTimeout does.
func (p *persistence) write(ctx context.Context, record []byte, retries uint64) {
	ctx, cancel := p.state.clock.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	start := p.state.clock.Now()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	err := backoff.Retry(func() error {
		return p.store.Set(ctx, p.key, record)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))

	p.state.metrics.OnStorageWrite(p.state.clock.Since(start), err)
	if err != nil {
		p.failed(ctx, "write", err)
		return
	}
	p.logger.Trace("wrote durable record", "bytes", len(record))
	capitan.Emit(ctx, StorageWritten,
		KeyOrigin.Field(p.state.id),
		KeyStorageKey.Field(p.key),
	)
}

func (p *persistence) failed(ctx context.Context, op string, err error) {
	p.state.fail("storage "+op, err)
	capitan.Emit(ctx, StorageFailed,
		KeyOrigin.Field(p.state.id),
		KeyStorageKey.Field(p.key),
		KeyError.Field(err.Error()),
	)
}

// destroy removes the change listener, cancels the watch and waits for the
// writer to finish the write in flight and flush.
func (p *persistence) destroy() error {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.writerDone != nil {
		close(p.stop)
		<-p.writerDone
	}
	return nil
}
