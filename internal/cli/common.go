package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/zoobzio/replica"
	rnats "github.com/zoobzio/replica/pkg/nats"
)

// options holds the flags shared by every command.
type options struct {
	configPath  string
	role        string
	group       string
	scope       int
	natsURL     string
	storeURL    string
	storageKey  string
	persist     []string
	pullTimeout time.Duration
	format      string
	verbose     bool
}

var opts options

func bindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Load settings from a YAML or JSON file")
	flags.StringVar(&opts.role, "role", "background", "Context role: popup, background, content or offscreen")
	flags.StringVar(&opts.group, "group", "", "Replication group")
	flags.IntVar(&opts.scope, "scope", replica.Wildcard, "Scope id for content contexts (-1 for all)")
	flags.StringVar(&opts.natsURL, "nats", "", "NATS server URL; without it the context has no peers")
	flags.StringVar(&opts.storeURL, "store", "memory://", "Durable store URL")
	flags.StringVar(&opts.storageKey, "key", "", "Storage key holding the durable record")
	flags.StringSliceVar(&opts.persist, "persist", nil, "Keys written through to the store")
	flags.DurationVar(&opts.pullTimeout, "pull-timeout", 0, "How long to wait for a peer snapshot")
	flags.StringVar(&opts.format, "format", "", "Durable record format: json or yaml")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log replication activity to stderr")
}

// loadConfig builds the effective configuration: the config file when
// given, overridden by every flag set explicitly on the command line.
func loadConfig(cmd *cobra.Command) (replica.Config, error) {
	cfg := replica.Config{Role: opts.role}
	if opts.configPath != "" {
		loaded, err := replica.LoadConfig(opts.configPath)
		if err != nil {
			return replica.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("role") || cfg.Role == "" {
		cfg.Role = opts.role
	}
	if flags.Changed("group") {
		cfg.Group = opts.group
	}
	if flags.Changed("scope") {
		scope := opts.scope
		cfg.Scope = &scope
	}
	if flags.Changed("key") {
		cfg.StorageKey = opts.storageKey
	}
	if flags.Changed("persist") {
		cfg.PersistentKeys = opts.persist
	}
	if flags.Changed("pull-timeout") {
		cfg.PullTimeout = opts.pullTimeout
	}
	if flags.Changed("format") {
		cfg.Format = opts.format
	}

	if err := cfg.Validate(); err != nil {
		return replica.Config{}, err
	}
	return cfg, nil
}

func newLogger() hclog.Logger {
	if !opts.verbose {
		return hclog.NewNullLogger()
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "replica",
		Level:  hclog.Debug,
		Output: os.Stderr,
	})
}

// session is a started State with the connections it owns.
type session struct {
	state   *replica.State
	closers []func() error
}

// Close destroys the State, then releases the connections in reverse order.
func (s *session) Close() error {
	var result *multierror.Error
	if s.state != nil {
		if err := s.state.Destroy(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// openSession connects the transport and store named by the flags and
// starts a State built from cfg. With syncMode Start returns once the State
// is ready.
func openSession(ctx context.Context, cfg replica.Config, syncMode bool) (*session, error) {
	logger := newLogger()
	sess := &session{}

	state, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	state.Logger(logger)
	if syncMode {
		state.SyncMode()
	}

	var nc *nats.Conn
	if opts.natsURL != "" {
		nc, err = nats.Connect(opts.natsURL, nats.Name("replica"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		sess.closers = append(sess.closers, nc.Drain)
		state.Transport(rnats.NewTransport(nc))
	}

	store, closeStore, err := openStore(ctx, opts.storeURL, nc, logger)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	if closeStore != nil {
		sess.closers = append(sess.closers, closeStore)
	}
	state.Store(store)

	if err := state.Start(ctx); err != nil {
		_ = sess.Close()
		return nil, err
	}
	sess.state = state
	return sess, nil
}

// parseAssignment splits key=value. Values that parse as JSON keep their
// type; anything else is taken as a string.
func parseAssignment(arg string) (string, any, error) {
	key, raw, ok := strings.Cut(arg, "=")
	if !ok || key == "" {
		return "", nil, fmt.Errorf("expected key=value, got %q", arg)
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}
	return key, value, nil
}
