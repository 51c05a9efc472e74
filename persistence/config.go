package persistence

import (
	"fmt"
	"path/filepath"

	"github.com/jrife/strata/storage/kv"
	"github.com/jrife/strata/storage/kv/plugins"
	"github.com/jrife/strata/storage/kv/plugins/bbolt"
	"github.com/jrife/strata/storage/schema"
	"github.com/jrife/strata/utils/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	// DefaultAppID names the schema resource and the
	// store file when no app id is configured
	DefaultAppID = "strata"
	// DefaultBackend is the kv plugin used when no
	// backend is configured
	DefaultBackend = bbolt.DriverName
)

// ErrorPolicy decides which failure a chain reports when
// more than one stage failed
type ErrorPolicy string

const (
	// ErrorPolicyFirst reports the earliest failing stage
	ErrorPolicyFirst ErrorPolicy = "first"
	// ErrorPolicyLast reports the latest failing stage
	ErrorPolicyLast ErrorPolicy = "last"
)

// ChainPolicy decides what happens to a chain submitted
// while another one is in flight
type ChainPolicy string

const (
	// ChainPolicyQueue runs chains one after another in
	// submission order
	ChainPolicyQueue ChainPolicy = "queue"
	// ChainPolicyReject refuses a chain with ErrChainInFlight
	ChainPolicyReject ChainPolicy = "reject"
)

// Config contains configuration for a Manager
type Config struct {
	// AppID names the schema resource (<AppID>.schema.yaml) and
	// the bbolt file (<AppID>.db)
	AppID string `mapstructure:"app_id"`
	// DataDir is where the bbolt file lives
	DataDir string `mapstructure:"data_dir"`
	// SchemaDir is where the schema resource lives
	SchemaDir string `mapstructure:"schema_dir"`
	// Backend is the name of a kv plugin
	Backend string `mapstructure:"backend"`
	// NoSync skips fsync on bbolt commits
	NoSync      bool        `mapstructure:"no_sync"`
	ErrorPolicy ErrorPolicy `mapstructure:"error_policy"`
	ChainPolicy ChainPolicy `mapstructure:"chain_policy"`

	Logger *zap.Logger `mapstructure:"-"`
	// Registerer receives the manager's metrics. Metrics are
	// not registered anywhere if it is nil.
	Registerer prometheus.Registerer `mapstructure:"-"`
	// Schema, if set, is used instead of loading the schema
	// resource from SchemaDir
	Schema *schema.Schema `mapstructure:"-"`
	// Store, if set, is used instead of opening Backend. The
	// manager closes it on Close.
	Store kv.Store `mapstructure:"-"`
}

func (config Config) withDefaults() Config {
	if config.AppID == "" {
		config.AppID = DefaultAppID
	}

	if config.Backend == "" {
		config.Backend = DefaultBackend
	}

	if config.ErrorPolicy == "" {
		config.ErrorPolicy = ErrorPolicyFirst
	}

	if config.ChainPolicy == "" {
		config.ChainPolicy = ChainPolicyQueue
	}

	config.Logger = log.OrDefault(config.Logger)

	return config
}

// Validate checks that the configuration is usable. Empty
// values that have defaults are accepted.
func (config Config) Validate() error {
	switch config.ErrorPolicy {
	case "", ErrorPolicyFirst, ErrorPolicyLast:
	default:
		return fmt.Errorf("unknown error policy %q", config.ErrorPolicy)
	}

	switch config.ChainPolicy {
	case "", ChainPolicyQueue, ChainPolicyReject:
	default:
		return fmt.Errorf("unknown chain policy %q", config.ChainPolicy)
	}

	if config.Store == nil && config.Backend != "" && plugins.Plugin(config.Backend) == nil {
		return fmt.Errorf("unknown backend %q, expected one of %v", config.Backend, plugins.Names())
	}

	return nil
}

// SchemaPath is where the schema resource is loaded from
func (config Config) SchemaPath() string {
	return filepath.Join(config.SchemaDir, schema.FileName(config.withDefaults().AppID))
}

// StorePath is where the bbolt backend keeps its file
func (config Config) StorePath() string {
	return filepath.Join(config.DataDir, config.withDefaults().AppID+".db")
}

func (config Config) loadSchema() (*schema.Schema, error) {
	if config.Schema != nil {
		return config.Schema, nil
	}

	return schema.Load(config.SchemaPath())
}

func (config Config) openStore() (kv.Store, error) {
	if config.Store != nil {
		return config.Store, nil
	}

	plugin := plugins.Plugin(config.Backend)

	if plugin == nil {
		return nil, fmt.Errorf("unknown backend %q", config.Backend)
	}

	options := kv.PluginOptions{}

	if config.Backend == bbolt.DriverName {
		options["path"] = config.StorePath()
		options["no_sync"] = config.NoSync
	}

	return plugin.NewStore(options)
}
