// Package mongodriver runs compiled aggregation pipelines on MongoDB. Conn
// is the aggregate.Sink backed by the official Go driver.
package mongodriver

import (
	"errors"
	"fmt"

	"github.com/dosco/graphjin/aggregate/v3"
	"github.com/dosco/graphjin/aggregate/v3/codec"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const (
	defaultHandleCacheSize = 256
	defaultParallelism     = 4
)

// Conn runs pipelines against one database.
type Conn struct {
	db          *mongo.Database
	client      *mongo.Client
	compiler    *aggregate.Compiler
	log         *zap.Logger
	colls       *lru.TwoQueueCache[string, *mongo.Collection]
	cacheSize   int
	parallelism int
}

// Option configures a Conn.
type Option func(*Conn) error

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Conn) error {
		if log == nil {
			return errors.New("mongodriver: logger is nil")
		}
		c.log = log
		return nil
	}
}

// WithCompiler sets the compiler used by Run and SampleFields. Its
// registry is also used to decode results.
func WithCompiler(comp *aggregate.Compiler) Option {
	return func(c *Conn) error {
		if comp == nil {
			return errors.New("mongodriver: compiler is nil")
		}
		c.compiler = comp
		return nil
	}
}

// WithHandleCacheSize sets how many collection handles are kept.
func WithHandleCacheSize(n int) Option {
	return func(c *Conn) error {
		if n <= 0 {
			return fmt.Errorf("mongodriver: handle cache size must be positive, got %d", n)
		}
		c.cacheSize = n
		return nil
	}
}

// WithParallelism bounds how many pipelines AggregateMany runs at once.
func WithParallelism(n int) Option {
	return func(c *Conn) error {
		if n <= 0 {
			return fmt.Errorf("mongodriver: parallelism must be positive, got %d", n)
		}
		c.parallelism = n
		return nil
	}
}

// NewConn returns a Conn for database on client. The caller keeps
// ownership of client.
func NewConn(client *mongo.Client, database string, opts ...Option) (*Conn, error) {
	if client == nil {
		return nil, errors.New("mongodriver: client is nil")
	}
	if database == "" {
		return nil, errors.New("mongodriver: database name is required")
	}

	c := &Conn{
		client:      client,
		log:         zap.NewNop(),
		cacheSize:   defaultHandleCacheSize,
		parallelism: defaultParallelism,
	}
	for _, op := range opts {
		if err := op(c); err != nil {
			return nil, err
		}
	}

	if c.compiler == nil {
		comp, err := aggregate.NewCompiler()
		if err != nil {
			return nil, err
		}
		c.compiler = comp
	}

	var err error
	if c.colls, err = lru.New2Q[string, *mongo.Collection](c.cacheSize); err != nil {
		return nil, fmt.Errorf("mongodriver: handle cache: %w", err)
	}

	dbOpts := options.Database().SetRegistry(c.registry().BSON())
	c.db = client.Database(database, dbOpts)
	return c, nil
}

// Database returns the underlying database handle.
func (c *Conn) Database() *mongo.Database {
	return c.db
}

// Compiler returns the compiler used by Run.
func (c *Conn) Compiler() *aggregate.Compiler {
	return c.compiler
}

// Close drops cached collection handles. Connections belong to the
// mongo.Client pool and stay open.
func (c *Conn) Close() error {
	c.colls.Purge()
	return nil
}

func (c *Conn) registry() *codec.Registry {
	return c.compiler.Registry()
}

// collection returns a cached handle for name.
func (c *Conn) collection(name string) *mongo.Collection {
	if coll, ok := c.colls.Get(name); ok {
		return coll
	}
	coll := c.db.Collection(name)
	c.colls.Add(name, coll)
	return coll
}
