// Package mongostream reads and archives equipment records in a MongoDB
// collection. Each document holds one record keyed by its tag.
package mongostream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ohowland/cgc_cim/internal/pkg/stream"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Config is the JSON configuration of the record collection.
type Config struct {
	URI        string `json:"URI" yaml:"uri"`
	Port       string `json:"Port" yaml:"port"`
	Database   string `json:"Database" yaml:"database"`
	Collection string `json:"Collection" yaml:"collection"`
}

// ReadConfig loads a Config from the JSON file at path.
func ReadConfig(path string) (Config, error) {
	jsonConfig, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Collection == "" {
		cfg.Collection = "records"
	}
	return cfg, nil
}

// ApplyURI returns the client URI, with the port appended when configured.
func (c Config) ApplyURI() string {
	if c.Port == "" {
		return c.URI
	}
	return c.URI + ":" + c.Port
}

// Connect opens a client and returns the record collection.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Collection, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.ApplyURI()))
	if err != nil {
		return nil, nil, err
	}
	return client, client.Database(cfg.Database).Collection(cfg.Collection), nil
}

// cursor is the part of *mongo.Cursor a Source needs.
type cursor interface {
	Next(ctx context.Context) bool
	Decode(v interface{}) error
	Err() error
	Close(ctx context.Context) error
}

// Source is a stream.Source reading records from a cursor in natural order.
type Source struct {
	cur cursor
	log *zap.Logger
	n   int
}

// NewSource reads records from cur.
func NewSource(cur cursor, log *zap.Logger) *Source {
	if log == nil {
		log = zap.NewNop()
	}
	return &Source{cur: cur, log: log.Named("mongostream")}
}

// Find opens a Source over every document in coll, in insertion order.
func Find(ctx context.Context, coll *mongo.Collection, log *zap.Logger) (*Source, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find records in %s: %w", coll.Name(), err)
	}
	return NewSource(cur, log), nil
}

func (s *Source) Next(ctx context.Context) (stream.Record, error) {
	if !s.cur.Next(ctx) {
		if err := s.cur.Err(); err != nil {
			return stream.Record{}, err
		}
		if err := ctx.Err(); err != nil {
			return stream.Record{}, err
		}
		s.log.Debug("cursor exhausted", zap.Int("records", s.n))
		return stream.Record{}, io.EOF
	}
	var rec stream.Record
	if err := s.cur.Decode(&rec); err != nil {
		return stream.Record{}, fmt.Errorf("decode document %d: %w", s.n, err)
	}
	s.n++
	return rec, nil
}

func (s *Source) Close(ctx context.Context) error {
	return s.cur.Close(ctx)
}

// Archive replaces the contents of coll with records.
func Archive(ctx context.Context, coll *mongo.Collection, records []stream.Record) error {
	if err := coll.Drop(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, rec := range records {
		docs[i] = rec
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("archive %d records: %w", len(records), err)
	}
	return nil
}
