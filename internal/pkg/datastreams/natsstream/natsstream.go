// Package natsstream carries equipment records and meter readings over NATS.
//
// An equipment stream is a sequence of JSON records published on one subject
// and terminated by a message with an empty body. Readings are published as
// ReadingBatch messages on a reading subject, usually with a wildcard.
package natsstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"github.com/ohowland/cgc_cim/internal/pkg/metrics"
	"github.com/ohowland/cgc_cim/internal/pkg/stream"
	"go.uber.org/zap"
)

// Config is the JSON configuration of a NATS connection.
type Config struct {
	Server         string `json:"Server" yaml:"server"`
	RecordSubject  string `json:"RecordSubject" yaml:"record_subject"`
	ReadingSubject string `json:"ReadingSubject" yaml:"reading_subject"`
	Buffer         int    `json:"Buffer" yaml:"buffer"`
}

// ReadConfig loads a Config from the JSON file at path and fills defaults.
func ReadConfig(path string) (Config, error) {
	jsonConfig, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.Server == "" {
		c.Server = nats.DefaultURL
	}
	if c.RecordSubject == "" {
		c.RecordSubject = "cim.records"
	}
	if c.ReadingSubject == "" {
		c.ReadingSubject = "cim.readings.>"
	}
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
	return c
}

// Connect dials the configured server.
func (c Config) Connect(log *zap.Logger) (*nats.Conn, error) {
	c = c.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("natsstream")
	return nats.Connect(c.Server,
		nats.Name("cgc_cim"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
}

// RecordSource is a stream.Source fed by a NATS subscription.
type RecordSource struct {
	msgs <-chan *nats.Msg
	sub  *nats.Subscription
	done bool
}

// NewRecordSource reads records from msgs.
func NewRecordSource(msgs <-chan *nats.Msg) *RecordSource {
	return &RecordSource{msgs: msgs}
}

// SubscribeRecords subscribes to the record subject of cfg.
func SubscribeRecords(nc *nats.Conn, cfg Config) (*RecordSource, error) {
	cfg = cfg.withDefaults()
	ch := make(chan *nats.Msg, cfg.Buffer)
	sub, err := nc.ChanSubscribe(cfg.RecordSubject, ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", cfg.RecordSubject, err)
	}
	return &RecordSource{msgs: ch, sub: sub}, nil
}

// Next returns the next record. An empty message, or a closed channel, ends
// the stream.
func (s *RecordSource) Next(ctx context.Context) (stream.Record, error) {
	if s.done {
		return stream.Record{}, io.EOF
	}
	select {
	case <-ctx.Done():
		return stream.Record{}, ctx.Err()
	case m, ok := <-s.msgs:
		if !ok || len(m.Data) == 0 {
			s.done = true
			return stream.Record{}, io.EOF
		}
		var rec stream.Record
		if err := json.Unmarshal(m.Data, &rec); err != nil {
			return stream.Record{}, fmt.Errorf("decode record on %s: %w", m.Subject, err)
		}
		return rec, nil
	}
}

// Close removes the subscription, if any.
func (s *RecordSource) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// PublishRecords publishes records followed by the end of stream marker.
func PublishRecords(nc *nats.Conn, subject string, records []stream.Record) error {
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := nc.Publish(subject, data); err != nil {
			return err
		}
	}
	if err := nc.Publish(subject, nil); err != nil {
		return err
	}
	return nc.Flush()
}

// ReadingBatch is the message body on the reading subject.
type ReadingBatch struct {
	MRID     string            `json:"MRID"`
	Name     string            `json:"Name"`
	PsrID    string            `json:"PsrID"`
	Readings []metrics.Reading `json:"Readings"`
}

// ReadingSubscriber files reading batches from NATS into a metrics store.
type ReadingSubscriber struct {
	mux      *sync.Mutex
	pid      uuid.UUID
	inbox    <-chan *nats.Msg
	sub      *nats.Subscription
	store    *metrics.Store
	log      *zap.Logger
	stop     chan struct{}
	stopOnce *sync.Once
}

// NewReadingSubscriber files batches arriving on inbox into store.
func NewReadingSubscriber(inbox <-chan *nats.Msg, store *metrics.Store, log *zap.Logger) *ReadingSubscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReadingSubscriber{
		mux:      &sync.Mutex{},
		pid:      uuid.New(),
		inbox:    inbox,
		store:    store,
		log:      log.Named("natsstream"),
		stop:     make(chan struct{}),
		stopOnce: &sync.Once{},
	}
}

// SubscribeReadings subscribes to the reading subject of cfg.
func SubscribeReadings(nc *nats.Conn, cfg Config, store *metrics.Store, log *zap.Logger) (*ReadingSubscriber, error) {
	cfg = cfg.withDefaults()
	ch := make(chan *nats.Msg, cfg.Buffer)
	sub, err := nc.ChanSubscribe(cfg.ReadingSubject, ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", cfg.ReadingSubject, err)
	}
	r := NewReadingSubscriber(ch, store, log)
	r.sub = sub
	return r, nil
}

func (r *ReadingSubscriber) PID() uuid.UUID {
	return r.pid
}

// Handle files one reading batch.
func (r *ReadingSubscriber) Handle(m *nats.Msg) error {
	var batch ReadingBatch
	if err := json.Unmarshal(m.Data, &batch); err != nil {
		return fmt.Errorf("decode readings on %s: %w", m.Subject, err)
	}
	if batch.MRID == "" {
		return fmt.Errorf("readings on %s carry no meter mRID", m.Subject)
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	r.store.StoreReadings(batch.MRID, batch.Name, batch.PsrID, batch.Readings)
	return nil
}

// Process handles incoming batches until Stop is called or the inbox closes.
func (r *ReadingSubscriber) Process() {
	r.log.Info("process started", zap.String("pid", r.pid.String()))
loop:
	for {
		select {
		case m, ok := <-r.inbox:
			if !ok {
				break loop
			}
			if err := r.Handle(m); err != nil {
				r.log.Warn("dropping message", zap.Error(err))
			}
		case <-r.stop:
			break loop
		}
	}
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			r.log.Warn("unsubscribe", zap.Error(err))
		}
	}
	r.log.Info("process shutdown")
}

// Stop ends Process. It does not block and may be called more than once,
// including after Process has returned.
func (r *ReadingSubscriber) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}
