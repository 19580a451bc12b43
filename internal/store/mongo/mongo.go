// Package mongo provides a MongoDB-backed scheduler.Persister, the durable
// alternate backend to the FS-JSON store for experiment metadata/status/
// results (spec §4.7: "Caches/Loaders ... optional durable backend").
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/clinicflow/workflow-engine/internal/scheduler"
)

const (
	defaultExperimentsCollection = "experiments"
	defaultOpTimeout             = 5 * time.Second
)

// Options configures the Mongo-backed experiment store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements scheduler.Persister against a MongoDB collection, one
// document per experiment keyed by name.
type Store struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

// NewStore builds a Store from a pre-configured client.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultExperimentsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return nil, err
	}
	return &Store{coll: coll, timeout: timeout}, nil
}

type experimentDoc struct {
	Name     string              `bson:"name"`
	Metadata *scheduler.Metadata  `bson:"metadata,omitempty"`
	Status   *scheduler.StatusRecord `bson:"status,omitempty"`
	Results  *scheduler.Results   `bson:"results,omitempty"`
}

func (s *Store) upsertField(ctx context.Context, name, field string, value any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	filter := bson.M{"name": name}
	update := bson.M{
		"$set":         bson.M{field: value},
		"$setOnInsert": bson.M{"name": name},
	}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// SaveMetadata implements scheduler.Persister.
func (s *Store) SaveMetadata(name string, m scheduler.Metadata) error {
	return s.upsertField(context.Background(), name, "metadata", m)
}

// SaveStatus implements scheduler.Persister.
func (s *Store) SaveStatus(name string, st scheduler.StatusRecord) error {
	return s.upsertField(context.Background(), name, "status", st)
}

// SaveResults implements scheduler.Persister.
func (s *Store) SaveResults(name string, r scheduler.Results) error {
	return s.upsertField(context.Background(), name, "results", r)
}

// Load returns the full document persisted for an experiment name.
func (s *Store) Load(ctx context.Context, name string) (scheduler.Metadata, scheduler.StatusRecord, scheduler.Results, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var doc experimentDoc
	err := s.coll.FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if err != nil {
		return scheduler.Metadata{}, scheduler.StatusRecord{}, scheduler.Results{}, err
	}
	var m scheduler.Metadata
	var st scheduler.StatusRecord
	var r scheduler.Results
	if doc.Metadata != nil {
		m = *doc.Metadata
	}
	if doc.Status != nil {
		st = *doc.Status
	}
	if doc.Results != nil {
		r = *doc.Results
	}
	return m, st, r, nil
}

var _ scheduler.Persister = (*Store)(nil)
