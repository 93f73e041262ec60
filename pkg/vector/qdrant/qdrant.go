// Package qdrant provides a Qdrant vector database driver over gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/spool/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection name for storing
	// artifact embeddings.
	DefaultCollectionName = "spool"

	// DefaultPort is Qdrant's gRPC port.
	DefaultPort = 6334

	docIDKey     = "spool_id"
	createdAtKey = "spool_created_at"
)

// pointNamespace derives point IDs for document IDs that are not UUIDs.
var pointNamespace = uuid.MustParse("6f0d6a2e-3c55-5d0e-9f3b-2a1f4be0c7d1")

// Config holds configuration for the Qdrant driver.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// CollectionName defaults to DefaultCollectionName.
	CollectionName string

	// Dimensions sizes the collection when it has to be created.
	Dimensions uint64
}

// Driver implements vector.Driver against a Qdrant collection using cosine
// distance.
type Driver struct {
	client     *qdrant.Client
	collection string
	dimensions uint64
	logger     *slog.Logger
}

var _ vector.Driver = (*Driver)(nil)

// NewDriver connects to Qdrant and ensures the collection exists.
func NewDriver(ctx context.Context, c Config, logger *slog.Logger) (*Driver, error) {
	if c.Host == "" {
		return nil, errors.New("qdrant host is required")
	}
	if c.Dimensions == 0 {
		return nil, errors.New("dimensions must be specified")
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	name := c.CollectionName
	if name == "" {
		name = DefaultCollectionName
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrConnection, err)
	}

	d := &Driver{
		client:     client,
		collection: name,
		dimensions: c.Dimensions,
		logger:     logger,
	}
	if err := d.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("connected to Qdrant",
		"host", c.Host,
		"port", port,
		"collection", name,
	)
	return d, nil
}

func (d *Driver) ensureCollection(ctx context.Context) error {
	exists, err := d.client.CollectionExists(ctx, d.collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection %q: %w", vector.ErrConnection, d.collection, err)
	}
	if exists {
		return nil
	}

	err = d.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: d.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     d.dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %q: %w", d.collection, err)
	}
	return nil
}

// pointID maps a document ID onto a Qdrant point ID. Qdrant only accepts
// UUIDs and unsigned integers, so other IDs are hashed into a UUID and the
// original is kept in the payload.
func pointID(id string) *qdrant.PointId {
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewID(u.String())
	}
	return qdrant.NewID(uuid.NewSHA1(pointNamespace, []byte(id)).String())
}

func toPayload(doc vector.Document) map[string]*qdrant.Value {
	m := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		m[k] = v
	}
	m[docIDKey] = doc.ID
	if !doc.CreatedAt.IsZero() {
		m[createdAtKey] = doc.CreatedAt.UnixNano()
	}
	return qdrant.NewValueMap(m)
}

func fromPayload(payload map[string]*qdrant.Value) vector.Document {
	var doc vector.Document
	for k, v := range payload {
		switch k {
		case docIDKey:
			doc.ID = v.GetStringValue()
		case createdAtKey:
			doc.CreatedAt = time.Unix(0, v.GetIntegerValue()).UTC()
		default:
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]string, len(payload))
			}
			doc.Metadata[k] = v.GetStringValue()
		}
	}
	return doc
}

func (d *Driver) checkDims(doc vector.Document) error {
	if uint64(len(doc.Embedding)) != d.dimensions {
		return fmt.Errorf("%w: document %s has %d dimensions, want %d",
			vector.ErrDimensions, doc.ID, len(doc.Embedding), d.dimensions)
	}
	return nil
}

// Add implements vector.Driver. Upserting by point ID replaces an existing
// document with the same ID.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		if err := d.checkDims(doc); err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: toPayload(doc),
		})
	}

	_, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: d.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: upserting points: %w", vector.ErrConnection, err)
	}

	d.logger.Debug("added documents to qdrant", "count", len(docs))
	return nil
}

// Query implements vector.Driver.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	points, err := d.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: d.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: querying points: %w", vector.ErrConnection, err)
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, p := range points {
		doc := fromPayload(p.GetPayload())
		doc.Embedding = p.GetVectors().GetVector().GetData()
		results = append(results, vector.QueryResult{Document: doc, Score: p.GetScore()})
	}
	vector.Rank(results)

	d.logger.Debug("queried qdrant", "results", len(results))
	return results, nil
}

// Get implements vector.Driver.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}

	points, err := d.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: d.collection,
		Ids:            pids,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: getting points: %w", vector.ErrConnection, err)
	}

	docs := make([]vector.Document, 0, len(points))
	for _, p := range points {
		doc := fromPayload(p.GetPayload())
		doc.Embedding = p.GetVectors().GetVector().GetData()
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete implements vector.Driver.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}

	_, err := d.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: d.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pids...),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting points: %w", vector.ErrConnection, err)
	}
	return nil
}

// Close implements vector.Driver.
func (d *Driver) Close() error {
	return d.client.Close()
}
