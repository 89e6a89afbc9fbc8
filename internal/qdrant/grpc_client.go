package qdrant

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/repolens/internal/logging"
)

// GRPCClient implements Client on top of the official Qdrant Go client.
// Every call is bounded by RequestTimeout and retried on transient gRPC
// codes.
type GRPCClient struct {
	client *qdrant.Client
	config *ClientConfig
	logger *logging.Logger
}

var _ Client = (*GRPCClient)(nil)

// NewGRPCClient connects to Qdrant and runs a health check before
// returning. A nil config means DefaultClientConfig.
func NewGRPCClient(config *ClientConfig, logger *logging.Logger) (*GRPCClient, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if config == nil {
		config = &ClientConfig{}
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:        config.Host,
		Port:        config.Port,
		UseTLS:      config.UseTLS,
		APIKey:      config.APIKey,
		GrpcOptions: dialOptions(config),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	c := &GRPCClient{client: client, config: config, logger: logger}
	endpoint := []zap.Field{zap.String("host", config.Host), zap.Int("port", config.Port)}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := c.Health(ctx); err != nil {
		_ = client.Close()
		logger.Error(ctx, "qdrant health check failed", append(endpoint, zap.Error(err))...)
		return nil, err
	}
	logger.Info(ctx, "qdrant connection established", endpoint...)
	return c, nil
}

func dialOptions(config *ClientConfig) []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	}
	if !config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return opts
}

// call bounds fn by RequestTimeout and retries it.
func (c *GRPCClient) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	return c.retry(ctx, op, func() error { return fn(ctx) })
}

func (c *GRPCClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()
	if _, err := c.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (c *GRPCClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.call(ctx, "collection info", func(ctx context.Context) error {
		info, err := c.client.GetCollectionInfo(ctx, name)
		if status.Code(err) == codes.NotFound {
			exists = false
			return nil
		}
		exists = info != nil
		return err
	})
	return exists, err
}

// CreateCollection creates a single dense-vector collection. An existing
// collection is not an error.
func (c *GRPCClient) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	req := &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: c.config.Distance,
		}),
	}
	return c.call(ctx, "create collection", func(ctx context.Context) error {
		if err := c.client.CreateCollection(ctx, req); status.Code(err) != codes.AlreadyExists {
			return err
		}
		return nil
	})
}

func (c *GRPCClient) CreateKeywordIndex(ctx context.Context, collection, field string) error {
	req := &qdrant.CreateFieldIndexCollection{
		CollectionName: collection,
		FieldName:      field,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	}
	return c.call(ctx, "create field index", func(ctx context.Context) error {
		_, err := c.client.CreateFieldIndex(ctx, req)
		return err
	})
}

func (c *GRPCClient) Upsert(ctx context.Context, collection string, points []*Point) error {
	req := &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         make([]*qdrant.PointStruct, 0, len(points)),
		Wait:           qdrant.PtrOf(true),
	}
	for _, p := range points {
		req.Points = append(req.Points, toPointStruct(p))
	}
	return c.call(ctx, "upsert", func(ctx context.Context) error {
		_, err := c.client.Upsert(ctx, req)
		return err
	})
}

// Search returns the nearest points with payloads, best first.
func (c *GRPCClient) Search(ctx context.Context, collection string, vector []float32, limit uint64, filter *Filter, scoreThreshold *float32) ([]*ScoredPoint, error) {
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         toFilter(filter),
		ScoreThreshold: scoreThreshold,
	}

	var hits []*qdrant.ScoredPoint
	err := c.call(ctx, "query", func(ctx context.Context) error {
		var err error
		hits, err = c.client.Query(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*ScoredPoint, 0, len(hits))
	for _, h := range hits {
		out = append(out, fromScoredPoint(h))
	}
	return out, nil
}

func (c *GRPCClient) Delete(ctx context.Context, collection string, ids []string) error {
	list := &qdrant.PointsIdsList{Ids: make([]*qdrant.PointId, 0, len(ids))}
	for _, id := range ids {
		list.Ids = append(list.Ids, qdrant.NewIDUUID(id))
	}
	return c.deletePoints(ctx, collection, &qdrant.PointsSelector{
		PointsSelectorOneOf: &qdrant.PointsSelector_Points{Points: list},
	})
}

// DeleteByFilter removes every point matching filter. An empty filter is
// refused so a missing repository id cannot wipe the collection.
func (c *GRPCClient) DeleteByFilter(ctx context.Context, collection string, filter *Filter) error {
	f := toFilter(filter)
	if f == nil {
		return errors.New("delete by filter requires at least one condition")
	}
	return c.deletePoints(ctx, collection, &qdrant.PointsSelector{
		PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: f},
	})
}

func (c *GRPCClient) deletePoints(ctx context.Context, collection string, sel *qdrant.PointsSelector) error {
	req := &qdrant.DeletePoints{CollectionName: collection, Wait: qdrant.PtrOf(true), Points: sel}
	return c.call(ctx, "delete", func(ctx context.Context) error {
		_, err := c.client.Delete(ctx, req)
		return err
	})
}

func (c *GRPCClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
