package vector

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/axiomkit/knowstore/errors"
	"github.com/google/uuid"
	sdk "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Payload fields reserved for the record envelope. Caller metadata lives
// alongside them, so these names are rejected as metadata keys.
const (
	payloadKey       = "_key"
	payloadNamespace = "_namespace"
)

type (
	// QdrantStore is the managed realization backed by a Qdrant service.
	// Each index maps to one collection; points are keyed by a UUID
	// derived deterministically from the record key so puts stay upserts.
	QdrantStore struct {
		client *sdk.Client
		logger *slog.Logger

		mu         sync.RWMutex
		dimensions map[string]int
	}

	QdrantOptions struct {
		Host   string
		Port   int
		APIKey string
		UseTLS bool
	}
)

var _ Store = (*QdrantStore)(nil)

func NewQdrantStore(options QdrantOptions, logger *slog.Logger) (*QdrantStore, error) {
	client, err := sdk.NewClient(&sdk.Config{
		Host:                   options.Host,
		Port:                   options.Port,
		APIKey:                 options.APIKey,
		UseTLS:                 options.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUnavailable, "failed to create qdrant client: %v", err)
	}

	return &QdrantStore{
		client:     client,
		logger:     logger,
		dimensions: make(map[string]int),
	}, nil
}

func (s *QdrantStore) CreateIndex(ctx context.Context, name string, dimension int, metric Metric) error {
	if name == "" {
		return errors.Wrapf(errors.ErrInvalidParams, "index name is empty")
	}
	if dimension <= 0 {
		return errors.Wrapf(errors.ErrInvalidParams, "dimension must be positive, got %d", dimension)
	}
	if metric != "" && metric != MetricCosine {
		return errors.Wrapf(errors.ErrInvalidParams, "unsupported metric %q", metric)
	}

	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return mapQdrantErr(err, name)
	}
	for _, existing := range names {
		if existing == name {
			s.logger.Warn("collection already exists", "index", name)
			s.rememberDimension(name, dimension)
			return nil
		}
	}

	if err := s.client.CreateCollection(ctx, &sdk.CreateCollection{
		CollectionName: name,
		VectorsConfig: sdk.NewVectorsConfig(&sdk.VectorParams{
			Size:     uint64(dimension),
			Distance: sdk.Distance_Cosine,
		}),
	}); err != nil {
		return mapQdrantErr(err, name)
	}

	s.rememberDimension(name, dimension)
	s.logger.Info("created collection", "index", name, "dimension", dimension)
	return nil
}

func (s *QdrantStore) DeleteIndex(ctx context.Context, name string) error {
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(errors.ErrNotFound, "index %q", name)
	}

	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return mapQdrantErr(err, name)
	}

	s.mu.Lock()
	delete(s.dimensions, name)
	s.mu.Unlock()
	return nil
}

func (s *QdrantStore) PutVectors(ctx context.Context, index string, records []Record) (int, error) {
	dimension, err := s.dimensionOf(ctx, index)
	if err != nil {
		return 0, err
	}

	points := make([]*sdk.PointStruct, 0, len(records))
	for _, record := range records {
		if len(record.Vector) != dimension {
			s.logger.Warn("skipping vector with mismatched dimension",
				"index", index, "key", record.Key,
				"expected", dimension, "got", len(record.Vector))
			continue
		}

		key := record.Key
		if key == "" {
			key = uuid.NewString()
		}

		payload := map[string]any{
			payloadKey:       key,
			payloadNamespace: record.Namespace,
		}
		for k, v := range record.Metadata {
			payload[k] = v
		}

		points = append(points, &sdk.PointStruct{
			Id:      sdk.NewID(pointID(key)),
			Vectors: sdk.NewVectors(record.Vector...),
			Payload: sdk.NewValueMap(payload),
		})
	}
	if len(points) == 0 {
		return 0, nil
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &sdk.UpsertPoints{
		CollectionName: index,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return 0, mapQdrantErr(err, index)
	}
	return len(points), nil
}

func (s *QdrantStore) QueryVectors(ctx context.Context, index string, query []float32, topK int, filter map[string]any) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "topK must be positive, got %d", topK)
	}
	if exists, err := s.collectionExists(ctx, index); err != nil {
		return nil, err
	} else if !exists {
		return nil, errors.Wrapf(errors.ErrNotFound, "index %q", index)
	}
	if isZeroVector(query) {
		s.logger.Warn("query vector has zero norm", "index", index)
		return []SearchResult{}, nil
	}

	var qdrantFilter *sdk.Filter
	if len(filter) > 0 {
		must := make([]*sdk.Condition, 0, len(filter))
		for k, v := range filter {
			condition, err := matchCondition(k, v)
			if err != nil {
				return nil, err
			}
			must = append(must, condition)
		}
		qdrantFilter = &sdk.Filter{Must: must}
	}

	limit := uint64(topK)
	points, err := s.client.Query(ctx, &sdk.QueryPoints{
		CollectionName: index,
		Query:          sdk.NewQuery(query...),
		Limit:          &limit,
		Filter:         qdrantFilter,
		WithPayload:    sdk.NewWithPayload(true),
	})
	if err != nil {
		return nil, mapQdrantErr(err, index)
	}

	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		key, metadata := decodePayload(point.Payload)
		results = append(results, SearchResult{
			Key:      key,
			Score:    float64(point.Score),
			Metadata: metadata,
		})
	}
	return results, nil
}

func (s *QdrantStore) DeleteVectors(ctx context.Context, index string, keys []string) (int, error) {
	if exists, err := s.collectionExists(ctx, index); err != nil {
		return 0, err
	} else if !exists {
		return 0, errors.Wrapf(errors.ErrNotFound, "index %q", index)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	ids := make([]*sdk.PointId, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, sdk.NewID(pointID(key)))
	}

	// Qdrant's delete does not report how many points existed, so count
	// them first to keep the contract's removed-count semantics.
	existing, err := s.client.Get(ctx, &sdk.GetPoints{
		CollectionName: index,
		Ids:            ids,
	})
	if err != nil {
		return 0, mapQdrantErr(err, index)
	}

	wait := true
	if _, err := s.client.Delete(ctx, &sdk.DeletePoints{
		CollectionName: index,
		Points:         sdk.NewPointsSelector(ids...),
		Wait:           &wait,
	}); err != nil {
		return 0, mapQdrantErr(err, index)
	}
	return len(existing), nil
}

func (s *QdrantStore) GetVector(ctx context.Context, index string, key string) (*Record, error) {
	if exists, err := s.collectionExists(ctx, index); err != nil {
		return nil, err
	} else if !exists {
		return nil, errors.Wrapf(errors.ErrNotFound, "index %q", index)
	}

	points, err := s.client.Get(ctx, &sdk.GetPoints{
		CollectionName: index,
		Ids:            []*sdk.PointId{sdk.NewID(pointID(key))},
		WithPayload:    sdk.NewWithPayload(true),
		WithVectors:    sdk.NewWithVectors(true),
	})
	if err != nil {
		return nil, mapQdrantErr(err, index)
	}
	if len(points) == 0 {
		return nil, nil
	}

	point := points[0]
	storedKey, metadata := decodePayload(point.Payload)
	record := &Record{
		Key:      storedKey,
		Metadata: metadata,
	}
	if namespace, ok := point.Payload[payloadNamespace]; ok {
		record.Namespace = namespace.GetStringValue()
	}
	if vectors := point.Vectors.GetVector(); vectors != nil {
		record.Vector = vectors.Data
	}
	return record, nil
}

func (s *QdrantStore) ListIndices(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, mapQdrantErr(err, "")
	}
	sort.Strings(names)
	return names, nil
}

func (s *QdrantStore) Stats(ctx context.Context, name string) (*IndexStats, error) {
	if exists, err := s.collectionExists(ctx, name); err != nil {
		return nil, err
	} else if !exists {
		return nil, errors.Wrapf(errors.ErrNotFound, "index %q", name)
	}

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, mapQdrantErr(err, name)
	}

	stats := &IndexStats{
		Name:        name,
		Metric:      MetricCosine,
		VectorCount: int(info.GetPointsCount()),
	}
	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		stats.Dimension = int(params.Size)
	}
	return stats, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) collectionExists(ctx context.Context, name string) (bool, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return false, mapQdrantErr(err, name)
	}
	for _, existing := range names {
		if existing == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *QdrantStore) rememberDimension(name string, dimension int) {
	s.mu.Lock()
	s.dimensions[name] = dimension
	s.mu.Unlock()
}

// dimensionOf resolves the index dimension, asking the service when this
// process did not create the collection itself.
func (s *QdrantStore) dimensionOf(ctx context.Context, index string) (int, error) {
	s.mu.RLock()
	dimension, ok := s.dimensions[index]
	s.mu.RUnlock()
	if ok {
		return dimension, nil
	}

	if exists, err := s.collectionExists(ctx, index); err != nil {
		return 0, err
	} else if !exists {
		return 0, errors.Wrapf(errors.ErrNotFound, "index %q", index)
	}

	info, err := s.client.GetCollectionInfo(ctx, index)
	if err != nil {
		return 0, mapQdrantErr(err, index)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0, errors.Wrapf(errors.ErrInternal, "collection %q has no vector params", index)
	}

	dimension = int(params.Size)
	s.rememberDimension(index, dimension)
	return dimension, nil
}

// pointID derives a stable UUID from the record key so repeated puts of
// the same key overwrite the same point.
func pointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func matchCondition(field string, value any) (*sdk.Condition, error) {
	switch v := value.(type) {
	case string:
		return sdk.NewMatch(field, v), nil
	case bool:
		return sdk.NewMatchBool(field, v), nil
	case int:
		return sdk.NewMatchInt(field, int64(v)), nil
	case int64:
		return sdk.NewMatchInt(field, v), nil
	case float64:
		// Qdrant payload indices match integers, not doubles.
		if v == float64(int64(v)) {
			return sdk.NewMatchInt(field, int64(v)), nil
		}
		return nil, errors.Wrapf(errors.ErrInvalidParams, "filter value for %q must be a string, bool or integer", field)
	default:
		return nil, errors.Wrapf(errors.ErrInvalidParams, "filter value for %q has unsupported type %T", field, value)
	}
}

func decodePayload(payload map[string]*sdk.Value) (key string, metadata map[string]any) {
	metadata = make(map[string]any, len(payload))
	for k, v := range payload {
		switch k {
		case payloadKey:
			key = v.GetStringValue()
		case payloadNamespace:
		default:
			metadata[k] = valueToAny(v)
		}
	}
	return key, metadata
}

func valueToAny(v *sdk.Value) any {
	switch kind := v.GetKind().(type) {
	case *sdk.Value_StringValue:
		return kind.StringValue
	case *sdk.Value_IntegerValue:
		return kind.IntegerValue
	case *sdk.Value_DoubleValue:
		return kind.DoubleValue
	case *sdk.Value_BoolValue:
		return kind.BoolValue
	case *sdk.Value_ListValue:
		values := kind.ListValue.GetValues()
		list := make([]any, 0, len(values))
		for _, item := range values {
			list = append(list, valueToAny(item))
		}
		return list
	case *sdk.Value_StructValue:
		fields := kind.StructValue.GetFields()
		m := make(map[string]any, len(fields))
		for name, item := range fields {
			m[name] = valueToAny(item)
		}
		return m
	default:
		return nil
	}
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func mapQdrantErr(err error, index string) error {
	switch status.Code(err) {
	case codes.NotFound:
		return errors.Wrapf(errors.ErrNotFound, "index %q: %v", index, err)
	case codes.Unavailable, codes.DeadlineExceeded:
		return errors.Wrapf(errors.ErrUnavailable, "qdrant: %v", err)
	default:
		return errors.WithStack(err)
	}
}
