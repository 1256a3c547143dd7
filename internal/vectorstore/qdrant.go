package vectorstore

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	defaultVectorDimension = 1536

	payloadTeamID       = "team_id"
	payloadDatasetID    = "dataset_id"
	payloadCollectionID = "collection_id"
)

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool   // Explicitly enable TLS without API Key
	VectorDimension int
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantBackend stores dataset vectors in one Qdrant collection, scoped by payload fields.
type QdrantBackend struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantBackend creates a new QdrantBackend.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key)
func NewQdrantBackend(cfg *QdrantConnectionConfig) (*QdrantBackend, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	var opts []grpc.DialOption

	// TLS is enabled if: APIKey is set OR UseTLS is explicitly true
	useTLS := cfg.UseTLS || cfg.APIKey != ""

	if useTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))

		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantBackend{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
	}, nil
}

func (r *QdrantBackend) Name() string { return "qdrant" }

// Close closes the gRPC connection
func (r *QdrantBackend) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection and its payload indexes if they don't exist
func (r *QdrantBackend) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(r.vectorDimension) {
				return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
			}
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for _, field := range []string{payloadTeamID, payloadDatasetID, payloadCollectionID} {
		_, err = r.pointsClient.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: r.collectionName,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create payload index %s: %w", field, err)
		}
	}

	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func optionalBool(v bool) *bool {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}

	params := info.GetConfig().GetParams()
	if params == nil {
		return 0, false
	}

	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}

	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}

	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if size := vectorParams.GetSize(); size > 0 {
				return size, true
			}
		}
	}

	return 0, false
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// Insert stores one vector under a fresh point id
func (r *QdrantBackend) Insert(ctx context.Context, p InsertParams) (string, error) {
	id := uuid.New().String()

	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Points: []*pb.PointStruct{
			{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: id},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: p.Vector},
					},
				},
				Payload: map[string]*pb.Value{
					payloadTeamID:       stringValue(p.TeamID),
					payloadDatasetID:    stringValue(p.DatasetID),
					payloadCollectionID: stringValue(p.CollectionID),
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upsert point: %w", err)
	}

	return id, nil
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func keywordsCondition(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: values}},
				},
			},
		},
	}
}

func pointIDs(ids []string) []*pb.PointId {
	out := make([]*pb.PointId, 0, len(ids))
	for _, id := range ids {
		out = append(out, &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}})
	}
	return out
}

func buildDeleteFilter(f DeleteFilter) *pb.Filter {
	must := []*pb.Condition{keywordCondition(payloadTeamID, f.TeamID)}
	switch {
	case len(f.IDs) > 0:
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_HasId{HasId: &pb.HasIdCondition{HasId: pointIDs(f.IDs)}},
		})
	case len(f.CollectionIDs) > 0:
		must = append(must, keywordsCondition(payloadCollectionID, f.CollectionIDs))
	default:
		must = append(must, keywordsCondition(payloadDatasetID, f.DatasetIDs))
	}
	return &pb.Filter{Must: must}
}

// Delete removes every point matched by the filter
func (r *QdrantBackend) Delete(ctx context.Context, f DeleteFilter) error {
	if f.empty() {
		return ErrEmptyFilter
	}

	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: buildDeleteFilter(f)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}

	return nil
}

// Recall performs a vector similarity search scoped to a team's datasets
func (r *QdrantBackend) Recall(ctx context.Context, p RecallParams) ([]RecallResult, error) {
	filter := &pb.Filter{
		Must: []*pb.Condition{
			keywordCondition(payloadTeamID, p.TeamID),
			keywordsCondition(payloadDatasetID, p.DatasetIDs),
		},
	}
	if len(p.FilterCollectionIDs) > 0 {
		filter.Must = append(filter.Must, keywordsCondition(payloadCollectionID, p.FilterCollectionIDs))
	}
	if len(p.ForbidCollectionIDs) > 0 {
		filter.MustNot = append(filter.MustNot, keywordsCondition(payloadCollectionID, p.ForbidCollectionIDs))
	}

	resp, err := r.pointsClient.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         p.Vector,
		Limit:          uint64(p.Limit),
		Filter:         filter,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]RecallResult, len(resp.Result))
	for i, scored := range resp.Result {
		results[i] = RecallResult{
			ID:           scored.Id.GetUuid(),
			CollectionID: scored.Payload[payloadCollectionID].GetStringValue(),
			Score:        scored.Score,
		}
	}

	return results, nil
}

func (r *QdrantBackend) count(ctx context.Context, conditions ...*pb.Condition) (int64, error) {
	resp, err := r.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: r.collectionName,
		Filter:         &pb.Filter{Must: conditions},
		Exact:          optionalBool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int64(resp.GetResult().GetCount()), nil
}

func (r *QdrantBackend) CountByTeam(ctx context.Context, teamID string) (int64, error) {
	return r.count(ctx, keywordCondition(payloadTeamID, teamID))
}

func (r *QdrantBackend) CountByDataset(ctx context.Context, teamID, datasetID string) (int64, error) {
	return r.count(ctx, keywordCondition(payloadTeamID, teamID), keywordCondition(payloadDatasetID, datasetID))
}

func (r *QdrantBackend) CountByCollection(ctx context.Context, teamID, collectionID string) (int64, error) {
	return r.count(ctx, keywordCondition(payloadTeamID, teamID), keywordCondition(payloadCollectionID, collectionID))
}

// RelabelTeam rewrites the team payload of every point in the given datasets
func (r *QdrantBackend) RelabelTeam(ctx context.Context, oldTeamID, newTeamID string, datasetIDs []string) (int64, error) {
	if len(datasetIDs) == 0 {
		return 0, nil
	}
	conditions := []*pb.Condition{
		keywordCondition(payloadTeamID, oldTeamID),
		keywordsCondition(payloadDatasetID, datasetIDs),
	}

	migrated, err := r.count(ctx, conditions...)
	if err != nil {
		return 0, err
	}
	if migrated == 0 {
		return 0, nil
	}

	_, err = r.pointsClient.SetPayload(ctx, &pb.SetPayloadPoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Payload:        map[string]*pb.Value{payloadTeamID: stringValue(newTeamID)},
		PointsSelector: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: &pb.Filter{Must: conditions}},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to relabel points: %w", err)
	}

	return migrated, nil
}
