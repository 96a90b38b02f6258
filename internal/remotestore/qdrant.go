package remotestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nivantalabs/lessond/internal/lesson"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("lessond.remotestore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (6334, not the HTTP 6333).
	Port int `koanf:"port"`

	// Collection is the lesson collection name.
	Collection string `koanf:"collection"`

	// VectorSize is the embedding dimensionality. Must match the embedding
	// provider's output.
	VectorSize uint64 `koanf:"vector_size"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int `koanf:"max_message_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "lessons"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 16 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection required", ErrInvalidConfig)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// QdrantStore is a Store backed by Qdrant's native gRPC client.
//
// One point per lesson, keyed by a UUID derived from the normalized title so
// upserting the same lesson replaces its point. Counter updates go through
// SetPayload and are serialized per title.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// titleLocks serializes read-modify-write payload updates per lesson.
	titleLocks sync.Map
}

// NewQdrantStore connects to Qdrant and ensures the lesson collection exists.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	store := &QdrantStore{
		client: client,
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant lesson store ready",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection))

	return store, nil
}

// isTransient reports whether a gRPC error should degrade to ErrUnavailable.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// classify wraps backend errors so callers can test errors.Is(err, ErrUnavailable).
func classify(op string, err error) error {
	if isTransient(err) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	_, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
		return classify("checking collection", err)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return classify("creating collection", err)
	}
	return nil
}

// pointID derives the stable point UUID for a lesson title.
func pointID(title string) *qdrant.PointId {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(lesson.NormalizeTitle(title)))
	return qdrant.NewIDUUID(id.String())
}

// Query returns remote lessons matching the metadata query, ordered by
// confidence descending.
func (s *QdrantStore) Query(ctx context.Context, q MetadataQuery) ([]lesson.Lesson, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer span.End()

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryCap
	}
	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("limit", limit),
	)

	var conditions []*qdrant.Condition
	if q.Category != "" {
		conditions = append(conditions, fieldMatch("category", string(q.Category)))
	}
	if q.MinConfidence > 0 {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "confidence",
					Range: &qdrant.Range{Gte: qdrant.PtrOf(q.MinConfidence)},
				},
			},
		})
	}
	var filter *qdrant.Filter
	if len(conditions) > 0 {
		filter = &qdrant.Filter{Must: conditions}
	}

	// Project-type and tech admission ("declares it or declares nothing")
	// is not expressible as a plain must clause, so scroll a wider window
	// and filter client-side.
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.config.Collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(limit * 4)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classify("scrolling lessons", err)
	}

	lessons := make([]lesson.Lesson, 0, len(points))
	for _, p := range points {
		l, err := payloadToLesson(p.Payload)
		if err != nil {
			s.logger.Warn("skipping undecodable lesson point", zap.Error(err))
			continue
		}
		if !admits(l, q) {
			continue
		}
		lessons = append(lessons, *l)
	}

	sort.Slice(lessons, func(i, j int) bool {
		if lessons[i].Confidence != lessons[j].Confidence {
			return lessons[i].Confidence > lessons[j].Confidence
		}
		return lessons[i].Key() < lessons[j].Key()
	})
	if len(lessons) > limit {
		lessons = lessons[:limit]
	}

	span.SetAttributes(attribute.Int("results", len(lessons)))
	span.SetStatus(codes.Ok, "success")
	return lessons, nil
}

// admits applies the declare-or-generic admission rule shared by all stores.
func admits(l *lesson.Lesson, q MetadataQuery) bool {
	if q.ProjectType != "" && len(l.ProjectTypes) > 0 && !containsFold(l.ProjectTypes, q.ProjectType) {
		return false
	}
	if len(q.TechStacks) > 0 && len(l.TechStacks) > 0 {
		found := false
		for _, t := range q.TechStacks {
			if containsFold(l.TechStacks, t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SimilaritySearch returns lessons nearest to the query vector above the
// similarity threshold.
func (s *QdrantStore) SimilaritySearch(ctx context.Context, vector []float32, limit int, threshold float64) ([]SemanticMatch, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.SimilaritySearch")
	defer span.End()

	if limit <= 0 {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = DefaultScoreThreshold
	}
	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("limit", limit),
		attribute.Float64("threshold", threshold),
	)

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(float32(threshold)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classify("similarity search", err)
	}

	matches := make([]SemanticMatch, 0, len(points))
	for _, p := range points {
		l, err := payloadToLesson(p.Payload)
		if err != nil {
			s.logger.Warn("skipping undecodable lesson point", zap.Error(err))
			continue
		}
		matches = append(matches, SemanticMatch{Lesson: *l, Similarity: float64(p.Score)})
	}

	span.SetAttributes(attribute.Int("results", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Upsert stores a lesson and its embedding, replacing any lesson with the
// same normalized title. A nil embedding means metadata only: an existing
// point keeps its stored vector untouched, a new point gets a placeholder
// until a real embedding replaces it.
func (s *QdrantStore) Upsert(ctx context.Context, l *lesson.Lesson, embedding []float32) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	if err := l.Validate(); err != nil {
		return err
	}

	if embedding == nil {
		replaced, err := s.replacePayloadOnly(ctx, l)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if replaced {
			span.SetStatus(codes.Ok, "success")
			return nil
		}
		embedding = placeholderVector(s.config.VectorSize)
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(l.Title),
			Vectors: qdrant.NewVectors(embedding...),
			Payload: lessonToPayload(l),
		}},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classify("upserting lesson", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// IncrementCounter atomically increments one counter field on a lesson.
// Updates for the same title are serialized so concurrent increments all land.
func (s *QdrantStore) IncrementCounter(ctx context.Context, title, field string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.IncrementCounter")
	defer span.End()
	span.SetAttributes(attribute.String("field", field))

	return s.updatePayload(ctx, title, func(payload map[string]*qdrant.Value) map[string]*qdrant.Value {
		current := intValue(payload[field])
		return map[string]*qdrant.Value{
			field: {Kind: &qdrant.Value_IntegerValue{IntegerValue: current + 1}},
		}
	})
}

// AdjustConfidence applies a clamped confidence delta to a lesson.
func (s *QdrantStore) AdjustConfidence(ctx context.Context, title string, delta float64) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.AdjustConfidence")
	defer span.End()
	span.SetAttributes(attribute.Float64("delta", delta))

	return s.updatePayload(ctx, title, func(payload map[string]*qdrant.Value) map[string]*qdrant.Value {
		current := floatValue(payload["confidence"])
		return map[string]*qdrant.Value{
			"confidence": {Kind: &qdrant.Value_DoubleValue{DoubleValue: lesson.ClampConfidence(current + delta)}},
		}
	})
}

// placeholderVector stands in for lessons stored before an embedding could
// be produced. A zero vector has no cosine direction and some server
// versions reject it at upsert, so the placeholder is the first basis
// vector: valid under the distance metric, while its similarity to any
// normalized real embedding stays around 1/sqrt(dim), below the default
// score threshold.
func placeholderVector(size uint64) []float32 {
	v := make([]float32, size)
	if size > 0 {
		v[0] = 1
	}
	return v
}

// replacePayloadOnly rewrites the stored payload of an existing lesson
// without touching its vector. Returns false when no point exists yet.
func (s *QdrantStore) replacePayloadOnly(ctx context.Context, l *lesson.Lesson) (bool, error) {
	key := l.Key()
	muAny, _ := s.titleLocks.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	id := pointID(l.Title)
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.config.Collection,
		Ids:            []*qdrant.PointId{id},
	})
	if err != nil {
		return false, classify("reading lesson", err)
	}
	if len(points) == 0 {
		return false, nil
	}

	_, err = s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.config.Collection,
		Payload:        lessonToPayload(l),
		PointsSelector: qdrant.NewPointsSelector(id),
	})
	if err != nil {
		return false, classify("updating lesson payload", err)
	}
	return true, nil
}

// updatePayload performs a serialized read-modify-write of a lesson's payload.
func (s *QdrantStore) updatePayload(ctx context.Context, title string, update func(map[string]*qdrant.Value) map[string]*qdrant.Value) error {
	key := lesson.NormalizeTitle(title)
	muAny, _ := s.titleLocks.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	id := pointID(title)
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.config.Collection,
		Ids:            []*qdrant.PointId{id},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return classify("reading lesson", err)
	}
	if len(points) == 0 {
		return fmt.Errorf("%w: %q", lesson.ErrNotFound, title)
	}

	_, err = s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.config.Collection,
		Payload:        update(points[0].Payload),
		PointsSelector: qdrant.NewPointsSelector(id),
	})
	if err != nil {
		return classify("updating lesson payload", err)
	}
	return nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// lessonToPayload flattens a lesson into a Qdrant payload.
func lessonToPayload(l *lesson.Lesson) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		"id":                stringValue(l.ID),
		"title":             stringValue(l.Title),
		"category":          stringValue(string(l.Category)),
		"description":       stringValue(l.Description),
		"context":           stringValue(l.Context),
		"recommendation":    stringValue(l.Recommendation),
		"confidence":        {Kind: &qdrant.Value_DoubleValue{DoubleValue: l.Confidence}},
		"frequency":         intPayload(l.Frequency),
		"times_surfaced":    intPayload(l.TimesSurfaced),
		"times_helpful":     intPayload(l.TimesHelpful),
		"times_not_helpful": intPayload(l.TimesNotHelpful),
		"upvotes":           intPayload(l.Upvotes),
		"downvotes":         intPayload(l.Downvotes),
		"project_types":     listValue(l.ProjectTypes),
		"tech_stacks":       listValue(l.TechStacks),
		"tags":              listValue(l.Tags),
		"created_at":        stringValue(l.CreatedAt.UTC().Format(time.RFC3339Nano)),
		"updated_at":        stringValue(l.UpdatedAt.UTC().Format(time.RFC3339Nano)),
	}
	return payload
}

// payloadToLesson rebuilds a lesson from a Qdrant payload.
func payloadToLesson(payload map[string]*qdrant.Value) (*lesson.Lesson, error) {
	title := strValue(payload["title"])
	if title == "" {
		return nil, lesson.ErrEmptyTitle
	}

	l := &lesson.Lesson{
		ID:              strValue(payload["id"]),
		Title:           title,
		Category:        lesson.ParseCategory(strValue(payload["category"])),
		Description:     strValue(payload["description"]),
		Context:         strValue(payload["context"]),
		Recommendation:  strValue(payload["recommendation"]),
		Confidence:      lesson.ClampConfidence(floatValue(payload["confidence"])),
		Frequency:       int(intValue(payload["frequency"])),
		TimesSurfaced:   int(intValue(payload["times_surfaced"])),
		TimesHelpful:    int(intValue(payload["times_helpful"])),
		TimesNotHelpful: int(intValue(payload["times_not_helpful"])),
		Upvotes:         int(intValue(payload["upvotes"])),
		Downvotes:       int(intValue(payload["downvotes"])),
		ProjectTypes:    strList(payload["project_types"]),
		TechStacks:      strList(payload["tech_stacks"]),
		Tags:            strList(payload["tags"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, strValue(payload["created_at"])); err == nil {
		l.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, strValue(payload["updated_at"])); err == nil {
		l.UpdatedAt = ts
	}
	return l, nil
}

func fieldMatch(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intPayload(i int) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(i)}}
}

func listValue(items []string) *qdrant.Value {
	values := make([]*qdrant.Value, len(items))
	for i, item := range items {
		values[i] = stringValue(item)
	}
	return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
}

func strValue(v *qdrant.Value) string {
	if v == nil {
		return ""
	}
	if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
		return sv.StringValue
	}
	return ""
}

func intValue(v *qdrant.Value) int64 {
	if v == nil {
		return 0
	}
	if iv, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
		return iv.IntegerValue
	}
	return 0
}

func floatValue(v *qdrant.Value) float64 {
	if v == nil {
		return 0
	}
	if dv, ok := v.Kind.(*qdrant.Value_DoubleValue); ok {
		return dv.DoubleValue
	}
	return 0
}

func strList(v *qdrant.Value) []string {
	if v == nil {
		return nil
	}
	lv, ok := v.Kind.(*qdrant.Value_ListValue)
	if !ok || lv.ListValue == nil || len(lv.ListValue.Values) == 0 {
		return nil
	}
	out := make([]string, 0, len(lv.ListValue.Values))
	for _, item := range lv.ListValue.Values {
		if s := strValue(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(needle)) {
			return true
		}
	}
	return false
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
