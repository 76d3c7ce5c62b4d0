package document

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/observability/tracing"
	mongostore "github.com/signalmax/signalmax/pkg/store/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSource implements Store on MongoDB: keyset pagination over (field, _id),
// multi-document transactions for batches and change streams for subscriptions.
type MongoSource struct {
	adapter *mongostore.Adapter
	logger  logger.Logger
}

// NewMongoSource creates a new MongoSource instance.
func NewMongoSource(adapter *mongostore.Adapter, log logger.Logger) (*MongoSource, error) {
	if adapter == nil {
		return nil, fmt.Errorf("mongodb adapter is required")
	}
	return &MongoSource{adapter: adapter, logger: log}, nil
}

// Find implements Source.
func (s *MongoSource) Find(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	filter, err := mongoFilter(q)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBQuery,
		tracing.WithDBSystem("mongodb"), tracing.WithDBTable(q.Collection))
	defer span.End()

	opts := options.Find().SetSort(mongoSort(q))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	var raw []bson.M
	if err := s.adapter.Find(ctx, q.Collection, filter, opts, &raw); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("find %s: %w", q.Collection, err)
	}
	out := make([]Document, 0, len(raw))
	for _, m := range raw {
		out = append(out, fromBSON(q.Collection, m))
	}
	tracing.RecordSuccess(span)
	return out, nil
}

// Get implements Getter.
func (s *MongoSource) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw bson.M
	err := s.adapter.FindOne(ctx, collection, bson.D{{Key: "_id", Value: id}}, &raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, documentError(ErrNotFound, collection+"/"+id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return fromBSON(collection, raw), nil
}

// Commit implements Batcher inside one multi-document transaction.
func (s *MongoSource) Commit(ctx context.Context, writes []Write) error {
	if err := ValidateWrites(writes); err != nil {
		return err
	}
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBTx, tracing.WithDBSystem("mongodb"))
	defer span.End()

	err := s.adapter.WithTransaction(ctx, func(tx context.Context) error {
		for _, w := range writes {
			if err := s.apply(tx, w); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.RecordSuccess(span)
	return nil
}

func (s *MongoSource) apply(ctx context.Context, w Write) error {
	coll := s.adapter.Collection(w.Collection)
	key := bson.D{{Key: "_id", Value: w.ID}}
	switch w.Kind {
	case WriteDelete:
		_, err := coll.DeleteOne(ctx, key)
		return err
	case WriteSet:
		data, err := ApplyFields(nil, w.Data)
		if err != nil {
			return err
		}
		_, err = coll.ReplaceOne(ctx, key, bson.M(data), options.Replace().SetUpsert(true))
		return err
	case WriteUpdate:
		update, err := mongoUpdate(w.Data)
		if err != nil {
			return err
		}
		res, err := coll.UpdateOne(ctx, key, update)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return documentError(ErrNotFound, w.Path())
		}
		return nil
	}
	return documentError(ErrInvalidWrite, "unknown write kind "+string(w.Kind))
}

type mongoChangeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             bson.M `bson:"fullDocument"`
	FullDocumentBeforeChange bson.M `bson:"fullDocumentBeforeChange"`
}

type mongoSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close cancels the change stream and waits for the reader goroutine to exit.
func (s *mongoSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// Subscribe implements Subscriber with a change stream. Pre-images are used when the
// collection has them enabled; otherwise updates are classified from the post-image only.
func (s *MongoSource) Subscribe(ctx context.Context, q Query, onChange func(Change), onError func(error)) (Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if onChange == nil {
		return nil, documentError(ErrInvalidQuery, "change handler is required")
	}
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)
	stream, err := s.adapter.Watch(watchCtx, q.Collection, mongo.Pipeline{}, opts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", q.Collection, err)
	}

	sub := &mongoSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer stream.Close(context.Background())
		for stream.Next(watchCtx) {
			var ev mongoChangeEvent
			if err := stream.Decode(&ev); err != nil {
				s.logger.Warn("skipping undecodable change event", "collection", q.Collection, "error", err)
				continue
			}
			ch, ok, streamErr := classifyMongoEvent(q, ev)
			if streamErr != nil {
				if onError != nil {
					onError(streamErr)
				}
				return
			}
			if ok {
				onChange(ch)
			}
		}
		if err := stream.Err(); err != nil && watchCtx.Err() == nil && onError != nil {
			onError(err)
		}
	}()
	return sub, nil
}

func classifyMongoEvent(q Query, ev mongoChangeEvent) (Change, bool, error) {
	id := mongoID(ev.DocumentKey.ID)
	var before, after *Document
	if ev.FullDocumentBeforeChange != nil {
		d := fromBSON(q.Collection, ev.FullDocumentBeforeChange)
		before = &d
	}
	if ev.FullDocument != nil {
		d := fromBSON(q.Collection, ev.FullDocument)
		after = &d
	}

	switch ev.OperationType {
	case "insert":
		ch, ok := Classify(q, nil, after)
		return ch, ok, nil
	case "update", "replace":
		if before != nil {
			ch, ok := Classify(q, before, after)
			return ch, ok, nil
		}
		if after != nil && Matches(q, *after) {
			return Change{Kind: ChangeModified, Document: *after}, true, nil
		}
		return Change{Kind: ChangeRemoved, Document: Document{Collection: q.Collection, ID: id}}, true, nil
	case "delete":
		if before != nil {
			ch, ok := Classify(q, before, nil)
			return ch, ok, nil
		}
		return Change{Kind: ChangeRemoved, Document: Document{Collection: q.Collection, ID: id}}, true, nil
	case "invalidate", "drop", "rename", "dropDatabase":
		return Change{}, false, documentError(ErrClosed, "change stream ended by "+ev.OperationType)
	}
	return Change{}, false, nil
}

func mongoField(field string) string {
	if field == IDField {
		return "_id"
	}
	return field
}

var mongoOps = map[Op]string{
	OpEqual:        "$eq",
	OpNotEqual:     "$ne",
	OpLess:         "$lt",
	OpLessEqual:    "$lte",
	OpGreater:      "$gt",
	OpGreaterEqual: "$gte",
}

func mongoFilter(q Query) (bson.D, error) {
	parts := bson.A{}
	for _, c := range q.Filters {
		op, ok := mongoOps[c.Op]
		if !ok {
			return nil, documentError(ErrInvalidQuery, "unknown operator "+string(c.Op))
		}
		field := mongoField(c.Field)
		cond := bson.D{{Key: op, Value: c.Value}}
		if c.Op == OpNotEqual && field != "_id" {
			cond = append(cond, bson.E{Key: "$exists", Value: true})
		}
		parts = append(parts, bson.D{{Key: field, Value: cond}})
	}

	sortField := mongoField(q.SortField())
	if sortField != "_id" {
		parts = append(parts, bson.D{{Key: sortField, Value: bson.D{{Key: "$exists", Value: true}}}})
	}

	if q.Start != nil {
		strict, idOp := "$gt", "$gt"
		if q.Descending() {
			strict, idOp = "$lt", "$lt"
		}
		if q.Start.Inclusive {
			idOp += "e"
		}
		if sortField == "_id" {
			parts = append(parts, bson.D{{Key: "_id", Value: bson.D{{Key: idOp, Value: q.Start.Cursor.ID}}}})
		} else {
			parts = append(parts, bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: sortField, Value: bson.D{{Key: strict, Value: q.Start.Cursor.Value}}}},
				bson.D{
					{Key: sortField, Value: q.Start.Cursor.Value},
					{Key: "_id", Value: bson.D{{Key: idOp, Value: q.Start.Cursor.ID}}},
				},
			}}})
		}
	}

	switch len(parts) {
	case 0:
		return bson.D{}, nil
	case 1:
		return parts[0].(bson.D), nil
	default:
		return bson.D{{Key: "$and", Value: parts}}, nil
	}
}

func mongoSort(q Query) bson.D {
	dir := 1
	if q.Descending() {
		dir = -1
	}
	field := mongoField(q.SortField())
	if field == "_id" {
		return bson.D{{Key: "_id", Value: dir}}
	}
	return bson.D{{Key: field, Value: dir}, {Key: "_id", Value: dir}}
}

func mongoUpdate(fields map[string]any) (bson.D, error) {
	set, inc, union, pull := bson.M{}, bson.M{}, bson.M{}, bson.M{}
	for path, value := range fields {
		t, ok := value.(Transform)
		if !ok {
			set[path] = value
			continue
		}
		switch t.op {
		case opIncrement:
			inc[path] = t.delta
		case opArrayUnion:
			union[path] = bson.D{{Key: "$each", Value: t.values}}
		case opArrayRemove:
			pull[path] = t.values
		default:
			return nil, documentError(ErrInvalidWrite, "unknown transform on "+path)
		}
	}
	update := bson.D{}
	for _, part := range []struct {
		op   string
		body bson.M
	}{{"$set", set}, {"$inc", inc}, {"$addToSet", union}, {"$pullAll", pull}} {
		if len(part.body) > 0 {
			update = append(update, bson.E{Key: part.op, Value: part.body})
		}
	}
	return update, nil
}

func fromBSON(collection string, m bson.M) Document {
	id := mongoID(m["_id"])
	data := make(map[string]any, len(m))
	for k, v := range m {
		if k == "_id" {
			continue
		}
		data[k] = fromBSONValue(v)
	}
	return Document{Collection: collection, ID: id, Data: data}
}

func mongoID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

func fromBSONValue(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case int32:
		return int64(t)
	case primitive.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = fromBSONValue(item)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = fromBSONValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	default:
		return v
	}
}
