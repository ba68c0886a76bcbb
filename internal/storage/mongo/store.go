package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/UkralStul/campus-sync/internal/query"
	"github.com/UkralStul/campus-sync/internal/record"
	"github.com/UkralStul/campus-sync/internal/storage"
)

// Store реализует интерфейс Storage поверх MongoDB.
// Живые запросы строятся на change streams: после каждого изменения
// коллекции запрос перечитывается целиком. Change streams требуют replica set.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ storage.Store = (*Store)(nil)

// Open подключается к MongoDB и проверяет соединение.
func Open(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	glog.Infof("[mongo] connected to %s", dbName)
	return &Store{client: client, db: client.Database(dbName)}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// === Live queries ===

func (s *Store) Subscribe(ctx context.Context, spec query.Spec) (*storage.Stream, error) {
	coll := s.db.Collection(spec.Collection)

	watchCtx, cancel := context.WithCancel(ctx)
	// поток открывается до первого чтения, чтобы не пропустить изменения между ними
	cs, err := coll.Watch(watchCtx, changePipeline())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", spec.Collection, err)
	}

	stream := storage.NewStream(cancel)
	go s.follow(watchCtx, coll, cs, spec, stream)
	return stream, nil
}

func (s *Store) follow(ctx context.Context, coll *mongo.Collection, cs *mongo.ChangeStream, spec query.Spec, stream *storage.Stream) {
	defer cs.Close(context.Background())

	publish := func() bool {
		recs, err := find(ctx, coll, spec)
		if err != nil {
			if ctx.Err() == nil {
				stream.Fail(err)
			}
			return false
		}
		return stream.Publish(storage.Snapshot{Records: recs})
	}

	if !publish() {
		return
	}
	for cs.Next(ctx) {
		if !publish() {
			return
		}
	}
	if err := cs.Err(); err != nil && ctx.Err() == nil {
		glog.Errorf("[mongo] change stream %s: %v", spec, err)
		stream.Fail(fmt.Errorf("change stream %s: %w", spec.Collection, err))
		return
	}
	stream.Cancel()
}

func (s *Store) Get(ctx context.Context, spec query.Spec) ([]record.Record, error) {
	return find(ctx, s.db.Collection(spec.Collection), spec)
}

// === Mutations ===

// Create вставляет документ; createdAt ставит сервер через $currentDate.
func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := bson.NewObjectID().Hex()

	doc := bson.M{}
	for k, v := range fields {
		if k == record.FieldID || k == record.FieldCreatedAt {
			continue
		}
		doc[k] = v
	}
	update := bson.M{
		"$setOnInsert": doc,
		"$currentDate": bson.M{record.FieldCreatedAt: true},
	}
	_, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", collection, err)
	}
	return id, nil
}

func (s *Store) SetAdd(ctx context.Context, collection, docID, field, value string) error {
	return s.updateOne(ctx, collection, docID, bson.M{"$addToSet": bson.M{field: value}})
}

func (s *Store) SetRemove(ctx context.Context, collection, docID, field, value string) error {
	return s.updateOne(ctx, collection, docID, bson.M{"$pull": bson.M{field: value}})
}

func (s *Store) UpdateFields(ctx context.Context, collection, docID string, fields map[string]any) error {
	set := bson.M{}
	for k, v := range fields {
		if k == record.FieldID || k == record.FieldCreatedAt {
			continue
		}
		set[k] = v
	}
	if len(set) == 0 {
		return nil
	}
	return s.updateOne(ctx, collection, docID, bson.M{"$set": set})
}

func (s *Store) DeleteDoc(ctx context.Context, collection, docID string) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, idFilter(docID))
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, docID, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collection, docID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) updateOne(ctx context.Context, collection, docID string, update bson.M) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx, idFilter(docID), update)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, docID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collection, docID, storage.ErrNotFound)
	}
	return nil
}

// === Translation ===

func find(ctx context.Context, coll *mongo.Collection, spec query.Spec) ([]record.Record, error) {
	cur, err := coll.Find(ctx, filterDoc(spec), findOptions(spec))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", spec, err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("read %s: %w", spec, err)
	}

	recs := make([]record.Record, len(raw))
	for i, doc := range raw {
		recs[i] = toRecord(doc)
	}
	if spec.Limit.Kind == query.LimitSuffix {
		// хвостовое окно читается в обратном порядке и разворачивается
		for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
			recs[i], recs[j] = recs[j], recs[i]
		}
	}
	return recs, nil
}

func changePipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: bson.D{
			{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}},
		}}}}},
	}
}

func mongoField(field string) string {
	if field == record.FieldID {
		return "_id"
	}
	return field
}

// idFilter понимает и строковые, и старые ObjectID идентификаторы.
func idFilter(id string) bson.M {
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{id, oid}}}
	}
	return bson.M{"_id": id}
}

// filterDoc переводит фильтры запроса в документ Mongo. Равенство nil
// совпадает и с null, и с отсутствующим полем.
func filterDoc(spec query.Spec) bson.D {
	out := bson.D{}
	for _, f := range spec.Filters {
		field := mongoField(f.Field)
		switch f.Op {
		case query.OpEq, query.OpContains:
			out = append(out, bson.E{Key: field, Value: f.Value})
		case query.OpIn:
			out = append(out, bson.E{Key: field, Value: bson.D{{Key: "$in", Value: toArray(f.Value)}}})
		}
	}
	return out
}

func findOptions(spec query.Spec) *options.FindOptionsBuilder {
	dir := 1
	if spec.OrderBy.Dir == query.Desc {
		dir = -1
	}
	if spec.Limit.Kind == query.LimitSuffix {
		dir = -dir
	}
	opts := options.Find()
	if spec.OrderBy.Field != "" {
		opts.SetSort(bson.D{
			{Key: mongoField(spec.OrderBy.Field), Value: dir},
			{Key: "_id", Value: dir},
		})
	}
	if spec.Limit.Kind != query.LimitNone && spec.Limit.N > 0 {
		opts.SetLimit(int64(spec.Limit.N))
	}
	return opts
}

func toArray(v any) bson.A {
	switch vv := v.(type) {
	case []string:
		out := make(bson.A, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out
	case []any:
		return bson.A(vv)
	}
	return bson.A{v}
}

func toRecord(doc bson.M) record.Record {
	r := record.Record{Fields: make(map[string]any, len(doc))}
	for k, v := range doc {
		if k == "_id" {
			r.ID = idString(v)
			continue
		}
		r.Fields[k] = plain(v)
	}
	return r
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case bson.ObjectID:
		return id.Hex()
	}
	return fmt.Sprint(v)
}

// plain переводит типы bson в обычные значения Go.
func plain(v any) any {
	switch vv := v.(type) {
	case bson.DateTime:
		return vv.Time().UTC()
	case bson.ObjectID:
		return vv.Hex()
	case bson.A:
		out := make([]any, len(vv))
		for i, x := range vv {
			out[i] = plain(x)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(vv))
		for k, x := range vv {
			out[k] = plain(x)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(vv))
		for _, e := range vv {
			out[e.Key] = plain(e.Value)
		}
		return out
	case time.Time:
		return vv.UTC()
	}
	return v
}
