package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo implements Store on a MongoDB database, one Mongo collection per
// document collection, documents keyed by string _id.  Transactions need
// a replica set; wrap the store with WithoutTransactions on a standalone
// server.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo returns a store on the named database of client.
func NewMongo(client *mongo.Client, database string) *Mongo {
	return &Mongo{client: client, db: client.Database(database)}
}

// Close disconnects the client.
func (s *Mongo) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func (s *Mongo) view() mongoView { return mongoView{db: s.db} }

func (s *Mongo) Get(ctx context.Context, coll, id string, out any) error {
	return s.view().Get(ctx, coll, id, out)
}

func (s *Mongo) Query(ctx context.Context, coll string, q Query, out any) error {
	return s.view().Query(ctx, coll, q, out)
}

func (s *Mongo) Insert(ctx context.Context, coll string, doc any) (string, error) {
	return s.view().Insert(ctx, coll, doc)
}

func (s *Mongo) Create(ctx context.Context, coll, id string, doc any) error {
	return s.view().Create(ctx, coll, id, doc)
}

func (s *Mongo) Update(ctx context.Context, coll, id string, set map[string]any, where ...Filter) error {
	return s.view().Update(ctx, coll, id, set, where...)
}

func (s *Mongo) Increment(ctx context.Context, coll, id string, inc Increment) (int64, error) {
	return s.view().Increment(ctx, coll, id, inc)
}

// RunTransaction runs fn inside a session transaction.  The driver
// re-runs fn on transient transaction errors such as write conflicts.
func (s *Mongo) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, s.view())
	})
	return err
}

type mongoView struct {
	db *mongo.Database
}

func byID(id string) bson.D { return bson.D{{Key: "_id", Value: id}} }

func (v mongoView) Get(ctx context.Context, coll, id string, out any) error {
	var raw bson.M
	err := v.db.Collection(coll).FindOne(ctx, byID(id)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	fields, err := fromBSON(raw)
	if err != nil {
		return err
	}
	return decodeOne(id, fields, out)
}

func (v mongoView) Query(ctx context.Context, coll string, q Query, out any) error {
	filter, err := mongoFilter(nil, q.Filters)
	if err != nil {
		return err
	}
	opts := options.Find()
	if q.OrderBy != "" {
		if err := checkField(q.OrderBy); err != nil {
			return err
		}
		dir := 1
		if q.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: "_id", Value: 1}})
	} else {
		opts.SetSort(bson.D{{Key: "_id", Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := v.db.Collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return err
	}
	docs := make([][]byte, 0, len(raws))
	for _, raw := range raws {
		id, _ := raw["_id"].(string)
		fields, err := fromBSON(raw)
		if err != nil {
			return err
		}
		b, err := withID(id, fields)
		if err != nil {
			return err
		}
		docs = append(docs, b)
	}
	return decodeMany(docs, out)
}

func (v mongoView) Insert(ctx context.Context, coll string, doc any) (string, error) {
	id := uuid.NewString()
	if err := v.Create(ctx, coll, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (v mongoView) Create(ctx context.Context, coll, id string, doc any) error {
	if id == "" {
		return fmt.Errorf("docstore: empty id")
	}
	fields, err := toFields(doc)
	if err != nil {
		return err
	}
	m := bson.M{"_id": id}
	for k, val := range fields {
		m[k] = val
	}
	_, err = v.db.Collection(coll).InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

func (v mongoView) Update(ctx context.Context, coll, id string, set map[string]any, where ...Filter) error {
	if len(set) == 0 {
		return fmt.Errorf("docstore: empty update")
	}
	values, err := normalizeSet(set)
	if err != nil {
		return err
	}
	filter, err := mongoFilter(byID(id), where)
	if err != nil {
		return err
	}
	res, err := v.db.Collection(coll).UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: bson.M(values)}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return v.missOrConflict(ctx, coll, id)
	}
	return nil
}

func (v mongoView) Increment(ctx context.Context, coll, id string, inc Increment) (int64, error) {
	filter, update, err := mongoIncrement(id, inc)
	if err != nil {
		return 0, err
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: inc.Field, Value: 1}})
	var raw bson.M
	err = v.db.Collection(coll).FindOneAndUpdate(ctx, filter, update, opts).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, v.missOrConflict(ctx, coll, id)
	}
	if err != nil {
		return 0, err
	}
	next, ok := asInt64(raw[inc.Field])
	if !ok {
		return 0, fmt.Errorf("docstore: field %s is not an integer", inc.Field)
	}
	return next, nil
}

func (v mongoView) missOrConflict(ctx context.Context, coll, id string) error {
	n, err := v.db.Collection(coll).CountDocuments(ctx, byID(id))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConditionFailed
}

var mongoOps = map[Op]string{
	Eq: "$eq", Ne: "$ne", Lt: "$lt", Lte: "$lte", Gt: "$gt", Gte: "$gte",
}

// mongoFilter AND-s base with the given filters.
func mongoFilter(base bson.D, filters []Filter) (bson.D, error) {
	if err := checkFilters(filters); err != nil {
		return nil, err
	}
	clauses := bson.A{}
	if len(base) > 0 {
		clauses = append(clauses, base)
	}
	for _, f := range filters {
		val, err := normalize(f.Value)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, bson.D{{Key: f.Field, Value: bson.D{{Key: mongoOps[f.Op], Value: val}}}})
	}
	switch len(clauses) {
	case 0:
		return bson.D{}, nil
	case 1:
		return clauses[0].(bson.D), nil
	}
	return bson.D{{Key: "$and", Value: clauses}}, nil
}

// mongoIncrement builds the guarded filter and the pipeline update for
// inc.  The Min guard is expressed on the current value so the update
// matches nothing when it would go below the floor.
func mongoIncrement(id string, inc Increment) (bson.D, mongo.Pipeline, error) {
	if err := checkIncrement(inc); err != nil {
		return nil, nil, err
	}
	filter := byID(id)
	if inc.Min != nil {
		filter = append(filter, bson.E{Key: inc.Field, Value: bson.D{{Key: "$gte", Value: *inc.Min - inc.Delta}}})
	}
	var expr any = bson.D{{Key: "$add", Value: bson.A{"$" + inc.Field, inc.Delta}}}
	if inc.MaxField != "" {
		expr = bson.D{{Key: "$min", Value: bson.A{expr, "$" + inc.MaxField}}}
	}
	update := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{{Key: inc.Field, Value: expr}}}},
	}
	return filter, update, nil
}

// fromBSON converts a raw Mongo document into the JSON field form used
// by the codec, dropping _id.
func fromBSON(raw bson.M) (map[string]any, error) {
	delete(raw, "_id")
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("docstore: convert document: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
