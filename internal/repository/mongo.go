package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sentinel-nexus/sentinel/internal/domain"
)

const (
	ReadingsCollection = "readings"
	DevicesCollection  = "devices"
)

type readingDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	DeviceID  string             `bson:"device_id"`
	EnergyWh  float64            `bson:"energyWh"`
	PowerW    float64            `bson:"powerW"`
	VoltageV  *float64           `bson:"voltageV,omitempty"`
	CurrentA  *float64           `bson:"currentA,omitempty"`
	Timestamp time.Time          `bson:"timestamp"`
}

func toReadingDoc(r domain.Reading) readingDoc {
	return readingDoc{
		ID:        primitive.NewObjectID(),
		DeviceID:  r.DeviceID,
		EnergyWh:  r.EnergyWh,
		PowerW:    r.PowerW,
		VoltageV:  r.VoltageV,
		CurrentA:  r.CurrentA,
		Timestamp: r.Timestamp.UTC(),
	}
}

func (d readingDoc) toDomain() domain.Reading {
	return domain.Reading{
		ID:        d.ID.Hex(),
		DeviceID:  d.DeviceID,
		EnergyWh:  d.EnergyWh,
		PowerW:    d.PowerW,
		VoltageV:  d.VoltageV,
		CurrentA:  d.CurrentA,
		Timestamp: d.Timestamp,
	}
}

type deviceDoc struct {
	DeviceID     string        `bson:"device_id"`
	UserID       bson.RawValue `bson:"user_id"`
	Name         string        `bson:"name"`
	Type         string        `bson:"type"`
	Status       string        `bson:"status"`
	RegisteredAt time.Time     `bson:"registeredAt"`
}

// userRef stores hex user ids as ObjectId references to the users
// collection. Other ids are kept as strings.
func userRef(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func userIDFromRaw(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeObjectID:
		return v.ObjectID().Hex()
	case bson.TypeString:
		return v.StringValue()
	default:
		return ""
	}
}

func (d deviceDoc) toDomain() domain.Device {
	return domain.Device{
		DeviceID:     d.DeviceID,
		UserID:       userIDFromRaw(d.UserID),
		Name:         d.Name,
		Type:         domain.DeviceType(d.Type),
		Status:       domain.DeviceStatus(d.Status),
		RegisteredAt: d.RegisteredAt,
	}
}

// MongoReadings stores readings in the "readings" collection using the
// document layout of the existing dashboard database.
type MongoReadings struct {
	coll *mongo.Collection
}

func NewMongoReadings(db *mongo.Database) *MongoReadings {
	return &MongoReadings{coll: db.Collection(ReadingsCollection)}
}

// NewMongo returns Repos backed by db.
func NewMongo(db *mongo.Database) *Repos {
	return New(NewMongoReadings(db), NewMongoDevices(db))
}

func (s *MongoReadings) Insert(ctx context.Context, r *domain.Reading) error {
	doc := toReadingDoc(*r)
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	r.ID = doc.ID.Hex()
	return nil
}

func (s *MongoReadings) InsertMany(ctx context.Context, rs []domain.Reading) error {
	if len(rs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(rs))
	ids := make([]primitive.ObjectID, len(rs))
	for i, r := range rs {
		doc := toReadingDoc(r)
		ids[i] = doc.ID
		docs[i] = doc
	}
	if _, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("insert readings: %w", err)
	}
	for i := range rs {
		rs[i].ID = ids[i].Hex()
	}
	return nil
}

func (s *MongoReadings) List(ctx context.Context, f domain.ReadingFilter) ([]domain.Reading, error) {
	filter := bson.M{}
	if f.DeviceID != "" {
		filter["device_id"] = f.DeviceID
	}
	ts := bson.M{}
	if !f.Since.IsZero() {
		ts["$gte"] = f.Since
	}
	if !f.Until.IsZero() {
		ts["$lt"] = f.Until
	}
	if len(ts) > 0 {
		filter["timestamp"] = ts
	}

	dir := -1
	if f.Order == domain.Asc {
		dir = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: dir}, {Key: "_id", Value: dir}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find readings: %w", err)
	}
	var docs []readingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}
	out := make([]domain.Reading, len(docs))
	for i, d := range docs {
		out[i] = d.toDomain()
	}
	return out, nil
}

func (s *MongoReadings) EnergySpans(ctx context.Context, since time.Time) ([]domain.EnergySpan, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$device_id"},
			{Key: "first", Value: bson.D{{Key: "$first", Value: "$energyWh"}}},
			{Key: "last", Value: bson.D{{Key: "$last", Value: "$energyWh"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate energy spans: %w", err)
	}
	var rows []struct {
		DeviceID string  `bson:"_id"`
		First    float64 `bson:"first"`
		Last     float64 `bson:"last"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode energy spans: %w", err)
	}
	out := make([]domain.EnergySpan, len(rows))
	for i, r := range rows {
		out[i] = domain.EnergySpan{DeviceID: r.DeviceID, FirstWh: r.First, LastWh: r.Last}
	}
	return out, nil
}

// MongoDevices stores device metadata in the "devices" collection.
type MongoDevices struct {
	coll *mongo.Collection
}

func NewMongoDevices(db *mongo.Database) *MongoDevices {
	return &MongoDevices{coll: db.Collection(DevicesCollection)}
}

func (s *MongoDevices) ListDevices(ctx context.Context) ([]domain.Device, error) {
	opts := options.Find().SetSort(bson.D{{Key: "registeredAt", Value: 1}, {Key: "device_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find devices: %w", err)
	}
	var docs []deviceDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	out := make([]domain.Device, len(docs))
	for i, d := range docs {
		out[i] = d.toDomain()
	}
	return out, nil
}

func (s *MongoDevices) GetDevice(ctx context.Context, deviceID string) (domain.Device, error) {
	var doc deviceDoc
	err := s.coll.FindOne(ctx, bson.M{"device_id": deviceID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Device{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Device{}, fmt.Errorf("find device: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *MongoDevices) UpsertDevice(ctx context.Context, d domain.Device) error {
	update := bson.M{
		"$set": bson.M{
			"user_id": userRef(d.UserID),
			"name":    d.Name,
			"type":    string(d.Type),
			"status":  string(d.Status),
		},
		"$setOnInsert": bson.M{"registeredAt": d.RegisteredAt.UTC()},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"device_id": d.DeviceID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}
