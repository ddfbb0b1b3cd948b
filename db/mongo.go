package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"drug-analysis/drug"
	"drug-analysis/models"
	"drug-analysis/utils"
)

const mongoTimeout = 10 * time.Second

type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoClient(uri string) (*MongoClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %s", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("error pinging MongoDB: %s", err)
	}

	dbName := utils.GetEnv("MONGO_DB_NAME", "drug-analysis")
	return &MongoClient{client: client, db: client.Database(dbName)}, nil
}

func (m *MongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %s", err)
	}
	return nil
}

func (m *MongoClient) StoreAnalysis(record *models.AnalysisRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	if _, err := m.db.Collection("analyses").InsertOne(ctx, record); err != nil {
		return fmt.Errorf("error storing analysis: %s", err)
	}
	return nil
}

func (m *MongoClient) RecentAnalyses(limit int) ([]models.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := m.db.Collection("analyses").Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying analyses: %s", err)
	}
	defer cursor.Close(ctx)

	var records []models.AnalysisRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("error decoding analyses: %s", err)
	}
	return records, nil
}

func (m *MongoClient) TotalAnalyses() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	count, err := m.db.Collection("analyses").CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("error counting analyses: %s", err)
	}
	return int(count), nil
}

func (m *MongoClient) SaveDrugRecord(rec drug.DrugRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	rec.Name = strings.ToLower(rec.Name)
	filter := bson.M{"name": rec.Name}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.db.Collection("drugs").ReplaceOne(ctx, filter, rec, opts); err != nil {
		return fmt.Errorf("error saving drug record: %s", err)
	}
	return nil
}

func (m *MongoClient) LoadDrugRecords() ([]drug.DrugRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := m.db.Collection("drugs").Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying drugs: %s", err)
	}
	defer cursor.Close(ctx)

	var records []drug.DrugRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("error decoding drug records: %s", err)
	}
	return records, nil
}
