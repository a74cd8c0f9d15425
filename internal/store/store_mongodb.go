package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"aigateway/internal/core"
)

type mongoEndpointDocument struct {
	Name      string `bson:"_id"`
	Provider  string `bson:"provider"`
	UpdatedAt int64  `bson:"updated_at"`
	Data      []byte `bson:"data"`
}

type mongoCredentialDocument struct {
	ID           string            `bson:"_id"`
	Provider     string            `bson:"provider"`
	CreatedAt    int64             `bson:"created_at"`
	SealedSecret []byte            `bson:"sealed_secret"`
	Metadata     map[string]string `bson:"metadata"`
}

// MongoDBStore stores routing configuration in MongoDB.
type MongoDBStore struct {
	endpoints   *mongo.Collection
	credentials *mongo.Collection
}

// NewMongoDBStore creates collection indexes if needed.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	endpoints := database.Collection("gateway_endpoints")
	credentials := database.Collection("gateway_credentials")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := endpoints.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "provider", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("create gateway_endpoints indexes: %w", err)
	}
	if _, err := credentials.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "provider", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("create gateway_credentials indexes: %w", err)
	}

	return &MongoDBStore{endpoints: endpoints, credentials: credentials}, nil
}

// Load reads every endpoint and credential.
func (s *MongoDBStore) Load(ctx context.Context) (*State, error) {
	state := &State{}

	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.endpoints.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	var endpointDocs []mongoEndpointDocument
	if err := cursor.All(ctx, &endpointDocs); err != nil {
		return nil, fmt.Errorf("decode endpoints: %w", err)
	}
	for _, doc := range endpointDocs {
		ep, err := deserializeEndpoint(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("decode endpoint %s: %w", doc.Name, err)
		}
		state.Endpoints = append(state.Endpoints, ep)
	}

	cursor, err = s.credentials.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	var credentialDocs []mongoCredentialDocument
	if err := cursor.All(ctx, &credentialDocs); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	for _, doc := range credentialDocs {
		md := doc.Metadata
		if md == nil {
			md = map[string]string{}
		}
		state.Credentials = append(state.Credentials, CredentialRecord{
			ID:           doc.ID,
			ProviderKind: core.ProviderKind(doc.Provider),
			Sealed:       doc.SealedSecret,
			Metadata:     md,
			CreatedAt:    time.Unix(0, doc.CreatedAt).UTC(),
		})
	}
	return state, nil
}

// PutEndpoint upserts an endpoint.
func (s *MongoDBStore) PutEndpoint(ctx context.Context, ep core.Endpoint) error {
	payload, err := serializeEndpoint(ep)
	if err != nil {
		return err
	}
	doc := mongoEndpointDocument{
		Name:      ep.Name,
		Provider:  string(ep.ProviderKind),
		UpdatedAt: ep.UpdatedAt.UnixNano(),
		Data:      payload,
	}
	_, err = s.endpoints.ReplaceOne(ctx, bson.M{"_id": ep.Name}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert endpoint: %w", err)
	}
	return nil
}

// DeleteEndpoint removes an endpoint document.
func (s *MongoDBStore) DeleteEndpoint(ctx context.Context, name string) error {
	if _, err := s.endpoints.DeleteOne(ctx, bson.M{"_id": name}); err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return nil
}

// PutCredential upserts a sealed credential.
func (s *MongoDBStore) PutCredential(ctx context.Context, rec CredentialRecord) error {
	doc := mongoCredentialDocument{
		ID:           rec.ID,
		Provider:     string(rec.ProviderKind),
		CreatedAt:    rec.CreatedAt.UnixNano(),
		SealedSecret: rec.Sealed,
		Metadata:     rec.Metadata,
	}
	_, err := s.credentials.ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// DeleteCredential removes a credential document.
func (s *MongoDBStore) DeleteCredential(ctx context.Context, id string) error {
	if _, err := s.credentials.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// Close is a no-op; client lifecycle is managed by storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
