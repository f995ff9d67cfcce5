package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

const collectionTranscripts = "conversation_transcripts"

// TranscriptAdapter implements out.TranscriptRepository using MongoDB. One
// document per conversation with an embedded turn array, bounded at write
// time so documents never grow unboundedly.
type TranscriptAdapter struct {
	db         *mongo.Database
	collection *mongo.Collection
	maxTurns   int
}

// NewTranscriptAdapter creates a new MongoDB transcript adapter.
func NewTranscriptAdapter(db *mongo.Database, maxTurns int) *TranscriptAdapter {
	if maxTurns <= 0 {
		maxTurns = 200
	}
	return &TranscriptAdapter{
		db:         db,
		collection: db.Collection(collectionTranscripts),
		maxTurns:   maxTurns,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *TranscriptAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "updated_at", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// transcriptDocument represents the MongoDB document structure.
type transcriptDocument struct {
	ConversationID string        `bson:"conversation_id"`
	Turns          []domain.Turn `bson:"turns"`
	UpdatedAt      time.Time     `bson:"updated_at"`
}

// Append pushes a turn onto the conversation, creating the document on
// first contact. $slice keeps only the newest turns.
func (a *TranscriptAdapter) Append(ctx context.Context, conversationID string, turn *domain.Turn) error {
	filter := bson.M{"conversation_id": conversationID}
	update := bson.M{
		"$push": bson.M{
			"turns": bson.M{
				"$each":  []domain.Turn{*turn},
				"$slice": -a.maxTurns,
			},
		},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := a.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return apperr.StoreUnavailable("transcript_append", fmt.Errorf("append turn: %w", err))
	}
	return nil
}

// Recent returns the newest turns for a conversation, oldest first. An
// unknown conversation returns an empty transcript, not an error.
func (a *TranscriptAdapter) Recent(ctx context.Context, conversationID string, limit int) ([]*domain.Turn, error) {
	filter := bson.M{"conversation_id": conversationID}
	opts := options.FindOne().SetProjection(bson.M{
		"turns": bson.M{"$slice": -limit},
	})

	var doc transcriptDocument
	err := a.collection.FindOne(ctx, filter, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.StoreUnavailable("transcript_recent", fmt.Errorf("load transcript: %w", err))
	}

	turns := make([]*domain.Turn, len(doc.Turns))
	for i := range doc.Turns {
		turns[i] = &doc.Turns[i]
	}
	return turns, nil
}
