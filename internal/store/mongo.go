package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type noteDoc struct {
	ID       string    `bson:"_id"`
	Title    string    `bson:"title"`
	Content  string    `bson:"content"`
	Revision int       `bson:"revision"`
	SavedBy  string    `bson:"savedBy"`
	SavedAt  time.Time `bson:"savedAt"`
}

type revisionDoc struct {
	NoteID  string    `bson:"noteId"`
	N       int       `bson:"n"`
	Title   string    `bson:"title"`
	Content string    `bson:"content"`
	SavedAt time.Time `bson:"savedAt"`
}

// Mongo stores notes in a "notes" collection and snapshots in
// "revisions".
type Mongo struct {
	notes     *mongo.Collection
	revisions *mongo.Collection
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{
		notes:     db.Collection("notes"),
		revisions: db.Collection("revisions"),
	}
}

func (s *Mongo) GetNote(ctx context.Context, id string) (*Note, error) {
	var doc noteDoc
	err := s.notes.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note %s: %w", id, err)
	}
	return &Note{
		ID:       doc.ID,
		Title:    doc.Title,
		Content:  doc.Content,
		Revision: doc.Revision,
		SavedBy:  doc.SavedBy,
		SavedAt:  doc.SavedAt,
	}, nil
}

func (s *Mongo) PersistNote(ctx context.Context, id, title, content, savedBy string) error {
	prev, err := s.GetNote(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	rev := 1
	if prev != nil {
		n, err := s.revisions.CountDocuments(ctx, bson.D{{Key: "noteId", Value: id}})
		if err != nil {
			return fmt.Errorf("count revisions %s: %w", id, err)
		}
		_, err = s.revisions.InsertOne(ctx, revisionDoc{
			NoteID:  id,
			N:       int(n) + 1,
			Title:   prev.Title,
			Content: prev.Content,
			SavedAt: prev.SavedAt,
		})
		if err != nil {
			return fmt.Errorf("snapshot revision %s: %w", id, err)
		}
		rev = prev.Revision + 1
	}

	update := bson.D{{Key: "$set", Value: noteDoc{
		ID:       id,
		Title:    title,
		Content:  content,
		Revision: rev,
		SavedBy:  savedBy,
		SavedAt:  time.Now(),
	}}}
	opts := options.Update().SetUpsert(true)

	if _, err := s.notes.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update, opts); err != nil {
		return fmt.Errorf("persist note %s: %w", id, err)
	}
	return nil
}

func (s *Mongo) ListRevisions(ctx context.Context, id string) ([]Revision, error) {
	opts := options.Find().SetSort(bson.D{{Key: "n", Value: 1}})
	cur, err := s.revisions.Find(ctx, bson.D{{Key: "noteId", Value: id}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list revisions %s: %w", id, err)
	}
	defer cur.Close(ctx)

	var out []Revision
	for cur.Next(ctx) {
		var doc revisionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode revision: %w", err)
		}
		out = append(out, Revision{
			NoteID:  doc.NoteID,
			N:       doc.N,
			Title:   doc.Title,
			Content: doc.Content,
			SavedAt: doc.SavedAt,
		})
	}
	return out, cur.Err()
}

func (s *Mongo) GetRevision(ctx context.Context, id string, n int) (*Revision, error) {
	var doc revisionDoc
	filter := bson.D{{Key: "noteId", Value: id}, {Key: "n", Value: n}}
	err := s.revisions.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get revision %s/%d: %w", id, n, err)
	}
	return &Revision{
		NoteID:  doc.NoteID,
		N:       doc.N,
		Title:   doc.Title,
		Content: doc.Content,
		SavedAt: doc.SavedAt,
	}, nil
}

func (s *Mongo) DeleteRevision(ctx context.Context, id string, n int) error {
	filter := bson.D{{Key: "noteId", Value: id}, {Key: "n", Value: n}}
	res, err := s.revisions.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete revision %s/%d: %w", id, n, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
