// Package document implements repository.Store on MongoDB.
package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/config"
	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store is the document backend.
type Store struct {
	client     *mongo.Client
	users      *mongo.Collection
	detections *mongo.Collection
	logger     *zap.Logger
	retry      *repository.Retrier
}

// Open connects to cfg.URI, pings the primary and ensures indexes.
func Open(ctx context.Context, cfg config.DocumentConfig, logger *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}

	store := New(client, cfg.Database, logger)
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	logger.Info("document store ready", zap.String("database", cfg.Database))
	return store, nil
}

// New wraps a connected client.
func New(client *mongo.Client, database string, logger *zap.Logger) *Store {
	logger = logger.Named("document_store")
	db := client.Database(database)
	return &Store{
		client:     client,
		users:      db.Collection(usersCollection),
		detections: db.Collection(detectionsCollection),
		logger:     logger,
		retry:      repository.NewRetrier(logger),
	}
}

// EnsureIndexes creates the unique user indexes and the history index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return err
	}
	_, err := s.detections.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: 1}},
	})
	return err
}

// Ping checks the primary.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func historySort() bson.D {
	return bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}
}

func ownedBy(id, userID string) bson.M {
	return bson.M{"_id": id, "user_id": userID}
}

func countedPredictions() bson.M {
	return bson.M{"$in": bson.A{string(model.PredictionReal), string(model.PredictionDeepfake)}}
}

// CreateDetection inserts d after checking that its owner exists.
func (s *Store) CreateDetection(ctx context.Context, d *model.Detection) error {
	const op = "document.create_detection"
	doc := detectionDocFromModel(d)
	return s.retry.DoWrite(ctx, op, d.ID, func(retried bool) error {
		owners, err := s.users.CountDocuments(ctx, bson.M{"_id": doc.UserID}, options.Count().SetLimit(1))
		if err != nil {
			return err
		}
		if owners == 0 {
			return apperror.Persistence(op, errors.New("owner does not exist"))
		}
		_, err = s.detections.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			if retried && s.exists(ctx, s.detections, ownedBy(doc.ID, doc.UserID)) {
				return nil
			}
			return apperror.Persistence(op, err)
		}
		return err
	})
}

// ListDetections returns one page of userID's detections, newest first.
func (s *Store) ListDetections(ctx context.Context, userID string, page, limit int) (*model.DetectionPage, error) {
	const op = "document.list_detections"
	if !model.ValidPage(page, limit) {
		return nil, apperror.Validation(op, "Invalid pagination parameters")
	}

	filter := bson.M{"user_id": userID}
	var (
		total int64
		docs  []detectionDoc
	)
	err := s.retry.Do(ctx, op, userID, func() error {
		var err error
		total, err = s.detections.CountDocuments(ctx, filter)
		if err != nil {
			return err
		}
		cur, err := s.detections.Find(ctx, filter, options.Find().
			SetSort(historySort()).
			SetSkip(int64(model.Offset(page, limit))).
			SetLimit(int64(limit)))
		if err != nil {
			return err
		}
		docs = docs[:0]
		return cur.All(ctx, &docs)
	})
	if err != nil {
		return nil, err
	}

	items := make([]model.Detection, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toModel())
	}
	return &model.DetectionPage{
		Items:       items,
		Total:       total,
		Pages:       model.PageCount(total, limit),
		CurrentPage: page,
	}, nil
}

// GetDetection returns the detection when userID owns it.
func (s *Store) GetDetection(ctx context.Context, id, userID string) (*model.Detection, error) {
	const op = "document.get_detection"
	var doc detectionDoc
	err := s.retry.Do(ctx, op, id, func() error {
		err := s.detections.FindOne(ctx, ownedBy(id, userID)).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperror.NotFound(op, "Detection not found")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	d := doc.toModel()
	return &d, nil
}

// DeleteDetection removes the detection when userID owns it.
func (s *Store) DeleteDetection(ctx context.Context, id, userID string) error {
	const op = "document.delete_detection"
	return s.retry.DoWrite(ctx, op, id, func(retried bool) error {
		res, err := s.detections.DeleteOne(ctx, ownedBy(id, userID))
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 && !retried {
			return apperror.NotFound(op, "Detection not found")
		}
		return nil
	})
}

// AggregateDetections scans the user's detections and reduces them in process.
func (s *Store) AggregateDetections(ctx context.Context, userID string) (*model.DetectionStats, error) {
	const op = "document.aggregate_detections"
	var acc statsAccumulator
	err := s.retry.Do(ctx, op, userID, func() error {
		acc = statsAccumulator{}
		cur, err := s.detections.Find(ctx,
			bson.M{"user_id": userID, "prediction": countedPredictions()},
			options.Find().SetProjection(bson.M{"prediction": 1, "confidence": 1}))
		if err != nil {
			return err
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var doc detectionDoc
			if err := cur.Decode(&doc); err != nil {
				return err
			}
			acc.add(doc.Prediction, doc.Confidence)
		}
		return cur.Err()
	})
	if err != nil {
		return nil, err
	}
	return acc.result(), nil
}

// CreateUser inserts u. Duplicate username or email is a conflict.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	const op = "document.create_user"
	doc := userDocFromModel(u)
	return s.retry.DoWrite(ctx, op, u.ID, func(retried bool) error {
		_, err := s.users.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			if retried && s.exists(ctx, s.users, bson.M{"_id": doc.ID}) {
				return nil
			}
			return apperror.Conflict(op, "User already exists")
		}
		return err
	})
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, "document.get_user", bson.M{"_id": id})
}

// FindUserByLogin loads a user by username or email.
func (s *Store) FindUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.findUser(ctx, "document.find_user_by_login", bson.M{"$or": bson.A{
		bson.M{"username": login},
		bson.M{"email": login},
	}})
}

func (s *Store) findUser(ctx context.Context, op string, filter bson.M) (*model.User, error) {
	var doc userDoc
	err := s.retry.Do(ctx, op, "", func() error {
		err := s.users.FindOne(ctx, filter).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperror.NotFound(op, "User not found")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	u := doc.toModel()
	return &u, nil
}

// UpdatePasswordHash replaces the stored hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	const op = "document.update_password_hash"
	return s.retry.DoWrite(ctx, op, id, func(retried bool) error {
		res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
			"password_hash": hash,
			"updated_at":    model.Timestamp(time.Now()),
		}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 && !retried {
			return apperror.NotFound(op, "User not found")
		}
		return nil
	})
}

// DeleteUser removes the user's detections, then the user. Standalone
// servers have no multi-document transactions, so the steps run in order and
// a retry resumes a partial delete. Keys found by every attempt are returned.
func (s *Store) DeleteUser(ctx context.Context, id string) ([]string, error) {
	const op = "document.delete_user"
	var keys []string
	err := s.retry.DoWrite(ctx, op, id, func(retried bool) error {
		owners, err := s.users.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
		if err != nil {
			return err
		}
		if owners == 0 {
			if retried {
				return nil
			}
			return apperror.NotFound(op, "User not found")
		}

		cur, err := s.detections.Find(ctx, bson.M{"user_id": id}, options.Find().SetProjection(bson.M{"filename": 1}))
		if err != nil {
			return err
		}
		var docs []detectionDoc
		if err := cur.All(ctx, &docs); err != nil {
			return err
		}
		keys = repository.MergeKeys(keys, filenames(docs))

		if _, err := s.detections.DeleteMany(ctx, bson.M{"user_id": id}); err != nil {
			return err
		}
		_, err = s.users.DeleteOne(ctx, bson.M{"_id": id})
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) exists(ctx context.Context, coll *mongo.Collection, filter bson.M) bool {
	n, err := coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	return err == nil && n > 0
}

// ListUsers pages through all users in creation order.
func (s *Store) ListUsers(ctx context.Context, offset, limit int) ([]model.User, error) {
	const op = "document.list_users"
	var docs []userDoc
	err := s.retry.Do(ctx, op, "", func() error {
		cur, err := s.users.Find(ctx, bson.M{}, options.Find().
			SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
			SetSkip(int64(offset)).
			SetLimit(int64(limit)))
		if err != nil {
			return err
		}
		docs = docs[:0]
		return cur.All(ctx, &docs)
	})
	if err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.toModel())
	}
	return users, nil
}
