package dao

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FactoryDAO represents a dao for scalfolding and accessing the side
// collections that have no repository of their own
type FactoryDAO struct {
	db          *mongo.Database
	Collections map[string]*mongo.Collection
}

// NewFactoryDAO returns a new FactoryDAO
func NewFactoryDAO(db *mongo.Database) *FactoryDAO {
	collections := []string{
		"notifications",
		usersC,
	}
	dao := &FactoryDAO{
		db:          db,
		Collections: make(map[string]*mongo.Collection),
	}

	for _, opt := range collections {
		dao.Add(opt)
	}

	return dao
}

// Add collection to list
func (dao *FactoryDAO) Add(key string) {
	c := dao.db.Collection(key)
	dao.Collections[key] = c
}

// Insert a document into collection key
func (dao *FactoryDAO) Insert(ctx context.Context, key string, obj interface{}) error {
	collection, ok := dao.Collections[key]
	if !ok {
		return errors.New("Invalid collection")
	}
	c, err := bson.Marshal(obj)
	if err != nil {
		return err
	}
	_, err = collection.InsertOne(ctx, c)
	return err
}

// Query decodes every document of ckey matching filter into out, newest first
func (dao *FactoryDAO) Query(ctx context.Context, ckey string, filter bson.M, out interface{}) error {
	collection, ok := dao.Collections[ckey]
	if !ok {
		return errors.New("Invalid collection")
	}

	opts := options.Find()
	opts.SetSort(bson.M{"created_at": -1})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

// FindOne decodes the first document of ckey matching filter into out
func (dao *FactoryDAO) FindOne(ctx context.Context, ckey string, filter bson.M, out interface{}) error {
	collection, ok := dao.Collections[ckey]
	if !ok {
		return errors.New("Invalid collection")
	}
	return translate(collection.FindOne(ctx, filter).Decode(out))
}
