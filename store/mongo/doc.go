// Package mongo implements store.Store on the official MongoDB driver.
// Claims ride on FindOneAndUpdate, so no transactions are required and the
// store works against standalone servers as well as replica sets.
//
// The caller owns the *mongo.Client lifecycle, this package never closes
// it. Pass a database handle through the constructor:
//
//	import (
//	    mongod "go.mongodb.org/mongo-driver/v2/mongo"
//	    "go.mongodb.org/mongo-driver/v2/mongo/options"
//
//	    "github.com/xraph/conveyor/store/mongo"
//	)
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	store := mongo.New(client.Database("conveyor"))
//	store.Migrate(ctx)
package mongo
