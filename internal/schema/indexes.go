// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// # Index Enforcement

// EnsureIndexes creates every declared index at startup. Index creation is
// idempotent on the server side; an index that already exists with the same
// spec is a no-op.
func (r *Registry) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	snapshot := r.Snapshot()

	for _, name := range sortedCollectionNames(snapshot) {
		descriptor := snapshot.Collections[name]
		if len(descriptor.Indexes) == 0 {
			continue
		}

		models := make([]mongo.IndexModel, 0, len(descriptor.Indexes))
		for _, index := range descriptor.Indexes {
			keys := bson.D{}
			for _, key := range index.Keys {
				switch key.Type {
				case "desc":
					keys = append(keys, bson.E{Key: key.Field, Value: -1})
				case "text":
					keys = append(keys, bson.E{Key: key.Field, Value: "text"})
				default:
					keys = append(keys, bson.E{Key: key.Field, Value: 1})
				}
			}

			opts := options.Index()
			if index.Name != "" {
				opts = opts.SetName(index.Name)
			}
			if index.Unique {
				opts = opts.SetUnique(true)
			}
			models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
		}

		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("schema: create indexes for %q: %w", name, err)
		}
		r.log.Info("collection indexes ensured",
			slog.String("collection", name),
			slog.Int("indexes", len(models)),
		)
	}
	return nil
}

// sortedCollectionNames keeps index creation order deterministic.
func sortedCollectionNames(snapshot *Snapshot) []string {
	names := make([]string, 0, len(snapshot.Collections))
	for name := range snapshot.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
