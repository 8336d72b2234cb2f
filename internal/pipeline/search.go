// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/schema"
)

// # Search Stage

// searchStage builds the full-text-or-regex search stage.
//
// Precedence: explicit searchFields from the request, then the collection's
// declared searchFields, then the collection's text index. A collection with
// none of the three cannot be searched.
func searchStage(descriptor *schema.CollectionDescriptor, term, fieldsParam string) (bson.D, error) {
	fields := splitFields(fieldsParam)
	if len(fields) == 0 {
		fields = descriptor.SearchFields
	}

	if len(fields) > 0 {
		for _, field := range fields {
			if !descriptor.HasProperty(field) {
				return nil, apperr.QueryParse(fmt.Sprintf("Unknown search field '%s' on collection '%s'", field, descriptor.Name))
			}
		}
		branches := make([]bson.D, 0, len(fields))
		for _, field := range fields {
			branches = append(branches, bson.D{{Key: field, Value: bson.D{
				{Key: "$regex", Value: regexp.QuoteMeta(term)},
				{Key: "$options", Value: "i"},
			}}})
		}
		return bson.D{{Key: "$match", Value: bson.D{{Key: "$or", Value: branches}}}}, nil
	}

	if descriptor.HasTextIndex() {
		return bson.D{{Key: "$match", Value: bson.D{
			{Key: "$text", Value: bson.D{{Key: "$search", Value: term}}},
		}}}, nil
	}

	return nil, apperr.QueryParse(fmt.Sprintf("Collection '%s' has no search fields and no text index", descriptor.Name)).
		WithSuggestion("Pass searchFields=<field,...> or declare searchFields in the collection descriptor")
}

// splitFields parses a comma-separated field list, dropping empties.
func splitFields(raw string) []string {
	if raw == "" {
		return nil
	}
	var fields []string
	for _, field := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}
	return fields
}
