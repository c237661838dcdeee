package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// ContentTypeJSON is the media type of metadata documents.
const ContentTypeJSON = "application/json"

// GetJSON decodes the document under key. It returns nil without error when the key is absent.
func GetJSON[T any](ctx context.Context, b Backend, key string) (*T, error) {
	obj, err := b.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if obj == nil {
		return nil, nil //nolint:nilnil // Absence is not an error.
	}

	value := new(T)
	if err = json.Unmarshal(obj.Data, value); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}

	return value, nil
}

// PutJSON stores value as indented JSON under key.
func PutJSON(ctx context.Context, b Backend, key string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	return b.Put(ctx, key, data, map[string]string{MetadataContentType: ContentTypeJSON})
}
