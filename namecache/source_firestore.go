package namecache

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreSource resolves display names from a Firestore collection where
// each document id is the entity id and one field holds the name.
type FirestoreSource struct {
	client     *firestore.Client
	collection string
	field      string
}

// NewFirestoreSource creates a Source reading field from documents in
// collection.
func NewFirestoreSource(client *firestore.Client, collection, field string) *FirestoreSource {
	return &FirestoreSource{client: client, collection: collection, field: field}
}

// Lookup fetches one document and returns its name field. A missing document
// surfaces as [ErrNotFound].
func (s *FirestoreSource) Lookup(ctx context.Context, id string) (string, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("namecache: firestore get %s/%s: %w", s.collection, id, err)
	}
	return s.nameFrom(snap)
}

// LookupBatch resolves up to [BatchLimit] ids with a single documentID `in`
// query. Ids with no matching document are absent from the result.
func (s *FirestoreSource) LookupBatch(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	if len(ids) > BatchLimit {
		return nil, fmt.Errorf("namecache: batch of %d exceeds the %d-id query limit", len(ids), BatchLimit)
	}

	col := s.client.Collection(s.collection)
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, col.Doc(id))
	}

	iter := col.Query.Where(firestore.DocumentID, "in", refs).Documents(ctx)
	defer iter.Stop()

	names := make(map[string]string, len(ids))
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("namecache: firestore batch query: %w", err)
		}
		name, err := s.nameFrom(snap)
		if err != nil {
			// A document without a usable name field is treated as absent.
			continue
		}
		names[snap.Ref.ID] = name
	}
	return names, nil
}

func (s *FirestoreSource) nameFrom(snap *firestore.DocumentSnapshot) (string, error) {
	v, err := snap.DataAt(s.field)
	if err != nil {
		return "", fmt.Errorf("namecache: document %s has no %q field: %w", snap.Ref.ID, s.field, err)
	}
	name, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("namecache: document %s field %q is not a string", snap.Ref.ID, s.field)
	}
	return name, nil
}
