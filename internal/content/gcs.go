// Package content mints signed download links for stored media. Content
// storage itself is owned by an external collaborator; this is only the
// narrow signed-URL surface the fallback notifier needs.
package content

import (
	"context"
	"fmt"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"postflow/internal/notifier"
)

// GCSLinker signs V4 GET URLs for every object stored under the content's
// prefix in the bucket.
type GCSLinker struct {
	Client *storage.Client
	Bucket string
	TTL    time.Duration
	Now    func() time.Time
}

func (l *GCSLinker) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

func (l *GCSLinker) SignedLinks(ctx context.Context, contentID string) ([]notifier.SignedLink, error) {
	expires := l.now().Add(l.TTL)
	it := l.Client.Bucket(l.Bucket).Objects(ctx, &storage.Query{Prefix: contentID + "/"})

	var links []notifier.SignedLink
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list content objects: %w", err)
		}
		u, err := l.Client.Bucket(l.Bucket).SignedURL(attrs.Name, &storage.SignedURLOptions{
			Scheme:  storage.SigningSchemeV4,
			Method:  "GET",
			Expires: expires,
		})
		if err != nil {
			return nil, fmt.Errorf("sign %s: %w", attrs.Name, err)
		}
		links = append(links, notifier.SignedLink{
			Label:     path.Base(attrs.Name),
			URL:       u,
			ExpiresAt: expires,
		})
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("no stored objects for content %s", contentID)
	}
	return links, nil
}
