package dataset

import (
	"context"
	"path"

	"github.com/gofiber/fiber/v2/log"

	"github.com/sahilchouksey/askable/model"
	"github.com/sahilchouksey/askable/services/execution"
)

// ObjectStore is the part of SpacesClient the resolver needs.
type ObjectStore interface {
	KeyFromURL(raw string) (string, bool)
	DownloadFile(ctx context.Context, key string) ([]byte, error)
}

// Resolver turns a session's dataset reference into files for execution.
type Resolver struct {
	objects ObjectStore
}

// NewResolver accepts a nil store; sessions then use their inline rows.
func NewResolver(objects ObjectStore) *Resolver {
	return &Resolver{objects: objects}
}

// Resolve prefers the full uploaded object, falls back to the inline rows,
// and returns nil when the session has no dataset.
func (r *Resolver) Resolve(ctx context.Context, data *model.ChatData) []execution.NamedFile {
	if data == nil {
		return nil
	}

	if r.objects != nil && data.CSVFileURL != "" {
		if key, ok := r.objects.KeyFromURL(data.CSVFileURL); ok {
			body, err := r.objects.DownloadFile(ctx, key)
			if err == nil {
				return []execution.NamedFile{{Name: fileName(key), Content: string(body), MimeType: "text/csv"}}
			}
			log.Warnw("dataset object unavailable, using inline rows",
				"url", data.CSVFileURL,
				"error", err,
			)
		}
	}

	if len(data.CSVHeaders) == 0 {
		return nil
	}
	return []execution.NamedFile{{
		Name:     DefaultFileName,
		Content:  BuildCSV(data.CSVHeaders, data.CSVRows),
		MimeType: "text/csv",
	}}
}

func fileName(key string) string {
	name := path.Base(key)
	if name == "." || name == "/" || path.Ext(name) != ".csv" {
		return DefaultFileName
	}
	return name
}
