package remote

import (
	"context"
	"net/http"
	"net/url"

	"terminsync/internal/store"
)

// Collection implements store.Collection against one remote collection.
type Collection struct {
	client *Client
	id     string
}

func (c *Collection) Name() string { return c.id }

func (c *Collection) Create(ctx context.Context, props store.Properties) (*store.Document, error) {
	var out document
	body := map[string]any{"parent": map[string]string{"collection_id": c.id}, "properties": props}
	if err := c.client.do(ctx, http.MethodPost, "/documents", body, &out); err != nil {
		return nil, store.Wrap("create", c.id, "", err)
	}
	return c.toDoc(out), nil
}

func (c *Collection) Get(ctx context.Context, id string) (*store.Document, error) {
	var out document
	if err := c.client.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, store.Wrap("get", c.id, id, err)
	}
	return c.toDoc(out), nil
}

func (c *Collection) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	req := queryRequest{}
	for _, w := range q.Where {
		req.Filter = append(req.Filter, filter{Property: w.Field, Equals: w.Value})
	}
	if r := q.Range; r != nil {
		tr := &timeRange{Property: r.Field, Fallback: r.Fallback}
		if !r.From.IsZero() {
			tr.After = store.FormatTime(r.From)
		}
		if !r.To.IsZero() {
			tr.Before = store.FormatTime(r.To)
		}
		req.Range = tr
	}

	var docs []store.Document
	path := "/collections/" + url.PathEscape(c.id) + "/query"
	for {
		var page queryResponse
		if err := c.client.do(ctx, http.MethodPost, path, req, &page); err != nil {
			return nil, store.Wrap("query", c.id, "", err)
		}
		for _, d := range page.Results {
			doc := c.toDoc(d)
			// The service filter is advisory; apply the same predicate locally.
			if store.Matches(doc.Properties, q) {
				docs = append(docs, *doc)
			}
		}
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		req.Cursor = page.NextCursor
	}
	return docs, nil
}

func (c *Collection) Update(ctx context.Context, id string, props store.Properties) (*store.Document, error) {
	var out document
	body := map[string]any{"properties": props}
	if err := c.client.do(ctx, http.MethodPatch, "/documents/"+url.PathEscape(id), body, &out); err != nil {
		return nil, store.Wrap("update", c.id, id, err)
	}
	return c.toDoc(out), nil
}

func (c *Collection) Archive(ctx context.Context, id string) error {
	body := map[string]any{"archived": true}
	if err := c.client.do(ctx, http.MethodPatch, "/documents/"+url.PathEscape(id), body, nil); err != nil {
		return store.Wrap("archive", c.id, id, err)
	}
	return nil
}

func (c *Collection) toDoc(d document) *store.Document {
	if d.Properties == nil {
		d.Properties = store.Properties{}
	}
	return &store.Document{
		ID:         d.ID,
		Collection: c.id,
		Properties: d.Properties,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
