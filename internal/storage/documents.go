package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"terminsync/internal/models"
	"terminsync/internal/store"
)

// DocumentCollection хранит одну коллекцию документов в таблице documents.
type DocumentCollection struct {
	db   *gorm.DB
	name string
}

func NewDocumentCollection(db *gorm.DB, name string) *DocumentCollection {
	return &DocumentCollection{db: db, name: name}
}

func (c *DocumentCollection) Name() string { return c.name }

func (c *DocumentCollection) Create(ctx context.Context, props store.Properties) (*store.Document, error) {
	raw, err := encodeProperties(props)
	if err != nil {
		return nil, store.Wrap("create", c.name, "", err)
	}
	row := models.Document{
		ID:         uuid.NewString(),
		Collection: c.name,
		Properties: raw,
	}
	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, store.Wrap("create", c.name, "", translate(err))
	}
	return toDocument(row)
}

func (c *DocumentCollection) Get(ctx context.Context, id string) (*store.Document, error) {
	row, err := c.find(c.db.WithContext(ctx), id)
	if err != nil {
		return nil, store.Wrap("get", c.name, id, err)
	}
	return toDocument(row)
}

// Query сужает выборку по строковым условиям в SQL, остальное
// проверяется store.Matches.
func (c *DocumentCollection) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	tx := c.live(c.db.WithContext(ctx))
	for _, cond := range q.Where {
		if s, ok := cond.Value.(string); ok && s != "" {
			tx = tx.Where(datatypes.JSONQuery("properties").Equals(s, cond.Field))
		}
	}

	var rows []models.Document
	if err := tx.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, store.Wrap("query", c.name, "", translate(err))
	}

	out := make([]store.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := toDocument(row)
		if err != nil {
			return nil, store.Wrap("query", c.name, row.ID, err)
		}
		if store.Matches(doc.Properties, q) {
			out = append(out, *doc)
		}
	}
	return out, nil
}

// Update сливает props с текущими свойствами. Строка блокируется до конца
// транзакции, поэтому параллельные изменения разных полей не теряются.
func (c *DocumentCollection) Update(ctx context.Context, id string, props store.Properties) (*store.Document, error) {
	var updated models.Document
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := c.find(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
		if err != nil {
			return err
		}
		current, err := decodeProperties(row.Properties)
		if err != nil {
			return err
		}
		for k, v := range props {
			if v == nil {
				delete(current, k)
				continue
			}
			current[k] = v
		}
		raw, err := encodeProperties(current)
		if err != nil {
			return err
		}
		row.Properties = raw
		row.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&row).Error; err != nil {
			return translate(err)
		}
		updated = row
		return nil
	})
	if err != nil {
		return nil, store.Wrap("update", c.name, id, err)
	}
	return toDocument(updated)
}

func (c *DocumentCollection) Archive(ctx context.Context, id string) error {
	res := c.live(c.db.WithContext(ctx).Model(&models.Document{})).
		Where("id = ?", id).
		Update("archived", true)
	if res.Error != nil {
		return store.Wrap("archive", c.name, id, translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return store.Wrap("archive", c.name, id, store.ErrNotFound)
	}
	return nil
}

func (c *DocumentCollection) live(tx *gorm.DB) *gorm.DB {
	return tx.Where("collection = ? AND archived = ?", c.name, false)
}

func (c *DocumentCollection) find(tx *gorm.DB, id string) (models.Document, error) {
	var row models.Document
	if err := c.live(tx).Where("id = ?", id).First(&row).Error; err != nil {
		return row, translate(err)
	}
	return row, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, driver.ErrBadConn):
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	case errors.Is(err, gorm.ErrInvalidData), errors.Is(err, gorm.ErrInvalidField):
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return err
}

func encodeProperties(props store.Properties) (datatypes.JSON, error) {
	clean := make(store.Properties, len(props))
	for k, v := range props {
		if v != nil {
			clean[k] = v
		}
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return datatypes.JSON(raw), nil
}

func decodeProperties(raw datatypes.JSON) (store.Properties, error) {
	props := store.Properties{}
	if len(raw) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return props, nil
}

func toDocument(row models.Document) (*store.Document, error) {
	props, err := decodeProperties(row.Properties)
	if err != nil {
		return nil, err
	}
	return &store.Document{
		ID:         row.ID,
		Collection: row.Collection,
		Properties: props,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}
