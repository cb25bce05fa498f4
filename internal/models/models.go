package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Owner struct {
	gorm.Model
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	// Идентификатор личной коллекции в хранилище документов
	PrivateCollection string `gorm:"not null"`
	// Коллекция входящих деловых писем, пусто если не настроена
	BusinessCollection string
	// Участвует ли владелец в фоновой сверке
	SyncEnabled bool `gorm:"not null"`
}

// DefaultCollections заполняет коллекции владельца, если они не заданы.
func (o *Owner) DefaultCollections() {
	if o.PrivateCollection == "" {
		o.PrivateCollection = fmt.Sprintf("private-%d", o.ID)
	}
	if o.BusinessCollection == "" {
		o.BusinessCollection = fmt.Sprintf("business-%d", o.ID)
	}
}

// Document запись коллекции хранилища документов.
type Document struct {
	ID         string         `gorm:"primaryKey;size:36"`
	Collection string         `gorm:"index;not null"`
	Properties datatypes.JSON `gorm:"not null"`
	Archived   bool           `gorm:"index;default:false"`
	CreatedAt  time.Time      `gorm:"index"`
	UpdatedAt  time.Time
}
