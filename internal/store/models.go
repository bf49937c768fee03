// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	// DefaultChatTitle is the title of a chat before it has an analysis
	DefaultChatTitle = "New Analysis"
	// UntitledAnalysis is the title of a chat whose analysis has no location
	UntitledAnalysis = "Untitled Analysis"
)

// User is a registered account
type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	PasswordHash string    `gorm:"not null;column:password" json:"-"`
	CreatedAt    time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"not null" json:"updatedAt"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Chat is a conversation thread owned by a user
type Chat struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(36);not null;index" json:"userId"`
	Title     string    `gorm:"not null;default:'New Analysis'" json:"title"`
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`

	Analysis *Analysis `gorm:"foreignKey:ChatID" json:"analysis"`
}

func (Chat) TableName() string { return "chats" }

func (c *Chat) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Message is one turn of a chat
type Message struct {
	ID     string `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID string `gorm:"type:varchar(36);not null;index" json:"chatId"`
	UserID string `gorm:"type:varchar(36);not null;index" json:"userId"`

	Role    string `gorm:"column:role;not null" json:"role"`
	Content string `gorm:"column:content;type:text;not null" json:"content"`
	// Hidden turns are sent to the model but left out of transcripts
	Hidden bool   `gorm:"column:hidden;not null;default:false" json:"hidden"`
	Model  string `gorm:"column:model" json:"model,omitempty"`

	IdempotencyKey string `gorm:"column:idempotency_key;not null;default:'';index" json:"-"`

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}

func (Message) TableName() string { return "messages" }

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Analysis is the stored result of analysing the property discussed in a chat
type Analysis struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID    string         `gorm:"type:varchar(36);not null;uniqueIndex" json:"chatId"`
	Data      datatypes.JSON `gorm:"column:data;not null" json:"data"`
	CreatedAt time.Time      `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"not null" json:"updatedAt"`
}

func (Analysis) TableName() string { return "analyses" }

func (a *Analysis) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
