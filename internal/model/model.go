// Package model holds the blog's stored entities and their descriptors.
package model

import (
	"time"

	"github.com/eaverdeja/blograph/internal/storage"
)

// Attribute names shared by the entities.
const (
	AttrID        = storage.PrimaryKey
	AttrCreatedAt = "createdAt"
	AttrUpdatedAt = "updatedAt"
)

type User struct {
	ID        int64
	Name      string
	Email     string
	Password  string
	Photo     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (*User) Entity() storage.Entity { return storage.User }
func (u *User) PrimaryKey() int64 { return u.ID }

func (u *User) Field(attr string) any {
	switch attr {
	case AttrID:
		return &u.ID
	case "name":
		return &u.Name
	case "email":
		return &u.Email
	case "password":
		return &u.Password
	case "photo":
		return &u.Photo
	case AttrCreatedAt:
		return &u.CreatedAt
	case AttrUpdatedAt:
		return &u.UpdatedAt
	}
	return nil
}

type Post struct {
	ID        int64
	Title     string
	Content   string
	Photo     *string
	Author    int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (*Post) Entity() storage.Entity { return storage.Post }
func (p *Post) PrimaryKey() int64 { return p.ID }

func (p *Post) Field(attr string) any {
	switch attr {
	case AttrID:
		return &p.ID
	case "title":
		return &p.Title
	case "content":
		return &p.Content
	case "photo":
		return &p.Photo
	case "author":
		return &p.Author
	case AttrCreatedAt:
		return &p.CreatedAt
	case AttrUpdatedAt:
		return &p.UpdatedAt
	}
	return nil
}

type Comment struct {
	ID        int64
	Comment   string
	Post      int64
	User      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (*Comment) Entity() storage.Entity { return storage.Comment }
func (c *Comment) PrimaryKey() int64 { return c.ID }

func (c *Comment) Field(attr string) any {
	switch attr {
	case AttrID:
		return &c.ID
	case "comment":
		return &c.Comment
	case "post":
		return &c.Post
	case "user":
		return &c.User
	case AttrCreatedAt:
		return &c.CreatedAt
	case AttrUpdatedAt:
		return &c.UpdatedAt
	}
	return nil
}

var timestamps = map[string]string{
	AttrCreatedAt: "created_at",
	AttrUpdatedAt: "updated_at",
}

// user is a reserved word in PostgreSQL.
var commentColumns = map[string]string{
	"user":        "user_id",
	AttrCreatedAt: "created_at",
	AttrUpdatedAt: "updated_at",
}

// Descriptors returns the storage descriptors of every entity.
func Descriptors() []*storage.Descriptor {
	return []*storage.Descriptor{
		{
			Entity:     storage.User,
			Table:      "users",
			Attributes: []string{AttrID, "name", "email", "password", "photo", AttrCreatedAt, AttrUpdatedAt},
			Columns:    timestamps,
			Unique:     []string{"email"},
			References: []storage.Reference{
				{Entity: storage.Post, Attribute: "author"},
				{Entity: storage.Comment, Attribute: "user"},
			},
			New: func() storage.Model { return &User{} },
		},
		{
			Entity:     storage.Post,
			Table:      "posts",
			Attributes: []string{AttrID, "title", "content", "photo", "author", AttrCreatedAt, AttrUpdatedAt},
			Columns:    timestamps,
			Indexes:    []string{"author"},
			References: []storage.Reference{
				{Entity: storage.Comment, Attribute: "post"},
			},
			New: func() storage.Model { return &Post{} },
		},
		{
			Entity:     storage.Comment,
			Table:      "comments",
			Attributes: []string{AttrID, "comment", "post", "user", AttrCreatedAt, AttrUpdatedAt},
			Columns:    commentColumns,
			Indexes:    []string{"post", "user"},
			New:        func() storage.Model { return &Comment{} },
		},
	}
}
