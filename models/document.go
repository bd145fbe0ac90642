package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Document struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MemberID  primitive.ObjectID `bson:"member_id" json:"member_id"`
	Title     string             `bson:"title" json:"title"`
	Category  string             `bson:"category,omitempty" json:"category,omitempty"` // ID, STATEMENT, AGREEMENT, OTHER
	FileURL   string             `bson:"file_url" json:"file_url"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}
