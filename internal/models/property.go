package models

import (
	"time"
)

// Property is a listing offers are generated against.
type Property struct {
	Base         `bson:",inline"`
	Title        string  `bson:"title" json:"title"`
	Description  string  `bson:"description,omitempty" json:"description,omitempty"`
	Price        float64 `bson:"price" json:"price"`
	Location     string  `bson:"location" json:"location"`
	PropertyType string  `bson:"property_type" json:"property_type"`
	Locality     `bson:",inline"`
	TemplateKey  string    `bson:"template_key,omitempty" json:"-"`
	TemplateURL  string    `bson:"template_url,omitempty" json:"template_url,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// HasTemplate reports whether an offer template has been uploaded.
func (p *Property) HasTemplate() bool {
	return p.TemplateKey != ""
}
