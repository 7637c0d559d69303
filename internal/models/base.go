package models

import (
	"greendrake/offerdesk/internal/ident"
)

type IBase interface {
	GenIDIfEmpty()
	GenID()
	SetID(id ident.ID)
}

type Base struct {
	ID ident.ID `bson:"_id" json:"id"`
}

func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}

func (m *Base) GenID() {
	m.ID = ident.New()
}

func (m *Base) SetID(id ident.ID) {
	m.ID = id
}
