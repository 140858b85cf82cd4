package models

import "github.com/google/uuid"

// assignID fills a zero primary key so rows can be created on databases
// without a uuid default.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
