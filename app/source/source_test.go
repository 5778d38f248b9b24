package source

import (
	"github.com/jervisd/jervis/app/database"
)

func testItem(key string) *database.Item {
	return &database.Item{
		ID:           "item-" + key,
		SourceType:   "feed",
		ConnectionID: "conn-1",
		ExternalKey:  key,
		State:        database.StateNew,
	}
}
