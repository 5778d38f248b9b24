package api

import (
	"github.com/jervisd/jervis/app/cfg"
	"github.com/jervisd/jervis/app/database"
)

type Handler struct {
	connCache *cfg.ConnCache
	items     database.ItemRepository
	conns     database.ConnectionRepository
	tasksRepo database.TaskRepository
}
