package models

import "database/sql"

type Models struct {
	Inventory     InventoryModel
	Notifications NotificationModel
}

func NewModels(db *sql.DB) Models {
	return Models{
		Inventory:     InventoryModel{DB: db},
		Notifications: NotificationModel{DB: db},
	}
}
