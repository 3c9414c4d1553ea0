package database

import "cuisine/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Post{},
		&models.PostImage{},
		&models.Like{},
		&models.SavedPost{},
		&models.Comment{},
		&models.FavoriteRestaurant{},
		&models.Reminder{},
	}
}
