// internal/models/migrate.go
package models

// MigrateModels lists the tables created by the migrator, parents first.
var MigrateModels = []interface{}{
	&User{},
	&Dataset{},
	&Transaction{},
	&Review{},
	&AuditLog{},
}
