package db

import (
	"fmt"

	"reelay/internal/retry"
	"reelay/internal/videojob"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&videojob.VideoJob{},
		&retry.Record{},
	); err != nil {
		return err
	}

	// The due-scan and the stale-claim heal both run every tick.
	stmts := []string{
		`create index if not exists idx_retry_due on retry_records(status, next_retry_at);`,
		`create index if not exists idx_retry_claimed on retry_records(status, claimed_at);`,
		`create index if not exists idx_video_jobs_user on video_jobs(user_id, updated_at desc);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
