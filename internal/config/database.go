package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/logx"
)

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// OpenDatabase opens the Postgres pool and checks the connection.
func OpenDatabase(ctx context.Context, d DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", d.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("database open error: %w", err)
	}

	if d.MaxOpenConns > 0 {
		db.SetMaxOpenConns(d.MaxOpenConns)
		db.SetMaxIdleConns(d.MaxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping error: %w", err)
	}

	logx.Infof("Database connection established: %s", d.Name)
	return db, nil
}
