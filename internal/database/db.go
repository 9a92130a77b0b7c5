package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Pool はキャッシュ用コネクションプールの設定。
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxIdleTime time.Duration
}

// DefaultPool は1リクエストあたり最大2件(セールとSteam)の参照と書き込みを想定した既定値。
var DefaultPool = Pool{
	MaxOpen:     10,
	MaxIdle:     5,
	MaxIdleTime: 5 * time.Minute,
}

// Open はキャッシュ用のPostgreSQL接続プールを開く。
// sql.Openは接続を試行しないため、疎通確認は呼び出し元でPingすること。
func Open(databaseURL string, pool Pool) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxIdleTime(pool.MaxIdleTime)

	return db, nil
}
