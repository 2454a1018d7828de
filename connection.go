package harness

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ConnectionSettings describe one database endpoint. The zero value is not
// usable; fixtures fill Host and Port during SetUp.
type ConnectionSettings struct {
	Driver       string
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	DisableSSL   bool
	MaxOpenConns int
}

func (cs *ConnectionSettings) SSLMode() string {
	if cs.DisableSSL {
		return "disable"
	}
	return "require"
}

func (cs *ConnectionSettings) String() string {
	return fmt.Sprintf("host=%v port=%v user=%v password=%v dbname=%v sslmode=%v",
		cs.Host,
		cs.Port,
		cs.User,
		cs.Password,
		cs.Database,
		cs.SSLMode(),
	)
}

func (cs *ConnectionSettings) Copy() *ConnectionSettings {
	s := *cs
	return &s
}

// Connect opens and pings a single connection.
func (cs *ConnectionSettings) Connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, cs.String())
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// Pool opens a connection pool, honoring MaxOpenConns when set.
func (cs *ConnectionSettings) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cs.String())
	if err != nil {
		return nil, err
	}
	if cs.MaxOpenConns > 0 {
		config.MaxConns = int32(cs.MaxOpenConns)
	}
	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
