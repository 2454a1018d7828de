package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/ory/dockertest/v3"
	"go.uber.org/zap"
)

const (
	DefaultReturnDBRepo    = "postgres"
	DefaultReturnDBVersion = "16-alpine"
)

type ReturnDBOpt func(*ReturnDB)

// NewReturnDB returns a fixture running the database a server stores job
// returns in. Servers configured with ServerReturnStore write into it, and
// tests assert on what agents reported.
func NewReturnDB(opts ...ReturnDBOpt) *ReturnDB {
	f := &ReturnDB{
		settings: &ConnectionSettings{
			Driver:     "postgres",
			User:       "postgres",
			Password:   GenerateString(),
			Database:   "basalt_returns",
			DisableSSL: true,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func ReturnDBDocker(d *Docker) ReturnDBOpt {
	return func(f *ReturnDB) {
		f.docker = d
	}
}

func ReturnDBSettings(settings *ConnectionSettings) ReturnDBOpt {
	return func(f *ReturnDB) {
		f.settings = settings
	}
}

func ReturnDBRepo(repo string) ReturnDBOpt {
	return func(f *ReturnDB) {
		f.repo = repo
	}
}

func ReturnDBVersion(version string) ReturnDBOpt {
	return func(f *ReturnDB) {
		f.version = version
	}
}

// ReturnDBSchema loads the given schema file or directory after the
// database is ready.
func ReturnDBSchema(path string) ReturnDBOpt {
	return func(f *ReturnDB) {
		f.schemaPath = path
	}
}

// ReturnDBExpireAfter tells docker to kill the container after an
// unreasonable amount of test time to prevent orphans. Defaults to 600
// seconds.
func ReturnDBExpireAfter(expireAfter uint) ReturnDBOpt {
	return func(f *ReturnDB) {
		f.expireAfter = expireAfter
	}
}

// ReturnDBTimeoutAfter bounds how long SetUp waits for the database to
// come up. Defaults to 15 seconds.
func ReturnDBTimeoutAfter(timeoutAfter uint) ReturnDBOpt {
	return func(f *ReturnDB) {
		f.timeoutAfter = timeoutAfter
	}
}

func ReturnDBSkipTearDown() ReturnDBOpt {
	return func(f *ReturnDB) {
		f.skipTearDown = true
	}
}

func ReturnDBMounts(mounts []string) ReturnDBOpt {
	return func(f *ReturnDB) {
		f.mounts = mounts
	}
}

// ReturnDB runs the job-return store in a container. A JobReturn row is
// one agent's answer to one job.
type ReturnDB struct {
	BaseFixture
	log          *zap.Logger
	docker       *Docker
	settings     *ConnectionSettings
	resource     *dockertest.Resource
	repo         string
	version      string
	schemaPath   string
	expireAfter  uint
	timeoutAfter uint
	skipTearDown bool
	mounts       []string
}

// JobReturn is one row of the returns table.
type JobReturn struct {
	JID         string
	AgentID     string
	Fun         string
	Success     bool
	Payload     string
	CompletedAt time.Time
}

func (f *ReturnDB) GetSettings() *ConnectionSettings {
	return f.settings
}

// ReturnerConfig renders the returner section of a server config pointing
// at this store.
func (f *ReturnDB) ReturnerConfig() map[string]any {
	return map[string]any{
		"driver":   f.settings.Driver,
		"host":     f.settings.Host,
		"port":     f.settings.Port,
		"user":     f.settings.User,
		"password": f.settings.Password,
		"database": f.settings.Database,
		"sslmode":  f.settings.SSLMode(),
	}
}

func (f *ReturnDB) SetUp(ctx context.Context) error {
	f.log = logger()
	if f.docker == nil {
		return errors.New("return database needs a docker fixture")
	}
	if f.repo == "" {
		f.repo = DefaultReturnDBRepo
	}
	if f.version == "" {
		f.version = DefaultReturnDBVersion
	}
	networks := make([]*dockertest.Network, 0)
	if f.docker.GetNetwork() != nil {
		networks = append(networks, f.docker.GetNetwork())
	}
	opts := dockertest.RunOptions{
		Repository: f.repo,
		Tag:        f.version,
		Env: []string{
			"POSTGRES_USER=" + f.settings.User,
			"POSTGRES_PASSWORD=" + f.settings.Password,
			"POSTGRES_DB=" + f.settings.Database,
		},
		Labels:   map[string]string{runLabel: CurrentRunID()},
		Networks: networks,
		Cmd: []string{
			// A throwaway store holding test returns needs speed, not
			// durability: https://www.postgresql.org/docs/current/non-durability.html
			"-c", "fsync=off",
			"-c", "synchronous_commit=off",
			"-c", "full_page_writes=off",
			"-c", "random_page_cost=1.1",
			"-c", fmt.Sprintf("shared_buffers=%vMB", memoryMB()/8),
			"-c", fmt.Sprintf("work_mem=%vMB", memoryMB()/8),
		},
		Mounts: f.mounts,
	}
	var err error
	f.resource, err = f.docker.GetPool().RunWithOptions(&opts)
	if err != nil {
		return err
	}

	f.settings.Host = GetContainerAddress(f.resource, f.docker.GetNetwork())

	if f.expireAfter == 0 {
		f.expireAfter = 600
	}
	f.resource.Expire(f.expireAfter)

	if f.timeoutAfter == 0 {
		f.timeoutAfter = 15
	}
	if err := f.WaitForReady(ctx, time.Second*time.Duration(f.timeoutAfter)); err != nil {
		return err
	}
	if f.schemaPath != "" {
		if err := f.LoadSql(ctx, f.schemaPath); err != nil {
			return fmt.Errorf("failed to load schema: %w", err)
		}
	}
	return nil
}

func (f *ReturnDB) TearDown(ctx context.Context) error {
	defer f.log.Sync()
	if f.skipTearDown {
		return nil
	}
	wg.Add(1)
	go purge(f.docker.GetPool(), f.resource)
	return nil
}

// GetConnection opens a single connection, to database when given or the
// return store otherwise.
func (f *ReturnDB) GetConnection(ctx context.Context, database string) (*pgx.Conn, error) {
	settings := f.settings.Copy()
	if database != "" {
		settings.Database = database
	}
	return settings.Connect(ctx)
}

// Connect opens a pool on the return store.
func (f *ReturnDB) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	return f.settings.Pool(ctx)
}

// MustConnect is Connect for TestMain-style setup code.
func (f *ReturnDB) MustConnect(ctx context.Context) *pgxpool.Pool {
	pool, err := f.Connect(ctx)
	if err != nil {
		panic(fmt.Errorf("failed to connect to return database: %w", err))
	}
	return pool
}

func (f *ReturnDB) GetHostName() string {
	return GetHostName(f.resource)
}

// Returns fetches every return recorded for a job id, oldest first.
func (f *ReturnDB) Returns(ctx context.Context, jid string) ([]JobReturn, error) {
	db, err := f.GetConnection(ctx, "")
	if err != nil {
		return nil, err
	}
	defer db.Close(ctx)

	rows, err := db.Query(ctx,
		"SELECT jid, agent_id, fun, success, payload, completed_at FROM returns WHERE jid = $1 ORDER BY completed_at",
		jid,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query returns: %w", err)
	}
	defer rows.Close()

	returns := []JobReturn{}
	for rows.Next() {
		r := JobReturn{}
		if err := rows.Scan(&r.JID, &r.AgentID, &r.Fun, &r.Success, &r.Payload, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan return: %w", err)
		}
		returns = append(returns, r)
	}
	return returns, rows.Err()
}

// SeedReturn inserts a return row, for tests that assert on history
// without running a real job.
func (f *ReturnDB) SeedReturn(ctx context.Context, r JobReturn) error {
	db, err := f.GetConnection(ctx, "")
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	payload := r.Payload
	if payload == "" {
		payload = "{}"
	}
	completed := r.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}
	_, err = db.Exec(ctx,
		"INSERT INTO returns (jid, agent_id, fun, success, payload, completed_at) VALUES ($1, $2, $3, $4, $5, $6)",
		r.JID, r.AgentID, r.Fun, r.Success, payload, completed,
	)
	return err
}

// Psql runs a command in a one-shot psql container connected over the
// docker network.
func (f *ReturnDB) Psql(ctx context.Context, cmd []string, mounts []string, quiet bool) (int, error) {
	settings := f.settings.Copy()
	settings.Host = GetHostIP(f.resource, f.docker.GetNetwork())
	opts := dockertest.RunOptions{
		Repository: "governmentpaas/psql",
		Tag:        "latest",
		Env: []string{
			"PGUSER=" + settings.User,
			"PGPASSWORD=" + settings.Password,
			"PGDATABASE=" + settings.Database,
			"PGHOST=" + settings.Host,
			"PGPORT=5432",
		},
		Labels: map[string]string{runLabel: CurrentRunID()},
		Mounts: mounts,
		Networks: []*dockertest.Network{
			f.docker.GetNetwork(),
		},
		Cmd: cmd,
	}
	resource, err := f.docker.GetPool().RunWithOptions(&opts)
	if err != nil {
		return 0, err
	}
	exitCode, err := WaitForContainer(f.docker.GetPool(), resource)
	containerName := resource.Container.Name[1:]
	containerID := resource.Container.ID[0:11]
	if err != nil || exitCode != 0 && !quiet {
		f.log.Debug("psql failed",
			zap.Int("status", exitCode), zap.String("container_name", containerName),
			zap.String("container_id", containerID), zap.String("cmd", strings.Join(cmd, " ")))
		return exitCode, fmt.Errorf("psql exited with error (%v): %v", exitCode, getLogs(f.log, containerID, f.docker.GetPool()))
	}
	if f.skipTearDown && getEnv().Debug {
		// Keep the container around for inspection.
		return exitCode, nil
	}
	wg.Add(1)
	go purge(f.docker.GetPool(), resource)
	return exitCode, nil
}

func (f *ReturnDB) PingPsql(ctx context.Context) error {
	_, err := f.Psql(ctx, []string{"psql", "-c", ";"}, []string{}, false)
	return err
}

func (f *ReturnDB) Ping(ctx context.Context) error {
	db, err := f.GetConnection(ctx, "")
	if err != nil {
		return err
	}
	defer db.Close(ctx)
	return db.Ping(ctx)
}

func (f *ReturnDB) CreateDatabase(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("must provide a database name")
	}
	exitCode, err := f.Psql(ctx, []string{"createdb", "--template=template0", name}, []string{}, false)
	f.log.Debug("create database",
		zap.Int("status", exitCode), zap.String("database", name), zap.String("container", f.GetHostName()))
	return err
}

// CopyDatabase creates a copy of an existing database using
// `createdb --template={source} {target}`. Source defaults to the return
// store, which gives tests a private snapshot of seeded history.
func (f *ReturnDB) CopyDatabase(ctx context.Context, source string, target string) error {
	if source == "" {
		source = f.settings.Database
	}
	exitCode, err := f.Psql(ctx, []string{"createdb", fmt.Sprintf("--template=%v", source), target}, []string{}, false)
	f.log.Debug("copy database",
		zap.Int("status", exitCode), zap.String("source", source),
		zap.String("target", target), zap.String("container", f.GetHostName()))
	return err
}

func (f *ReturnDB) DropDatabase(ctx context.Context, name string) error {
	db, err := f.GetConnection(ctx, name)
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	// Revoke future connections, then terminate current ones.
	if _, err = db.Exec(ctx, fmt.Sprintf("REVOKE CONNECT ON DATABASE %v FROM public", name)); err != nil {
		return err
	}
	if _, err = db.Exec(ctx, "SELECT pid, pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = current_database() AND pid <> pg_backend_pid()"); err != nil {
		return err
	}

	exitCode, err := f.Psql(ctx, []string{"dropdb", name}, []string{}, false)
	f.log.Debug("drop database",
		zap.Int("status", exitCode), zap.String("database", name), zap.String("container", f.GetHostName()))
	return err
}

// LoadSql runs a file or directory of *.sql files against the return
// store.
func (f *ReturnDB) LoadSql(ctx context.Context, path string) error {
	load := func(p string) error {
		dir, err := filepath.Abs(filepath.Dir(p))
		if err != nil {
			return err
		}
		name := filepath.Base(p)
		exitCode, err := f.Psql(ctx, []string{"psql", fmt.Sprintf("--file=/tmp/%v", name)}, []string{fmt.Sprintf("%v:/tmp", dir)}, false)
		f.log.Debug("load sql",
			zap.Int("status", exitCode), zap.String("database", f.settings.Database),
			zap.String("container", f.GetHostName()), zap.String("name", name))
		if err != nil {
			return fmt.Errorf("failed to run psql (load sql): %w", err)
		}
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("could not stat %v: %w", path, err)
	}
	if !info.IsDir() {
		return load(path)
	}
	files, err := filepath.Glob(filepath.Join(path, "*.sql"))
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := load(file); err != nil {
			return err
		}
	}
	return nil
}

// LoadSqlPattern finds files matching pattern and runs them against the
// return store.
func (f *ReturnDB) LoadSqlPattern(ctx context.Context, pattern string) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := f.LoadSql(ctx, path); err != nil {
			return fmt.Errorf("failed to load test data: %w", err)
		}
	}
	return nil
}

// WaitForReady polls until the store accepts queries or d elapses.
func (f *ReturnDB) WaitForReady(ctx context.Context, d time.Duration) error {
	if err := Retry(d, func() error {
		port := GetContainerTcpPort(f.resource, f.docker.GetNetwork(), "5432")
		if port == "" {
			return fmt.Errorf("could not get port from container: %+v", f.resource.Container)
		}
		f.settings.Port = port

		status, err := f.Psql(ctx, []string{"pg_isready"}, []string{}, true)
		if err != nil {
			return err
		}
		if status != 0 {
			reason := "unknown"
			switch status {
			case 1:
				reason = "server is rejecting connections"
			case 2:
				reason = "no response"
			case 3:
				reason = "no attempt was made"
			}
			return fmt.Errorf("return database is not ready: (%v) %v", status, reason)
		}

		db, err := f.settings.Connect(ctx)
		if err != nil {
			return err
		}
		return db.Close(ctx)
	}); err != nil {
		return fmt.Errorf("gave up waiting for return database: %w", err)
	}
	return nil
}

func (f *ReturnDB) TableExists(ctx context.Context, database, schema, table string) (bool, error) {
	db, err := f.GetConnection(ctx, database)
	if err != nil {
		return false, err
	}
	defer db.Close(ctx)
	query := "SELECT count(*) FROM pg_catalog.pg_tables WHERE schemaname = $1 AND tablename = $2"
	count := 0
	if err := db.QueryRow(ctx, query, schema, table).Scan(&count); err != nil {
		return false, err
	}
	return count == 1, nil
}

func (f *ReturnDB) GetTableColumns(ctx context.Context, database, schema, table string) ([]string, error) {
	db, err := f.GetConnection(ctx, database)
	if err != nil {
		return nil, err
	}
	defer db.Close(ctx)
	var columnNames pgtype.TextArray
	query := "SELECT array_agg(column_name::text) FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2"
	if err := db.QueryRow(ctx, query, schema, table).Scan(&columnNames); err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(columnNames.Elements))
	for _, text := range columnNames.Elements {
		cols = append(cols, text.String)
	}
	return cols, nil
}

func (f *ReturnDB) GetTables(ctx context.Context, database string) ([]string, error) {
	db, err := f.GetConnection(ctx, database)
	if err != nil {
		return nil, err
	}
	defer db.Close(ctx)
	tables := []string{}
	rows, err := db.Query(ctx, "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname != 'information_schema' AND schemaname != 'pg_catalog'")
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}
