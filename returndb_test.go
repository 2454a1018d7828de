package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupReturnDB(t *testing.T, opts ...ReturnDBOpt) (*Docker, *ReturnDB) {
	t.Helper()
	RequireDocker(t)
	ctx := context.Background()

	docker := NewDocker(DockerNamePrefix("basalt_test"))
	require.NoError(t, docker.SetUp(ctx))
	t.Cleanup(func() { docker.TearDown(ctx) })

	db := NewReturnDB(append([]ReturnDBOpt{ReturnDBDocker(docker)}, opts...)...)
	require.NoError(t, db.SetUp(ctx))
	t.Cleanup(func() { db.TearDown(ctx) })
	return docker, db
}

func TestReturnDB(t *testing.T) {
	ctx := context.Background()
	_, db := setupReturnDB(t)

	require.NoError(t, db.Ping(ctx))
	require.NoError(t, db.PingPsql(ctx))

	settings := db.GetSettings()
	assert.NotEmpty(t, settings.Host)
	assert.NotEmpty(t, settings.Port)
	assert.Equal(t, "basalt_returns", settings.Database)
}

func TestReturnDBSchemaAndReturns(t *testing.T) {
	ctx := context.Background()
	_, db := setupReturnDB(t, ReturnDBSchema(getTestDataPath("schema")))

	exists, err := db.TableExists(ctx, "", "public", "returns")
	require.NoError(t, err)
	assert.True(t, exists)

	columns, err := db.GetTableColumns(ctx, "", "public", "returns")
	require.NoError(t, err)
	assert.Contains(t, columns, "jid")
	assert.Contains(t, columns, "agent_id")

	jid := "20260825120000000000"
	require.NoError(t, db.SeedReturn(ctx, JobReturn{
		JID:     jid,
		AgentID: "web-1",
		Fun:     "policy.apply",
		Success: true,
		Payload: `{"changed": 2}`,
	}))
	require.NoError(t, db.SeedReturn(ctx, JobReturn{
		JID:         jid,
		AgentID:     "web-2",
		Fun:         "policy.apply",
		Success:     false,
		Payload:     `{"error": "timeout"}`,
		CompletedAt: time.Now().UTC().Add(time.Second),
	}))

	returns, err := db.Returns(ctx, jid)
	require.NoError(t, err)
	require.Len(t, returns, 2)
	assert.Equal(t, "web-1", returns[0].AgentID)
	assert.True(t, returns[0].Success)
	assert.Equal(t, "web-2", returns[1].AgentID)
	assert.False(t, returns[1].Success)

	none, err := db.Returns(ctx, "20000101000000000000")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReturnDBConnectPool(t *testing.T) {
	ctx := context.Background()
	_, db := setupReturnDB(t, ReturnDBSchema(getTestDataPath("schema")))

	pool := db.MustConnect(ctx)
	defer pool.Close()

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM returns").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestReturnDBDatabaseManagement(t *testing.T) {
	ctx := context.Background()
	_, db := setupReturnDB(t)

	name := "basalt_" + GenerateString()
	require.NoError(t, db.CreateDatabase(ctx, name))

	tables, err := db.GetTables(ctx, name)
	require.NoError(t, err)
	assert.Empty(t, tables)

	copyName := name + "_copy"
	require.NoError(t, db.CopyDatabase(ctx, name, copyName))
	require.NoError(t, db.DropDatabase(ctx, copyName))
	require.NoError(t, db.DropDatabase(ctx, name))
}

func TestReturnDBRequiresDocker(t *testing.T) {
	err := NewReturnDB().SetUp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker fixture")
}
