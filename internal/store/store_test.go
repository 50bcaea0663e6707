package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/dyntarget/internal/gps"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, completed bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if completed {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements only Publish; other methods panic through the nil embed.
type fakeClient struct {
	mqtt.Client
	token *fakeToken
	sent  []published
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func TestMQTTStore_Publish(t *testing.T) {
	t.Parallel()

	client := &fakeClient{token: newFakeToken(nil, true)}
	s := NewMQTTStore(client, "missiondata/locations/target")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	err := s.Publish(context.Background(), gps.Position{Latitude: 59.437, Longitude: 24.7536})
	require.NoError(t, err)

	require.Len(t, client.sent, 1)
	msg := client.sent[0]
	assert.Equal(t, "missiondata/locations/target", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var doc Document
	require.NoError(t, json.Unmarshal(msg.payload, &doc))
	assert.Equal(t, gps.Position{Latitude: 59.437, Longitude: 24.7536}, doc.Target)
	assert.True(t, fixed.Equal(doc.UpdatedAt))
}

func TestMQTTStore_PublishError(t *testing.T) {
	t.Parallel()

	client := &fakeClient{token: newFakeToken(errors.New("not connected"), true)}
	s := NewMQTTStore(client, "doc")

	err := s.Publish(context.Background(), gps.Position{Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestMQTTStore_PublishContextCancelled(t *testing.T) {
	t.Parallel()

	client := &fakeClient{token: newFakeToken(nil, false)}
	s := NewMQTTStore(client, "doc")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Publish(ctx, gps.Position{Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	tag   pgconn.CommandTag
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql, args})
	return f.tag, f.err
}

func TestPostgresStore_Publish(t *testing.T) {
	t.Parallel()

	db := &fakeExecer{tag: pgconn.NewCommandTag("INSERT 0 1")}
	s := &PostgresStore{db: db, documentID: "missiondata/locations"}

	require.NoError(t, s.Publish(context.Background(), gps.Position{Latitude: 5, Longitude: 6}))
	require.Len(t, db.calls, 1)
	assert.Equal(t, upsertTarget, db.calls[0].sql)
	assert.Equal(t, []any{"missiondata/locations", 5.0, 6.0}, db.calls[0].args)
}

func TestPostgresStore_PublishFailures(t *testing.T) {
	t.Parallel()

	t.Run("exec error", func(t *testing.T) {
		t.Parallel()
		s := &PostgresStore{db: &fakeExecer{err: errors.New("connection refused")}, documentID: "doc"}
		err := s.Publish(context.Background(), gps.Position{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("no row written", func(t *testing.T) {
		t.Parallel()
		s := &PostgresStore{db: &fakeExecer{tag: pgconn.NewCommandTag("INSERT 0 0")}, documentID: "doc"}
		err := s.Publish(context.Background(), gps.Position{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "0 rows affected")
	})
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	t.Parallel()

	db := &fakeExecer{}
	s := &PostgresStore{db: db, documentID: "doc"}
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].sql, "CREATE TABLE IF NOT EXISTS mission_documents")

	s.Close() // no pool: must not panic
}
