package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type notification struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (n notification) Attributes() map[string]string {
	return map[string]string{"status": n.Status}
}

func newFakeClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "proj", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return srv, client
}

func TestPublishDeliversJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv, client := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "books")
	require.NoError(t, err)

	pub, err := NewWithClient(ctx, client, "books", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, pub.Close()) }()

	id, err := pub.Publish(ctx, "", notification{JobID: "job-1", Status: "completed"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got notification
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "job-1", got.JobID)
	require.Equal(t, "completed", msgs[0].Attributes["status"])
}

func TestNewWithClientRequiresExistingTopic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := newFakeClient(t)
	defer func() { _ = client.Close() }()

	_, err := NewWithClient(ctx, client, "missing", nil)
	require.ErrorContains(t, err, "does not exist")

	_, err = NewWithClient(ctx, client, "", nil)
	require.ErrorContains(t, err, "topic is required")

	_, err = NewWithClient(ctx, nil, "books", nil)
	require.ErrorContains(t, err, "client is required")
}

func TestPublishRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "books")
	require.NoError(t, err)
	pub, err := NewWithClient(ctx, client, "books", nil)
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	_, err = pub.Publish(ctx, "books", map[string]any{"bad": make(chan int)})
	require.ErrorContains(t, err, "marshal payload")
}
