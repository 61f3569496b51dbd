package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("requires REDIS_ADDR")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.Del(ctx, QueueEmails, QueueDLQ).Err())
	t.Cleanup(func() {
		client.Del(context.Background(), QueueEmails, QueueDLQ)
		client.Close()
	})
	return client
}

func TestJobEmailDecodes(t *testing.T) {
	job := Job{Payload: []byte(`{"recipient_email":"a@example.com","subject":"hi"}`)}
	p, err := job.Email()
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", p.RecipientEmail)

	job.Payload = []byte(`{`)
	_, err = job.Email()
	assert.Error(t, err)
}

func TestEnqueueDequeue(t *testing.T) {
	client := newTestClient(t)
	q := NewQueue(client, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	invID := uuid.New()
	require.NoError(t, q.EnqueueEmail(ctx, EmailPayload{InvitationID: invID, RecipientEmail: "a@example.com"}))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeInvitationEmail, job.Type)

	p, err := job.Email()
	require.NoError(t, err)
	assert.Equal(t, invID, p.InvitationID)
}

func TestRetryMovesToDLQ(t *testing.T) {
	client := newTestClient(t)
	q := NewQueue(client, nil)
	ctx := context.Background()

	job := &Job{ID: "j1", Type: JobTypeInvitationEmail, Attempt: MaxRetries - 2}
	require.NoError(t, q.Retry(ctx, job))
	assert.EqualValues(t, 1, client.LLen(ctx, QueueEmails).Val())

	require.NoError(t, q.Retry(ctx, job))
	assert.EqualValues(t, 1, client.LLen(ctx, QueueDLQ).Val())
}
