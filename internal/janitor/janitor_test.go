package janitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hookrelay/hookrelay/internal/signer"
	"github.com/hookrelay/hookrelay/internal/store"
)

type capturingArchiver struct {
	batches [][]*store.Message
	err     error
}

func (a *capturingArchiver) Archive(ctx context.Context, messages []*store.Message) error {
	if a.err != nil {
		return a.err
	}
	a.batches = append(a.batches, messages)
	return nil
}

func newTestStore(t *testing.T) (*store.Client, *store.WebhookConfig) {
	t.Helper()

	client, err := store.NewClient(context.Background(), store.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "janitor_test.db"),
	}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	cfg := &store.WebhookConfig{
		Name:             "janitor-test",
		TargetURL:        "https://example.com/hooks",
		Secret:           "s3cretXX",
		MaxRetries:       3,
		BackoffStrategy:  "exponential",
		InitialIntervalS: 10,
		BackoffFactor:    2.0,
		MaxIntervalS:     300,
		MaxAgeS:          3600,
		Active:           true,
	}
	if err := store.NewConfigRepository(client).Create(context.Background(), cfg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return client, cfg
}

// createAged inserts a delivered message created the given number of days ago.
func createAged(t *testing.T, client *store.Client, cfg *store.WebhookConfig, ageDays int) *store.Message {
	t.Helper()
	messages := store.NewMessageRepository(client)
	msg := &store.Message{
		WebhookConfigID: cfg.ID,
		Payload:         []byte(`{"k":1}`),
		TargetURL:       cfg.TargetURL,
		Signature:       signer.Sign(cfg.Secret, []byte(`{"k":1}`)),
	}
	if err := messages.Create(context.Background(), msg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now := time.Now().UTC()
	if _, err := messages.ClaimForProcessing(context.Background(), msg.ID, now); err != nil {
		t.Fatal(err)
	}
	attempt := &store.DeliveryAttempt{
		MessageID:      msg.ID,
		AttemptNumber:  1,
		AttemptedAt:    now,
		TargetURL:      msg.TargetURL,
		ProcessingNode: "test-node",
	}
	if err := messages.FinishDelivered(context.Background(), msg.ID, attempt, now); err != nil {
		t.Fatal(err)
	}

	created := now.AddDate(0, 0, -ageDays)
	if _, err := client.DB().Exec(
		`UPDATE messages SET created_at = $1 WHERE id = $2`, created, msg.ID,
	); err != nil {
		t.Fatalf("failed to age message: %v", err)
	}
	return msg
}

func TestRunPurgesExpired(t *testing.T) {
	client, cfg := newTestStore(t)
	messages := store.NewMessageRepository(client)

	old := createAged(t, client, cfg, 40)
	recent := createAged(t, client, cfg, 5)

	j := New(Config{RetentionDays: 30}, messages, nil, nil, nil)
	if purged := j.Run(context.Background()); purged != 1 {
		t.Errorf("Run() purged = %d, want 1", purged)
	}

	if _, err := messages.GetByID(context.Background(), old.ID); !errors.Is(err, store.ErrMessageNotFound) {
		t.Errorf("GetByID(old) error = %v, want %v", err, store.ErrMessageNotFound)
	}
	if _, err := messages.GetByID(context.Background(), recent.ID); err != nil {
		t.Errorf("GetByID(recent) error = %v, want kept", err)
	}
}

func TestRunSkipsNonTerminal(t *testing.T) {
	client, cfg := newTestStore(t)
	messages := store.NewMessageRepository(client)

	msg := &store.Message{
		WebhookConfigID: cfg.ID,
		Payload:         []byte(`{"k":1}`),
		TargetURL:       cfg.TargetURL,
		Signature:       signer.Sign(cfg.Secret, []byte(`{"k":1}`)),
	}
	if err := messages.Create(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	created := time.Now().UTC().AddDate(0, 0, -60)
	if _, err := client.DB().Exec(
		`UPDATE messages SET created_at = $1 WHERE id = $2`, created, msg.ID,
	); err != nil {
		t.Fatal(err)
	}

	j := New(Config{RetentionDays: 30}, messages, nil, nil, nil)
	if purged := j.Run(context.Background()); purged != 0 {
		t.Errorf("Run() purged = %d, want 0 for pending message", purged)
	}
}

func TestRunArchivesBeforeDelete(t *testing.T) {
	client, cfg := newTestStore(t)
	messages := store.NewMessageRepository(client)

	old := createAged(t, client, cfg, 40)
	arch := &capturingArchiver{}

	j := New(Config{RetentionDays: 30, BatchSize: 10}, messages, arch, nil, nil)
	if purged := j.Run(context.Background()); purged != 1 {
		t.Errorf("Run() purged = %d, want 1", purged)
	}

	if len(arch.batches) != 1 || len(arch.batches[0]) != 1 {
		t.Fatalf("archived batches = %v, want one batch of one message", arch.batches)
	}
	if arch.batches[0][0].ID != old.ID {
		t.Errorf("archived message = %s, want %s", arch.batches[0][0].ID, old.ID)
	}
	if _, err := messages.GetByID(context.Background(), old.ID); !errors.Is(err, store.ErrMessageNotFound) {
		t.Errorf("GetByID(old) error = %v, want deleted after archive", err)
	}
}

func TestArchiveFailureKeepsMessages(t *testing.T) {
	client, cfg := newTestStore(t)
	messages := store.NewMessageRepository(client)

	old := createAged(t, client, cfg, 40)
	arch := &capturingArchiver{err: errors.New("upload failed")}

	j := New(Config{RetentionDays: 30}, messages, arch, nil, nil)
	if purged := j.Run(context.Background()); purged != 0 {
		t.Errorf("Run() purged = %d, want 0 when archive fails", purged)
	}

	if _, err := messages.GetByID(context.Background(), old.ID); err != nil {
		t.Errorf("GetByID(old) error = %v, want kept when archive fails", err)
	}
}

func TestBatchedArchiveDrain(t *testing.T) {
	client, cfg := newTestStore(t)
	messages := store.NewMessageRepository(client)

	for range 5 {
		createAged(t, client, cfg, 40)
	}
	arch := &capturingArchiver{}

	j := New(Config{RetentionDays: 30, BatchSize: 2}, messages, arch, nil, nil)
	if purged := j.Run(context.Background()); purged != 5 {
		t.Errorf("Run() purged = %d, want 5", purged)
	}
	if len(arch.batches) != 3 {
		t.Errorf("archived batches = %d, want 3 with batch size 2", len(arch.batches))
	}
}
