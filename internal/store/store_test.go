package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	cfg := Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "store_test.db"),
	}

	client, err := NewClient(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	return client
}

func testConfig(name string) *WebhookConfig {
	return &WebhookConfig{
		Name:             name,
		TargetURL:        "https://example.com/hooks",
		Secret:           "super-secret",
		MaxRetries:       3,
		BackoffStrategy:  "exponential",
		InitialIntervalS: 30,
		BackoffFactor:    2.0,
		MaxIntervalS:     3600,
		MaxAgeS:          86400,
		Headers:          map[string]string{"X-Env": "test"},
		Active:           true,
	}
}

func mustCreateConfig(t *testing.T, client *Client, name string) *WebhookConfig {
	t.Helper()
	cfg := testConfig(name)
	if err := NewConfigRepository(client).Create(context.Background(), cfg); err != nil {
		t.Fatalf("ConfigRepository.Create() error = %v", err)
	}
	return cfg
}

func mustCreateMessage(t *testing.T, client *Client, configID string) *Message {
	t.Helper()
	msg := &Message{
		WebhookConfigID: configID,
		Payload:         []byte(`{"event":"order.created"}`),
		TargetURL:       "https://example.com/hooks",
		Signature:       "sha256=abc",
		Headers:         map[string]string{"Content-Type": "application/json"},
	}
	if err := NewMessageRepository(client).Create(context.Background(), msg); err != nil {
		t.Fatalf("MessageRepository.Create() error = %v", err)
	}
	return msg
}

func TestConfigRepository(t *testing.T) {
	client := newTestClient(t)
	repo := NewConfigRepository(client)
	ctx := context.Background()

	cfg := mustCreateConfig(t, client, "orders")

	t.Run("get by id", func(t *testing.T) {
		got, err := repo.GetByID(ctx, cfg.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Name != "orders" {
			t.Errorf("GetByID().Name = %q, want %q", got.Name, "orders")
		}
		if got.Headers["X-Env"] != "test" {
			t.Errorf("GetByID().Headers[X-Env] = %q, want %q", got.Headers["X-Env"], "test")
		}
	})

	t.Run("get by name", func(t *testing.T) {
		got, err := repo.GetByName(ctx, "orders")
		if err != nil {
			t.Fatalf("GetByName() error = %v", err)
		}
		if got.ID != cfg.ID {
			t.Errorf("GetByName().ID = %q, want %q", got.ID, cfg.ID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("GetByID() error = %v, want ErrConfigNotFound", err)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		if err := repo.Create(ctx, testConfig("orders")); !errors.Is(err, ErrDuplicateName) {
			t.Errorf("Create() error = %v, want ErrDuplicateName", err)
		}
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		bad := testConfig("bad-config")
		bad.Secret = "short"
		if err := repo.Create(ctx, bad); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Create() error = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		mustCreateConfig(t, client, "billing")
		configs, err := repo.List(ctx, 10, 0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(configs) != 2 {
			t.Fatalf("List() returned %d configs, want 2", len(configs))
		}
		if configs[0].Name != "billing" {
			t.Errorf("List()[0].Name = %q, want %q", configs[0].Name, "billing")
		}
	})

	t.Run("set active", func(t *testing.T) {
		if err := repo.SetActive(ctx, cfg.ID, false); err != nil {
			t.Fatalf("SetActive() error = %v", err)
		}
		got, err := repo.GetByID(ctx, cfg.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Active {
			t.Error("SetActive(false) left config active")
		}
		if err := repo.SetActive(ctx, "missing", true); !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("SetActive() error = %v, want ErrConfigNotFound", err)
		}
	})
}

func TestMessageLifecycle(t *testing.T) {
	client := newTestClient(t)
	cfg := mustCreateConfig(t, client, "lifecycle")
	repo := NewMessageRepository(client)
	attempts := NewAttemptRepository(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	msg := mustCreateMessage(t, client, cfg.ID)

	claimed, err := repo.ClaimForProcessing(ctx, msg.ID, now)
	if err != nil {
		t.Fatalf("ClaimForProcessing() error = %v", err)
	}
	if !claimed {
		t.Fatal("ClaimForProcessing() = false on pending message, want true")
	}

	// second claim loses while the message is processing
	claimed, err = repo.ClaimForProcessing(ctx, msg.ID, now)
	if err != nil {
		t.Fatalf("ClaimForProcessing() error = %v", err)
	}
	if claimed {
		t.Fatal("ClaimForProcessing() = true on processing message, want false")
	}

	code := 503
	errText := "HTTP 503"
	retryAt := now.Add(30 * time.Second)
	err = repo.FinishFailed(ctx, msg.ID, &DeliveryAttempt{
		MessageID:     msg.ID,
		AttemptNumber: 1,
		StatusCode:    &code,
		ResponseBody:  "unavailable",
		Error:         &errText,
		TargetURL:     msg.TargetURL,
	}, errText, &retryAt, now)
	if err != nil {
		t.Fatalf("FinishFailed() error = %v", err)
	}

	got, err := repo.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, StatusFailed)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if got.NextRetry == nil {
		t.Fatal("NextRetry = nil, want retry time")
	}
	if got.Terminal() {
		t.Error("Terminal() = true for failed message with next_retry set")
	}

	// retryable-failed messages are claimable once the retry is due
	claimed, err = repo.ClaimForProcessing(ctx, msg.ID, retryAt)
	if err != nil {
		t.Fatalf("ClaimForProcessing() error = %v", err)
	}
	if !claimed {
		t.Fatal("ClaimForProcessing() = false on failed message, want true")
	}

	code = 200
	err = repo.FinishDelivered(ctx, msg.ID, &DeliveryAttempt{
		MessageID:     msg.ID,
		AttemptNumber: 2,
		StatusCode:    &code,
		ResponseBody:  "ok",
		TargetURL:     msg.TargetURL,
	}, now)
	if err != nil {
		t.Fatalf("FinishDelivered() error = %v", err)
	}

	got, err = repo.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusDelivered {
		t.Errorf("Status = %q, want %q", got.Status, StatusDelivered)
	}
	if !got.Terminal() {
		t.Error("Terminal() = false for delivered message")
	}

	// delivered messages are never claimable again
	claimed, err = repo.ClaimForProcessing(ctx, msg.ID, now)
	if err != nil {
		t.Fatalf("ClaimForProcessing() error = %v", err)
	}
	if claimed {
		t.Error("ClaimForProcessing() = true on delivered message, want false")
	}

	list, err := attempts.ListByMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("ListByMessage() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByMessage() returned %d attempts, want 2", len(list))
	}
	if list[0].AttemptNumber != 1 || list[1].AttemptNumber != 2 {
		t.Errorf("attempt order = [%d %d], want [1 2]", list[0].AttemptNumber, list[1].AttemptNumber)
	}
	if list[0].StatusCode == nil || *list[0].StatusCode != 503 {
		t.Errorf("first attempt status code = %v, want 503", list[0].StatusCode)
	}
}

func TestClaimForProcessingGuards(t *testing.T) {
	client := newTestClient(t)
	cfg := mustCreateConfig(t, client, "claims")
	repo := NewMessageRepository(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	failWith := func(t *testing.T, nextRetry *time.Time) *Message {
		t.Helper()
		msg := mustCreateMessage(t, client, cfg.ID)
		if _, err := repo.ClaimForProcessing(ctx, msg.ID, now); err != nil {
			t.Fatalf("ClaimForProcessing() error = %v", err)
		}
		if err := repo.FinishFailed(ctx, msg.ID, nil, "HTTP 500", nextRetry, now); err != nil {
			t.Fatalf("FinishFailed() error = %v", err)
		}
		return msg
	}

	t.Run("terminal failed is never claimable", func(t *testing.T) {
		msg := failWith(t, nil)

		// a redelivered bus task arriving long after exhaustion
		claimed, err := repo.ClaimForProcessing(ctx, msg.ID, now.Add(time.Hour))
		if err != nil {
			t.Fatalf("ClaimForProcessing() error = %v", err)
		}
		if claimed {
			t.Fatal("ClaimForProcessing() = true on terminally failed message, want false")
		}

		got, err := repo.GetByID(ctx, msg.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Status != StatusFailed || got.NextRetry != nil {
			t.Errorf("status = %q next_retry = %v after lost claim, want unchanged terminal failed", got.Status, got.NextRetry)
		}
	})

	t.Run("failed with future retry is not claimable yet", func(t *testing.T) {
		retryAt := now.Add(time.Hour)
		msg := failWith(t, &retryAt)

		claimed, err := repo.ClaimForProcessing(ctx, msg.ID, now)
		if err != nil {
			t.Fatalf("ClaimForProcessing() error = %v", err)
		}
		if claimed {
			t.Error("ClaimForProcessing() = true before next_retry is due, want false")
		}

		claimed, err = repo.ClaimForProcessing(ctx, msg.ID, retryAt)
		if err != nil {
			t.Fatalf("ClaimForProcessing() error = %v", err)
		}
		if !claimed {
			t.Error("ClaimForProcessing() = false at next_retry, want true")
		}
	})

	t.Run("cancelled is not claimable", func(t *testing.T) {
		msg := mustCreateMessage(t, client, cfg.ID)
		if _, err := repo.Cancel(ctx, msg.ID, now); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		claimed, err := repo.ClaimForProcessing(ctx, msg.ID, now.Add(time.Hour))
		if err != nil {
			t.Fatalf("ClaimForProcessing() error = %v", err)
		}
		if claimed {
			t.Error("ClaimForProcessing() = true on cancelled message, want false")
		}
	})
}

func TestFinishRequiresProcessing(t *testing.T) {
	client := newTestClient(t)
	cfg := mustCreateConfig(t, client, "transitions")
	repo := NewMessageRepository(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	msg := mustCreateMessage(t, client, cfg.ID)

	code := 200
	err := repo.FinishDelivered(ctx, msg.ID, &DeliveryAttempt{
		MessageID:     msg.ID,
		AttemptNumber: 1,
		StatusCode:    &code,
		TargetURL:     msg.TargetURL,
	}, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FinishDelivered() on pending message error = %v, want ErrInvalidTransition", err)
	}

	// the aborted transaction must not leave an attempt behind
	list, err := NewAttemptRepository(client).ListByMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("ListByMessage() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListByMessage() returned %d attempts after aborted finish, want 0", len(list))
	}
}

func TestCancel(t *testing.T) {
	client := newTestClient(t)
	cfg := mustCreateConfig(t, client, "cancel")
	repo := NewMessageRepository(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("pending is cancellable", func(t *testing.T) {
		msg := mustCreateMessage(t, client, cfg.ID)
		ok, err := repo.Cancel(ctx, msg.ID, now)
		if err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if !ok {
			t.Fatal("Cancel() = false on pending message, want true")
		}
		got, _ := repo.GetByID(ctx, msg.ID)
		if got.Status != StatusCancelled {
			t.Errorf("Status = %q, want %q", got.Status, StatusCancelled)
		}
	})

	t.Run("processing is not cancellable", func(t *testing.T) {
		msg := mustCreateMessage(t, client, cfg.ID)
		if _, err := repo.ClaimForProcessing(ctx, msg.ID, now); err != nil {
			t.Fatalf("ClaimForProcessing() error = %v", err)
		}
		ok, err := repo.Cancel(ctx, msg.ID, now)
		if err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if ok {
			t.Error("Cancel() = true on processing message, want false")
		}
	})

	t.Run("retryable failed is cancellable", func(t *testing.T) {
		msg := mustCreateMessage(t, client, cfg.ID)
		if _, err := repo.ClaimForProcessing(ctx, msg.ID, now); err != nil {
			t.Fatalf("ClaimForProcessing() error = %v", err)
		}
		retryAt := now.Add(time.Minute)
		if err := repo.FinishFailed(ctx, msg.ID, nil, "timeout", &retryAt, now); err != nil {
			t.Fatalf("FinishFailed() error = %v", err)
		}
		ok, err := repo.Cancel(ctx, msg.ID, now)
		if err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if !ok {
			t.Error("Cancel() = false on retryable failed message, want true")
		}
	})

	t.Run("terminal failed is not cancellable", func(t *testing.T) {
		msg := mustCreateMessage(t, client, cfg.ID)
		if _, err := repo.ClaimForProcessing(ctx, msg.ID, now); err != nil {
			t.Fatalf("ClaimForProcessing() error = %v", err)
		}
		if err := repo.FinishFailed(ctx, msg.ID, nil, "expired", nil, now); err != nil {
			t.Fatalf("FinishFailed() error = %v", err)
		}
		ok, err := repo.Cancel(ctx, msg.ID, now)
		if err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if ok {
			t.Error("Cancel() = true on terminal failed message, want false")
		}
	})
}

func TestRequeue(t *testing.T) {
	client := newTestClient(t)
	cfg := mustCreateConfig(t, client, "requeue")
	repo := NewMessageRepository(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	msg := mustCreateMessage(t, client, cfg.ID)
	if _, err := repo.ClaimForProcessing(ctx, msg.ID, now); err != nil {
		t.Fatalf("ClaimForProcessing() error = %v", err)
	}
	if err := repo.FinishFailed(ctx, msg.ID, nil, "gave up", nil, now); err != nil {
		t.Fatalf("FinishFailed() error = %v", err)
	}

	override := "https://backup.example.com/hooks"
	ok, err := repo.Requeue(ctx, msg.ID, &override, now)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if !ok {
		t.Fatal("Requeue() = false on terminal failed message, want true")
	}

	got, err := repo.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if got.TargetURL != override {
		t.Errorf("TargetURL = %q, want %q", got.TargetURL, override)
	}
	if got.Signature != msg.Signature {
		t.Errorf("Signature = %q, want unchanged %q", got.Signature, msg.Signature)
	}

	t.Run("delivered message is not requeueable", func(t *testing.T) {
		other := mustCreateMessage(t, client, cfg.ID)
		if _, err := repo.ClaimForProcessing(ctx, other.ID, now); err != nil {
			t.Fatalf("ClaimForProcessing() error = %v", err)
		}
		code := 200
		if err := repo.FinishDelivered(ctx, other.ID, &DeliveryAttempt{
			MessageID:     other.ID,
			AttemptNumber: 1,
			StatusCode:    &code,
			TargetURL:     other.TargetURL,
		}, now); err != nil {
			t.Fatalf("FinishDelivered() error = %v", err)
		}
		ok, err := repo.Requeue(ctx, other.ID, nil, now)
		if err != nil {
			t.Fatalf("Requeue() error = %v", err)
		}
		if ok {
			t.Error("Requeue() = true on delivered message, want false")
		}
	})
}

func TestRequeueFailedSince(t *testing.T) {
	client := newTestClient(t)
	cfg := mustCreateConfig(t, client, "bulk")
	repo := NewMessageRepository(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	var failed []string
	for range 3 {
		msg := mustCreateMessage(t, client, cfg.ID)
		if _, err := repo.ClaimForProcessing(ctx, msg.ID, now); err != nil {
			t.Fatalf("ClaimForProcessing() error = %v", err)
		}
		if err := repo.FinishFailed(ctx, msg.ID, nil, "gave up", nil, now); err != nil {
			t.Fatalf("FinishFailed() error = %v", err)
		}
		failed = append(failed, msg.ID)
	}

	// one retryable failure that the bulk requeue must skip
	retryable := mustCreateMessage(t, client, cfg.ID)
	if _, err := repo.ClaimForProcessing(ctx, retryable.ID, now); err != nil {
		t.Fatalf("ClaimForProcessing() error = %v", err)
	}
	retryAt := now.Add(time.Minute)
	if err := repo.FinishFailed(ctx, retryable.ID, nil, "timeout", &retryAt, now); err != nil {
		t.Fatalf("FinishFailed() error = %v", err)
	}

	ids, err := repo.RequeueFailedSince(ctx, now.Add(-time.Hour), 10, nil, now)
	if err != nil {
		t.Fatalf("RequeueFailedSince() error = %v", err)
	}
	if len(ids) != len(failed) {
		t.Fatalf("RequeueFailedSince() requeued %d messages, want %d", len(ids), len(failed))
	}
	for _, id := range ids {
		got, err := repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Status != StatusPending {
			t.Errorf("message %s status = %q, want %q", id, got.Status, StatusPending)
		}
	}
}

func TestFindReadyForRetry(t *testing.T) {
	client := newTestClient(t)
	cfg := mustCreateConfig(t, client, "sweeps")
	repo := NewMessageRepository(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	fail := func(t *testing.T, retryAt *time.Time) string {
		t.Helper()
		msg := mustCreateMessage(t, client, cfg.ID)
		if _, err := repo.ClaimForProcessing(ctx, msg.ID, now); err != nil {
			t.Fatalf("ClaimForProcessing() error = %v", err)
		}
		if err := repo.FinishFailed(ctx, msg.ID, nil, "fail", retryAt, now); err != nil {
			t.Fatalf("FinishFailed() error = %v", err)
		}
		return msg.ID
	}

	due := now.Add(-time.Minute)
	dueID := fail(t, &due)
	future := now.Add(time.Hour)
	fail(t, &future)
	fail(t, nil) // terminal

	ids, err := repo.FindReadyForRetry(ctx, now, 10)
	if err != nil {
		t.Fatalf("FindReadyForRetry() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != dueID {
		t.Errorf("FindReadyForRetry() = %v, want [%s]", ids, dueID)
	}
}

func TestRecoverStuck(t *testing.T) {
	client := newTestClient(t)
	cfg := mustCreateConfig(t, client, "zombies")
	repo := NewMessageRepository(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	stuck := mustCreateMessage(t, client, cfg.ID)
	if _, err := repo.ClaimForProcessing(ctx, stuck.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("ClaimForProcessing() error = %v", err)
	}

	fresh := mustCreateMessage(t, client, cfg.ID)
	if _, err := repo.ClaimForProcessing(ctx, fresh.ID, now); err != nil {
		t.Fatalf("ClaimForProcessing() error = %v", err)
	}

	recovered, err := repo.RecoverStuck(ctx, now.Add(-10*time.Minute), now)
	if err != nil {
		t.Fatalf("RecoverStuck() error = %v", err)
	}
	if recovered != 1 {
		t.Fatalf("RecoverStuck() = %d, want 1", recovered)
	}

	got, err := repo.GetByID(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("stuck message status = %q, want %q", got.Status, StatusFailed)
	}
	if got.NextRetry == nil || got.NextRetry.After(now) {
		t.Errorf("stuck message next_retry = %v, want due at or before %v", got.NextRetry, now)
	}

	got, err = repo.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusProcessing {
		t.Errorf("fresh message status = %q, want %q", got.Status, StatusProcessing)
	}
}

func TestDeleteOld(t *testing.T) {
	client := newTestClient(t)
	cfg := mustCreateConfig(t, client, "retention")
	repo := NewMessageRepository(client)
	attempts := NewAttemptRepository(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	old := mustCreateMessage(t, client, cfg.ID)
	if _, err := repo.ClaimForProcessing(ctx, old.ID, now); err != nil {
		t.Fatalf("ClaimForProcessing() error = %v", err)
	}
	code := 200
	if err := repo.FinishDelivered(ctx, old.ID, &DeliveryAttempt{
		MessageID:     old.ID,
		AttemptNumber: 1,
		StatusCode:    &code,
		TargetURL:     old.TargetURL,
	}, now); err != nil {
		t.Fatalf("FinishDelivered() error = %v", err)
	}

	pending := mustCreateMessage(t, client, cfg.ID)

	found, err := repo.FindTerminalBefore(ctx, now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("FindTerminalBefore() error = %v", err)
	}
	if len(found) != 1 || found[0].ID != old.ID {
		t.Fatalf("FindTerminalBefore() returned %d messages, want the delivered one", len(found))
	}

	deleted, err := repo.DeleteOld(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteOld() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("DeleteOld() = %d, want 1", deleted)
	}

	if _, err := repo.GetByID(ctx, old.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("GetByID() error = %v after delete, want ErrMessageNotFound", err)
	}
	if _, err := repo.GetByID(ctx, pending.ID); err != nil {
		t.Errorf("GetByID() error = %v for pending message, want nil", err)
	}

	// attempts go with the message via cascade
	list, err := attempts.ListByMessage(ctx, old.ID)
	if err != nil {
		t.Fatalf("ListByMessage() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListByMessage() returned %d attempts after delete, want 0", len(list))
	}
}

func TestStats(t *testing.T) {
	client := newTestClient(t)
	cfg := mustCreateConfig(t, client, "stats")
	repo := NewMessageRepository(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	mustCreateMessage(t, client, cfg.ID)
	mustCreateMessage(t, client, cfg.ID)
	claimed := mustCreateMessage(t, client, cfg.ID)
	if _, err := repo.ClaimForProcessing(ctx, claimed.ID, now); err != nil {
		t.Fatalf("ClaimForProcessing() error = %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats["pending"] != 2 {
		t.Errorf("Stats()[pending] = %d, want 2", stats["pending"])
	}
	if stats["processing"] != 1 {
		t.Errorf("Stats()[processing] = %d, want 1", stats["processing"])
	}
}

func TestHealthRepository(t *testing.T) {
	client := newTestClient(t)
	cfg := mustCreateConfig(t, client, "health")
	repo := NewHealthRepository(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("missing row yields zero stats", func(t *testing.T) {
		stats, err := repo.GetByConfigID(ctx, cfg.ID)
		if err != nil {
			t.Fatalf("GetByConfigID() error = %v", err)
		}
		if stats.TotalSent != 0 {
			t.Errorf("TotalSent = %d, want 0", stats.TotalSent)
		}
		if got := stats.Status(); got != HealthUnknown {
			t.Errorf("Status() = %q, want %q", got, HealthUnknown)
		}
	})

	t.Run("upsert inserts then updates", func(t *testing.T) {
		stats := &WebhookHealthStats{
			WebhookConfigID:   cfg.ID,
			TotalSent:         10,
			TotalDelivered:    10,
			AvgResponseTimeMs: 42.5,
			LastSuccessTime:   &now,
		}
		if err := repo.Upsert(ctx, stats); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		stats.TotalSent = 20
		stats.TotalDelivered = 19
		stats.TotalFailed = 1
		if err := repo.Upsert(ctx, stats); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		got, err := repo.GetByConfigID(ctx, cfg.ID)
		if err != nil {
			t.Fatalf("GetByConfigID() error = %v", err)
		}
		if got.TotalSent != 20 || got.TotalDelivered != 19 || got.TotalFailed != 1 {
			t.Errorf("counters = %d/%d/%d, want 20/19/1", got.TotalSent, got.TotalDelivered, got.TotalFailed)
		}
		if got.LastSuccessTime == nil {
			t.Error("LastSuccessTime = nil, want set")
		}
		if status := got.Status(); status != HealthHealthy {
			t.Errorf("Status() = %q, want %q", status, HealthHealthy)
		}
	})
}
