package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestChannelEventBus_PublishAndSubscribe(t *testing.T) {
	eb := NewChannelEventBus(
		WithBufferSize(1),
		WithWorkerCount(1),
		WithRetries(1, 10*time.Millisecond),
	)
	defer eb.Close()

	received := make(chan string, 1)
	handler := func(ctx context.Context, event Event) error {
		received <- string(event.Type())
		return nil
	}
	_, err := eb.Subscribe([]EventType{EventStepExecutionSuccess}, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	evt := NewEvent(EventStepExecutionSuccess, nil, "test", nil)
	err = eb.Publish(context.Background(), evt)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case typ := <-received:
		if typ != string(EventStepExecutionSuccess) {
			t.Errorf("expected event type %v, got %v", EventStepExecutionSuccess, typ)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event handler")
	}
}

func TestChannelEventBus_TypeFiltering(t *testing.T) {
	eb := NewChannelEventBus(WithBufferSize(4), WithWorkerCount(1))
	defer eb.Close()

	received := make(chan EventType, 4)
	handler := func(ctx context.Context, event Event) error {
		received <- event.Type()
		return nil
	}
	_, err := eb.Subscribe([]EventType{EventPaymentAccepted, EventPaymentRejected}, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for _, typ := range []EventType{EventPaymentAccepted, EventStepExecutionStarted, EventPaymentRejected} {
		if err := eb.Publish(context.Background(), NewEvent(typ, nil, "test", nil)); err != nil {
			t.Fatalf("Publish(%s) failed: %v", typ, err)
		}
	}

	got := make([]EventType, 0, 2)
	timeout := time.After(200 * time.Millisecond)
	for len(got) < 2 {
		select {
		case typ := <-received:
			got = append(got, typ)
		case <-timeout:
			t.Fatalf("timeout, received %v", got)
		}
	}
	select {
	case typ := <-received:
		t.Errorf("handler saw unsubscribed event type %v", typ)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelEventBus_SubscribeAll(t *testing.T) {
	eb := NewChannelEventBus(WithBufferSize(4), WithWorkerCount(1))
	defer eb.Close()

	received := make(chan EventType, 4)
	subID, err := eb.SubscribeAll(func(ctx context.Context, event Event) error {
		received <- event.Type()
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeAll failed: %v", err)
	}

	if err := eb.Publish(context.Background(), NewEvent(EventBatchExecutionStarted, 0, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case typ := <-received:
		if typ != EventBatchExecutionStarted {
			t.Errorf("expected %v, got %v", EventBatchExecutionStarted, typ)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for all-subscriber")
	}

	if err := eb.Unsubscribe(subID); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := eb.Publish(context.Background(), NewEvent(EventBatchExecutionFinished, 0, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case typ := <-received:
		t.Errorf("unsubscribed handler saw %v", typ)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelEventBus_HandlerRetry(t *testing.T) {
	eb := NewChannelEventBus(
		WithBufferSize(1),
		WithWorkerCount(1),
		WithRetries(2, 10*time.Millisecond),
	)
	defer eb.Close()

	var mu sync.Mutex
	calls := 0
	handler := func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 2 {
			return context.DeadlineExceeded
		}
		return nil
	}
	_, err := eb.Subscribe([]EventType{EventStepExecutionFailure}, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	err = eb.Publish(context.Background(), NewEvent(EventStepExecutionFailure, nil, "test", nil))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	if calls < 2 {
		t.Errorf("expected at least 2 calls, got %d", calls)
	}
	mu.Unlock()
}

func TestChannelEventBus_ContextCancellation(t *testing.T) {
	eb := NewChannelEventBus(
		WithBufferSize(1),
		WithWorkerCount(1),
		WithRetries(1, 10*time.Millisecond),
	)
	defer eb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan struct{}, 1)
	handler := func(ctx context.Context, event Event) error {
		received <- struct{}{}
		return nil
	}
	_, err := eb.Subscribe([]EventType{EventStepExecutionStarted}, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	cancel()
	err = eb.Publish(ctx, NewEvent(EventStepExecutionStarted, nil, "test", nil))
	if err == nil {
		t.Error("expected Publish to reject an already-cancelled context")
	}

	select {
	case <-received:
		t.Error("handler should not be called after context cancellation")
	case <-time.After(50 * time.Millisecond):
		// Success: handler not called
	}
}

func TestChannelEventBus_PublishAfterClose(t *testing.T) {
	eb := NewChannelEventBus(WithBufferSize(1), WithWorkerCount(1))
	if err := eb.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := eb.Close(); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}
	if err := eb.Publish(context.Background(), NewEvent(EventSystemInfo, nil, "test", nil)); err == nil {
		t.Error("expected Publish on a closed bus to fail")
	}
	if _, err := eb.Subscribe([]EventType{EventSystemInfo}, func(context.Context, Event) error { return nil }); err == nil {
		t.Error("expected Subscribe on a closed bus to fail")
	}
}
