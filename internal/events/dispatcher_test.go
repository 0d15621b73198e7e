package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"statarbitrage/internal/models"
	"statarbitrage/pkg/retry"
	"statarbitrage/pkg/utils"
)

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error"})
}

type recordingSink struct {
	mu       sync.Mutex
	received []models.PairEvent
	failUpTo int // первые failUpTo вызовов возвращают ошибку
	calls    int
}

func (s *recordingSink) Send(_ context.Context, event models.PairEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failUpTo {
		return errors.New("sink unavailable")
	}
	s.received = append(s.received, event)
	return nil
}

func (s *recordingSink) events() []models.PairEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PairEvent, len(s.received))
	copy(out, s.received)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("условие не выполнилось за отведенное время")
}

func testEvent(eventType string) models.PairEvent {
	return models.NewPairEvent(eventType, &models.Pair{
		PairName: "AAA/BBB",
		Status:   models.PairStatusTrading,
	}, "")
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	d := NewDispatcher(16, testLogger(), first, second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Publish(testEvent(models.EventPairOpened))

	waitFor(t, 2*time.Second, func() bool {
		return len(first.events()) == 1 && len(second.events()) == 1
	})
	if got := first.events()[0]; got.Type != models.EventPairOpened {
		t.Errorf("type = %s", got.Type)
	}
}

func TestDispatcher_RetriesFailingSink(t *testing.T) {
	sink := &recordingSink{failUpTo: 2}
	d := NewDispatcher(16, testLogger(), sink)
	d.retry = retry.Config{
		MaxRetries:   4,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Publish(testEvent(models.EventPairClosed))

	waitFor(t, 2*time.Second, func() bool {
		return len(sink.events()) == 1
	})
}

func TestDispatcher_PublishNeverBlocks(t *testing.T) {
	// диспетчер не запущен, буфер на 2 события
	d := NewDispatcher(2, testLogger(), &recordingSink{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish(testEvent(models.EventPairSelected))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish заблокировался на переполненном буфере")
	}
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(16, testLogger(), sink)

	// события в буфере до старта
	d.Publish(testEvent(models.EventPairOpened))
	d.Publish(testEvent(models.EventPairClosed))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Run сразу уходит в drain

	finished := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run не завершился после отмены контекста")
	}
	if got := len(sink.events()); got != 2 {
		t.Errorf("доставлено %d событий, ожидалось 2", got)
	}
}
