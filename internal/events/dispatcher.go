package events

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"statarbitrage/internal/models"
	"statarbitrage/pkg/retry"
	"statarbitrage/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink — получатель событий жизненного цикла.
type Sink interface {
	Send(ctx context.Context, event models.PairEvent) error
}

// Dispatcher доставляет события минимум один раз: события буферизуются
// в канале и отправляются в каждый sink с retry. Публикация никогда
// не блокирует вызывающего; при переполненном буфере событие пишется
// в лог и теряется (сознательный предел at-least-once на этом узле).
type Dispatcher struct {
	sinks  []Sink
	buffer chan models.PairEvent
	retry  retry.Config
	log    *utils.Logger
	wg     sync.WaitGroup
}

// NewDispatcher создает диспетчер с буфером bufferSize.
func NewDispatcher(bufferSize int, log *utils.Logger, sinks ...Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Dispatcher{
		sinks:  sinks,
		buffer: make(chan models.PairEvent, bufferSize),
		retry:  retry.DefaultConfig(),
		log:    log.Named("events"),
	}
}

// Publish ставит событие в очередь доставки.
func (d *Dispatcher) Publish(event models.PairEvent) {
	select {
	case d.buffer <- event:
	default:
		d.log.Error("буфер событий переполнен, событие потеряно",
			zap.String("type", event.Type),
			zap.String("pair", event.Pair.PairName))
	}
}

// Run доставляет события до отмены контекста, затем дожидается
// завершения начатых доставок.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case event := <-d.buffer:
			d.deliver(ctx, event)
		}
	}
}

// drain доставляет оставшиеся в буфере события с коротким дедлайном.
// Контекст живет, пока запущенные горутины доставки не завершатся:
// отменить его раньше значит оборвать их на старте.
func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event := <-d.buffer:
			d.deliver(ctx, event)
		default:
			d.wg.Wait()
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event models.PairEvent) {
	for _, sink := range d.sinks {
		sink := sink
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			err := retry.Do(ctx, func() error {
				return sink.Send(ctx, event)
			}, d.retry)
			if err != nil {
				d.log.Error("доставка события не удалась",
					zap.String("type", event.Type),
					zap.String("pair", event.Pair.PairName),
					zap.Error(err))
			}
		}()
	}
}

// ============ WebSocket sink ============

// HubSink транслирует события в websocket hub.
type HubSink struct {
	hub *Hub
}

// NewHubSink создает sink поверх hub.
func NewHubSink(hub *Hub) *HubSink {
	return &HubSink{hub: hub}
}

// Send сериализует событие и рассылает его подключенным клиентам.
func (s *HubSink) Send(_ context.Context, event models.PairEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.hub.Broadcast(payload)
	return nil
}

// ============ Log sink ============

// LogSink пишет события в структурированный лог. Всегда подключен:
// это дешевый аудит-трейл переходов жизненного цикла.
type LogSink struct {
	log *utils.Logger
}

// NewLogSink создает лог-sink.
func NewLogSink(log *utils.Logger) *LogSink {
	return &LogSink{log: log.Named("audit")}
}

// Send пишет событие в лог.
func (s *LogSink) Send(_ context.Context, event models.PairEvent) error {
	s.log.Info("событие",
		zap.String("type", event.Type),
		zap.String("pair", event.Pair.PairName),
		zap.String("status", event.Pair.Status),
		zap.String("exit_reason", event.Pair.ExitReason),
		zap.Float64("profit_pct", event.Pair.ProfitPercent),
		zap.Time("ts", event.Timestamp))
	return nil
}
