package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/applyflow/applyflow/shared/rabbitmq"
)

// WorkerConfig holds scrape worker configuration
type WorkerConfig struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Pipeline      *Pipeline
	Sources       []Source
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	TaskTimeout   time.Duration
}

// taskMessage pairs a parsed scrape task with its delivery tag for ack/nack.
type taskMessage struct {
	Source      string
	DeliveryTag uint64
}

// Worker consumes scrape tasks from the queue and runs them through the
// pipeline on a bounded pool of goroutines.
type Worker struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	pipeline     *Pipeline
	sources      map[string]Source
	workerID     string
	concurrency  int
	prefetch     int
	taskTimeout  time.Duration

	tasksChan chan *taskMessage
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewWorker creates a scrape worker instance.
func NewWorker(cfg *WorkerConfig) *Worker {
	sources := make(map[string]Source, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources[src.Name()] = src
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 10 * time.Minute
	}

	return &Worker{
		logger:       cfg.Logger,
		rabbitClient: cfg.RabbitClient,
		pipeline:     cfg.Pipeline,
		sources:      sources,
		workerID:     cfg.WorkerID,
		concurrency:  concurrency,
		prefetch:     prefetch,
		taskTimeout:  taskTimeout,
		tasksChan:    make(chan *taskMessage),
		stopChan:     make(chan struct{}),
	}
}

// Start consumes the queue until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting scrape worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("task_timeout", w.taskTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnPool(ctx)
	w.dispatch(ctx, deliveries)
	return nil
}

// Stop gracefully stops the worker pool.
func (w *Worker) Stop() {
	w.logger.Info("Stopping scrape worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Scrape worker stopped")
}

// setupConsumer configures QoS and starts consuming from the task queue.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	if err := channel.Qos(w.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.rabbitClient.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Scrape task consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetch),
	)
	return deliveries, nil
}

// dispatch parses deliveries and hands them to the pool.
func (w *Worker) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Task dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var task ScrapeTask
			if err := json.Unmarshal(delivery.Body, &task); err != nil || task.Source == "" {
				w.logger.Error("Malformed scrape task",
					slog.String("body", string(delivery.Body)),
				)
				// Malformed tasks go to the DLQ, never back on the queue.
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed task",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			msg := &taskMessage{Source: task.Source, DeliveryTag: delivery.DeliveryTag}
			select {
			case w.tasksChan <- msg:
			case <-ctx.Done():
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK task on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			}
		}
	}
}

// spawnPool starts the processing goroutines.
func (w *Worker) spawnPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
	w.logger.Info("Scrape worker pool spawned",
		slog.Int("worker_count", w.concurrency),
	)
}

func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return

		case msg, ok := <-w.tasksChan:
			if !ok {
				return
			}

			err := w.processTask(ctx, msg)

			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				w.logger.Error("No RabbitMQ channel for ACK/NACK",
					slog.String("worker_name", workerName),
					slog.String("source", msg.Source),
				)
				continue
			}

			if err != nil {
				w.logger.Error("Scrape task failed",
					slog.String("worker_name", workerName),
					slog.String("source", msg.Source),
					slog.Any("error", err),
				)
				requeue := w.shouldRequeue(err)
				if nackErr := channel.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
					w.logger.Error("Failed to NACK task", slog.Any("error", nackErr))
				}
				continue
			}

			if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
				w.logger.Error("Failed to ACK task", slog.Any("error", ackErr))
			} else {
				w.logger.Info("Scrape task completed",
					slog.String("worker_name", workerName),
					slog.String("source", msg.Source),
				)
			}
		}
	}
}

func (w *Worker) processTask(ctx context.Context, msg *taskMessage) error {
	source, ok := w.sources[msg.Source]
	if !ok {
		return fmt.Errorf("unknown source %q", msg.Source)
	}

	ctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	return w.pipeline.Run(ctx, source)
}

// shouldRequeue keeps transient failures on the queue and drops the rest.
func (w *Worker) shouldRequeue(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
