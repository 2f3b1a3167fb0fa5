package processing

import (
	"sync"
	"time"

	customlog "github.com/open-teleop/console/pkg/log"
)

// Task is one unit of work run on the loop.
type Task func()

// Executor runs tasks without overlap, in submission order.
//
// Submit may drop a task when the executor is saturated. SubmitEvent is for
// lifecycle events that must not be lost: it only fails when the executor
// has stopped, and its tasks run ahead of anything queued with Submit.
type Executor interface {
	Submit(name string, task Task) bool
	SubmitEvent(name string, task Task) bool
}

type namedTask struct {
	name string
	run  Task
}

// EventLoop is a single-worker task queue. Every channel handler, control
// tick, render frame and operator intent runs on it, so a task never
// observes another task half-way through.
type EventLoop struct {
	name      string
	logger    customlog.Logger
	queue     chan namedTask
	queueSize int
	events    []namedTask
	wake      chan struct{}
	running   bool
	wg        sync.WaitGroup
	mu        sync.Mutex
	metrics   *LoopMetrics
}

// LoopMetrics tracks metrics for an event loop
type LoopMetrics struct {
	ProcessedCount    int64
	DroppedCount      int64
	PanicCount        int64
	QueuedCount       int64
	EventCount        int64
	LastProcessedTime int64
	ProcessingTimeAvg int64 // in microseconds
	ProcessingTimeMax int64 // in microseconds
	mu                sync.Mutex
}

// NewEventLoop creates a new event loop
func NewEventLoop(name string, queueSize int, logger customlog.Logger) *EventLoop {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &EventLoop{
		name:      name,
		logger:    logger,
		queue:     make(chan namedTask, queueSize),
		queueSize: queueSize,
		wake:      make(chan struct{}, 1),
		metrics:   &LoopMetrics{},
	}
}

// Submit adds a task to the queue. It never blocks: when the loop is not
// running or the queue is full the task is discarded and false is returned.
func (l *EventLoop) Submit(name string, task Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		l.logger.Debugf("%s loop not running, discarding task %s", l.name, name)
		return false
	}

	l.metrics.mu.Lock()
	l.metrics.QueuedCount++
	l.metrics.mu.Unlock()

	select {
	case l.queue <- namedTask{name: name, run: task}:
		return true
	default:
		l.metrics.mu.Lock()
		l.metrics.DroppedCount++
		l.metrics.mu.Unlock()
		l.logger.Warnf("%s loop queue is full, discarding task %s", l.name, name)
		return false
	}
}

// SubmitEvent queues a lifecycle task on the unbounded event lane. It is
// never dropped while the loop runs.
func (l *EventLoop) SubmitEvent(name string, task Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		l.logger.Warnf("%s loop not running, discarding event %s", l.name, name)
		return false
	}
	l.events = append(l.events, namedTask{name: name, run: task})

	l.metrics.mu.Lock()
	l.metrics.EventCount++
	l.metrics.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *EventLoop) nextEvent() (namedTask, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return namedTask{}, false
	}
	t := l.events[0]
	l.events[0] = namedTask{}
	l.events = l.events[1:]
	return t, true
}

// Start starts the worker
func (l *EventLoop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}

	l.running = true
	l.logger.Infof("Starting %s loop (queue=%d)", l.name, l.queueSize)

	l.wg.Add(1)
	go l.worker()
}

// Stop drains queued tasks and events and stops the worker. A stopped loop
// cannot be restarted.
func (l *EventLoop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	// Submit holds mu while sending, so no send can race with close.
	close(l.queue)
	l.mu.Unlock()

	l.logger.Infof("Stopping %s loop", l.name)
	l.wg.Wait()
	l.logger.Infof("%s loop stopped", l.name)

	l.logMetrics()
}

func (l *EventLoop) worker() {
	defer l.wg.Done()

	for {
		if t, ok := l.nextEvent(); ok {
			l.run(t)
			continue
		}
		select {
		case <-l.wake:
		case t, ok := <-l.queue:
			if !ok {
				for t, ok := l.nextEvent(); ok; t, ok = l.nextEvent() {
					l.run(t)
				}
				return
			}
			l.run(t)
		}
	}
}

func (l *EventLoop) run(t namedTask) {
	startTime := time.Now()
	panicked := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				l.logger.Errorf("%s loop task %s panicked: %v", l.name, t.name, r)
			}
		}()
		t.run()
	}()

	processingTime := time.Since(startTime).Microseconds()

	l.metrics.mu.Lock()
	defer l.metrics.mu.Unlock()
	l.metrics.ProcessedCount++
	l.metrics.LastProcessedTime = time.Now().UnixNano()
	if panicked {
		l.metrics.PanicCount++
	}
	if l.metrics.ProcessingTimeAvg == 0 {
		l.metrics.ProcessingTimeAvg = processingTime
	} else {
		// Simple moving average
		l.metrics.ProcessingTimeAvg = (l.metrics.ProcessingTimeAvg + processingTime) / 2
	}
	if processingTime > l.metrics.ProcessingTimeMax {
		l.metrics.ProcessingTimeMax = processingTime
	}
}

// GetMetrics returns a copy of the current metrics
func (l *EventLoop) GetMetrics() LoopMetrics {
	l.metrics.mu.Lock()
	defer l.metrics.mu.Unlock()

	return LoopMetrics{
		ProcessedCount:    l.metrics.ProcessedCount,
		DroppedCount:      l.metrics.DroppedCount,
		PanicCount:        l.metrics.PanicCount,
		QueuedCount:       l.metrics.QueuedCount,
		EventCount:        l.metrics.EventCount,
		LastProcessedTime: l.metrics.LastProcessedTime,
		ProcessingTimeAvg: l.metrics.ProcessingTimeAvg,
		ProcessingTimeMax: l.metrics.ProcessingTimeMax,
	}
}

func (l *EventLoop) logMetrics() {
	metrics := l.GetMetrics()

	l.logger.Infof("%s loop metrics: processed=%d, dropped=%d, panics=%d, avg_time=%dµs, max_time=%dµs",
		l.name, metrics.ProcessedCount, metrics.DroppedCount, metrics.PanicCount,
		metrics.ProcessingTimeAvg, metrics.ProcessingTimeMax)
}

// GetName returns the loop name
func (l *EventLoop) GetName() string {
	return l.name
}

// GetQueueLength returns the current length of the task queue
func (l *EventLoop) GetQueueLength() int {
	return len(l.queue)
}

// GetQueueCapacity returns the capacity of the task queue
func (l *EventLoop) GetQueueCapacity() int {
	return l.queueSize
}

// Inline runs tasks synchronously on the caller's goroutine. Tests use it
// to drive components deterministically.
type Inline struct{}

// Submit runs the task immediately.
func (Inline) Submit(name string, task Task) bool {
	task()
	return true
}

// SubmitEvent runs the task immediately.
func (Inline) SubmitEvent(name string, task Task) bool {
	task()
	return true
}
