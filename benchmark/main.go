// Package main provides a benchmark tool for GoQueue to measure task processing throughput.
// It schedules a large number of dummy tasks into an in-process queue and measures
// completion time.
//
// Usage:
//
//	go run ./benchmark -tasks 100000 -concurrency 8
//	go run ./benchmark -tasks 10000 -redis localhost:6379   # also record outcomes in Redis
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/goqueue/pkg/events"
	"github.com/guido-cesarano/goqueue/pkg/logger"
	"github.com/guido-cesarano/goqueue/pkg/queue"
	"github.com/guido-cesarano/goqueue/pkg/store"
	"github.com/guido-cesarano/goqueue/pkg/tasks"
	"github.com/rs/zerolog"
)

func main() {
	numTasks := flag.Int("tasks", 100000, "Number of tasks to schedule")
	numWorkers := flag.Int("workers", 10, "Number of concurrent schedulers")
	concurrency := flag.Int("concurrency", 8, "Queue concurrency")
	work := flag.Duration("work", 0, "Simulated work per task")
	redisAddr := flag.String("redis", "", "Record outcomes in Redis at this address")
	flag.Parse()

	if *numWorkers < 1 || *numTasks < *numWorkers {
		fmt.Printf("Need at least one task per scheduler\n")
		os.Exit(1)
	}

	q := queue.New(
		queue.WithConcurrency(*concurrency),
		queue.WithLogger(zerolog.Nop()),
	)
	defer q.Destroy()

	if *redisAddr != "" {
		st := store.New(*redisAddr, store.WithLogger(logger.Component("store")))
		if err := st.Ping(context.Background()); err != nil {
			fmt.Printf("Redis not reachable at %s: %v\n", *redisAddr, err)
			os.Exit(1)
		}
		defer st.Close()
		defer st.Attach(q)()
	}

	total := int64((*numTasks / *numWorkers) * *numWorkers)
	var settled atomic.Int64
	done := make(chan struct{})
	count := func(events.Event) error {
		if settled.Add(1) == total {
			close(done)
		}
		return nil
	}
	q.On(events.TaskComplete, count)
	q.On(events.TaskError, count)

	payload := func(ctx context.Context) (any, error) {
		if *work > 0 {
			time.Sleep(*work)
		}
		return nil, nil
	}

	fmt.Printf("GoQueue Benchmark\n")
	fmt.Printf("=================\n")
	fmt.Printf("Tasks to schedule: %d\n", total)
	fmt.Printf("Concurrent schedulers: %d\n", *numWorkers)
	fmt.Printf("Queue concurrency: %d\n\n", *concurrency)

	// Schedule phase
	fmt.Printf("Starting schedule phase...\n")
	start := time.Now()

	var wg sync.WaitGroup
	var scheduled atomic.Int64
	tasksPerWorker := *numTasks / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < tasksPerWorker; j++ {
				priority := tasks.PriorityNormal
				if j%10 == 0 {
					priority = tasks.PriorityHigh
				}
				q.Schedule(payload,
					queue.WithPriority(priority),
					queue.WithMetadata(map[string]any{"type": "benchmark", "worker": workerID}),
				)
				scheduled.Add(1)
			}
		}(i)
	}

	wg.Wait()
	scheduleTime := time.Since(start)

	fmt.Printf("✓ Scheduled %d tasks in %s\n", scheduled.Load(), scheduleTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(scheduled.Load())/scheduleTime.Seconds())

	// Wait for processing
	fmt.Printf("Waiting for all tasks to be processed...\n")
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-done:
			break wait
		case <-ticker.C:
			status := q.Status()
			fmt.Printf("  Remaining: %d tasks (%d active)\n", status.Pending+status.Active, status.Active)
		}
	}

	totalTime := time.Since(start)
	fmt.Printf("\n✓ All tasks processed in %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f tasks/sec\n", float64(total)/totalTime.Seconds())
}
