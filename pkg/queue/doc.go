// Package queue is the Task-Work Queue (C8): a small bounded-
// concurrency FIFO for background work that must not block an HTTP
// handler; its one user is Engine.Start, which queues each task's
// worker onto it. Enqueue returns immediately unless 1024 items are
// already waiting; work is not durable across a restart.
package queue
