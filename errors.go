package satchel

import (
	"errors"

	"goflare.io/satchel/internal/policy"
	"goflare.io/satchel/internal/queue"
)

var (
	// ErrNoData means neither the cache nor the network could satisfy a read.
	ErrNoData = policy.ErrNoData
	// ErrOffline means the operation requires the network and the device is
	// offline.
	ErrOffline = policy.ErrOffline
	// ErrQueueFull means the request queue hit its configured size cap.
	ErrQueueFull = queue.ErrQueueFull
	// ErrQueued means a mutation could not execute now and was durably
	// queued for the next sync instead. Not a failure.
	ErrQueued = errors.New("request queued for later sync")
)
