// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tsoconsensus specifies the ConsensusClient external collaborator:
// the durability backstop ("Paxos" in the spec's shorthand) that arbitrates
// master election and durably records the lease and reserved time
// threshold. The wire verbs GET_PAXOS_LEADER_URL / UPDATE_PAXOS / ACK_PAXOS
// are carried by a real implementation's RPC transport, out of scope here;
// this package defines the Go-level seam (Client) and an in-memory
// reference implementation that arbitrates between however many TSO
// instances share it, suitable for tests and single-process demos of safe
// handover and lost-lease suicide.
package tsoconsensus

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// Client is everything the controller needs from the consensus store.
// Every method takes the caller's instanceID (the durable key this
// instance is known by in the store, distinct from TsoID) so a single
// Client value can arbitrate between multiple competing instances, as the
// in-memory reference implementation does for tests.
type Client interface {
	// JoinCluster attempts to become master if no live master holds the
	// lease, or reports standby status otherwise. Always succeeds in
	// reporting a prevReservedTimeThreshold, which is 0 the very first time
	// any instance joins an empty cluster.
	JoinCluster(ctx context.Context, instanceID, instanceURL string, nowTAI uint64) (isMaster bool, prevReservedTimeThreshold uint64, err error)

	// RenewLease performs the heartbeat carrier's conditional read-then-write
	// of (lease, reservedTimeThreshold): the write only commits if this
	// instanceID still holds the lease. On success, returns the lease value
	// actually committed (normally proposedLease) and the highest
	// reservedTimeThreshold on record (max(current, proposedThreshold)). On
	// failure, distinguishes a transient RPC failure (caller retries) from
	// having lost the lease outright (caller commits suicide immediately).
	RenewLease(ctx context.Context, instanceID string, nowTAI, proposedLease, proposedThreshold uint64) (newLease, newThreshold uint64, err error)

	// StandbyHeartbeat reports whether the current master's lease has
	// expired from the consensus store's point of view, and the highest
	// reservedTimeThreshold on record (what a promoting standby must wait
	// out per the safe handover rule).
	StandbyHeartbeat(ctx context.Context, nowTAI uint64) (masterGone bool, observedReservedTimeThreshold uint64, err error)

	// ClaimMastership performs the conditional write that promotes a
	// standby to master: it only commits if no live master currently holds
	// the lease. Returns the reservedTimeThreshold a newly promoted master
	// must wait out before it may set isReadyToIssueTs (safe handover,
	// invariant I5).
	ClaimMastership(ctx context.Context, instanceID, instanceURL string, nowTAI, proposedLease uint64) (claimed bool, prevReservedTimeThreshold uint64, err error)

	// LeaderURL answers the internal GET_PAXOS_LEADER_URL verb: the last
	// known master URL on record, or "" if none.
	LeaderURL(ctx context.Context) (masterURL string, err error)

	// ExitCluster releases this instance's claim on the lease, if it holds
	// one, as part of a graceful shutdown.
	ExitCluster(ctx context.Context, instanceID string) error
}

// LeaseLostError is returned by RenewLease when the conditional write did
// not commit because another instance now holds the lease: the caller must
// treat this as an immediate, unretriable loss of mastership.
type LeaseLostError struct {
	// HolderID is the instance the store currently believes holds the
	// lease, "" if none.
	HolderID string
}

// Error implements error.
func (e *LeaseLostError) Error() string {
	if e.HolderID == "" {
		return "lease lost: no instance currently holds it"
	}
	return "lease lost: now held by " + e.HolderID
}

// InMemoryClient is a reference Client shared by however many simulated TSO
// instances are constructed against it in a test or single-process demo.
// It models the store's durable state as plain fields behind a mutex; there
// is no actual Paxos round, but the conditional-write semantics it exposes
// are exactly what a real implementation must provide.
type InMemoryClient struct {
	mu sync.Mutex

	masterID  string
	masterURL string
	// leaseExpiresTAI is the TAI instant at or after which the store
	// considers the current master's lease expired and eligible to be
	// claimed by a standby.
	leaseExpiresTAI uint64
	reservedThresh  uint64

	// transientFailuresLeft makes the next N calls of any kind fail with a
	// plain (non-LeaseLost) error, modeling an unreachable consensus store.
	transientFailuresLeft int
	// forceLeaseLoss, when true, makes the next RenewLease from the current
	// master fail with LeaseLostError as if another instance won a race,
	// without actually handing mastership to anyone.
	forceLeaseLoss bool
}

// NewInMemoryClient returns a Client with no master and a zero reserved
// time threshold, as if the cluster had never had an instance join it.
func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{}
}

func (c *InMemoryClient) consumeTransientFailure() error {
	if c.transientFailuresLeft > 0 {
		c.transientFailuresLeft--
		return errors.New("simulated consensus store outage")
	}
	return nil
}

// InjectTransientFailures makes the next n calls of any kind return a
// plain error, modeling a temporarily unreachable consensus store: the
// controller's retry-then-suicide-after-three path is what should observe
// these.
func (c *InMemoryClient) InjectTransientFailures(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transientFailuresLeft = n
}

// InjectLeaseLoss arms a one-shot LeaseLostError on the next RenewLease
// call from whichever instance currently holds the lease, modeling another
// instance having won a concurrent claim.
func (c *InMemoryClient) InjectLeaseLoss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceLeaseLoss = true
}

// JoinCluster implements Client.
func (c *InMemoryClient) JoinCluster(
	ctx context.Context, instanceID, instanceURL string, nowTAI uint64,
) (bool, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeTransientFailure(); err != nil {
		return false, 0, err
	}
	if c.masterID == "" || nowTAI > c.leaseExpiresTAI {
		c.masterID = instanceID
		c.masterURL = instanceURL
		return true, c.reservedThresh, nil
	}
	return false, c.reservedThresh, nil
}

// RenewLease implements Client.
func (c *InMemoryClient) RenewLease(
	ctx context.Context, instanceID string, nowTAI, proposedLease, proposedThreshold uint64,
) (uint64, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeTransientFailure(); err != nil {
		return 0, 0, err
	}
	if c.forceLeaseLoss && c.masterID == instanceID {
		c.forceLeaseLoss = false
		c.masterID = ""
		return 0, 0, &LeaseLostError{HolderID: ""}
	}
	if c.masterID != instanceID {
		return 0, 0, &LeaseLostError{HolderID: c.masterID}
	}
	c.leaseExpiresTAI = proposedLease
	if proposedThreshold > c.reservedThresh {
		c.reservedThresh = proposedThreshold
	}
	return proposedLease, c.reservedThresh, nil
}

// StandbyHeartbeat implements Client.
func (c *InMemoryClient) StandbyHeartbeat(
	ctx context.Context, nowTAI uint64,
) (bool, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeTransientFailure(); err != nil {
		return false, 0, err
	}
	masterGone := c.masterID == "" || nowTAI > c.leaseExpiresTAI
	return masterGone, c.reservedThresh, nil
}

// ClaimMastership implements Client.
func (c *InMemoryClient) ClaimMastership(
	ctx context.Context, instanceID, instanceURL string, nowTAI, proposedLease uint64,
) (bool, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeTransientFailure(); err != nil {
		return false, 0, err
	}
	if c.masterID != "" && nowTAI <= c.leaseExpiresTAI {
		return false, c.reservedThresh, nil
	}
	c.masterID = instanceID
	c.masterURL = instanceURL
	c.leaseExpiresTAI = proposedLease
	return true, c.reservedThresh, nil
}

// LeaderURL implements Client.
func (c *InMemoryClient) LeaderURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeTransientFailure(); err != nil {
		return "", err
	}
	return c.masterURL, nil
}

// ExitCluster implements Client.
func (c *InMemoryClient) ExitCluster(ctx context.Context, instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.masterID == instanceID {
		c.masterID = ""
		c.masterURL = ""
	}
	return nil
}

var _ Client = (*InMemoryClient)(nil)
