package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRateLimiter_GlobalBucketExhausts(t *testing.T) {
	l := NewRateLimiter(rate.Limit(0), 2, rate.Limit(100), 100, rate.Limit(100), 100)
	assert.True(t, l.Allow("alice", ""))
	assert.True(t, l.Allow("alice", ""))
	assert.False(t, l.Allow("alice", ""), "global burst of 2 should be exhausted on the third call")
}

func TestRateLimiter_PerSessionBucketsAreIndependent(t *testing.T) {
	l := NewRateLimiter(rate.Limit(1000), 1000, rate.Limit(0), 1, rate.Limit(100), 100)
	assert.True(t, l.Allow("alice", ""))
	assert.False(t, l.Allow("alice", ""), "alice's own bucket should be exhausted")
	assert.True(t, l.Allow("bob", ""), "bob has an independent bucket from alice")
}

func TestRateLimiter_TaskBucketOnlyAppliesWhenNamed(t *testing.T) {
	l := NewRateLimiter(rate.Limit(1000), 1000, rate.Limit(1000), 1000, rate.Limit(0), 1)
	assert.True(t, l.Allow("alice", "ReviewTask"))
	assert.False(t, l.Allow("alice", "ReviewTask"), "the named task's bucket should be exhausted")
	assert.True(t, l.Allow("alice", ""), "no task name means the task bucket is never consulted")
}
