package engine

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-dispatch/internal/confirm"
)

func TestRegistryDropsExpiredSettledResults(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := newRegistry(time.Minute)
	r.now = func() time.Time { return now }
	stream := NewStatusStream(0, zaptest.NewLogger(t))

	settled, pending, fresh := solana.Signature{1}, solana.Signature{2}, solana.Signature{3}
	r.add(Result{Signature: settled}, stream)
	r.add(Result{Signature: pending}, stream)
	r.settle(settled, confirm.Verdict{State: confirm.Success})

	now = now.Add(30 * time.Second)
	r.add(Result{Signature: fresh}, stream)
	assert.Equal(t, 3, r.len())

	now = now.Add(2 * time.Minute)
	r.add(Result{Signature: solana.Signature{4}}, stream)

	_, _, ok := r.get(settled)
	assert.False(t, ok)
	_, _, ok = r.get(pending)
	assert.True(t, ok)
	_, _, ok = r.get(fresh)
	assert.True(t, ok)
	assert.Equal(t, 3, r.len())
}

func TestRegistryDefaultRetention(t *testing.T) {
	assert.Equal(t, DefaultResultRetention, newRegistry(0).retention)
}
