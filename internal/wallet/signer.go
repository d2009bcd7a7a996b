package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSignerUnavailable = errors.New("signer unavailable")
	ErrUserRejected      = errors.New("signature request rejected by user")
	ErrSignerTimeout     = errors.New("signature request timed out")
)

// DefaultSignTimeout bounds the wait for an external device.
const DefaultSignTimeout = 15 * time.Second

// Signer produces a signature over a serialized transaction message.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(ctx context.Context, message []byte) (solana.Signature, error)
}

// SignRequest is delivered to the paired device. Exactly one of Approve or
// Reject takes effect; later calls are ignored.
type SignRequest struct {
	ID      uuid.UUID
	Message []byte

	once  sync.Once
	reply chan signReply
}

type signReply struct {
	signature solana.Signature
	rejected  bool
}

func (r *SignRequest) Approve(sig solana.Signature) {
	r.once.Do(func() {
		r.reply <- signReply{signature: sig}
	})
}

func (r *SignRequest) Reject() {
	r.once.Do(func() {
		r.reply <- signReply{rejected: true}
	})
}

// PairedSigner forwards sign requests to an external device session.
// The device calls Pair to start receiving requests and Unpair when it goes away.
type PairedSigner struct {
	mu        sync.RWMutex
	publicKey solana.PublicKey
	requests  chan *SignRequest
	done      chan struct{}

	timeout time.Duration
	logger  *zap.Logger
}

func NewPairedSigner(timeout time.Duration, logger *zap.Logger) *PairedSigner {
	if timeout <= 0 {
		timeout = DefaultSignTimeout
	}
	return &PairedSigner{
		timeout: timeout,
		logger:  logger.Named("paired-signer"),
	}
}

// Pair attaches a device holding the key for pub and returns its request feed.
// A previous pairing is dropped.
func (p *PairedSigner) Pair(pub solana.PublicKey) <-chan *SignRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		close(p.done)
	}
	p.publicKey = pub
	p.requests = make(chan *SignRequest)
	p.done = make(chan struct{})

	p.logger.Info("Device paired", zap.String("public_key", pub.String()))
	return p.requests
}

func (p *PairedSigner) Unpair() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done == nil {
		return
	}
	close(p.done)
	p.done = nil
	p.requests = nil
	p.publicKey = solana.PublicKey{}
	p.logger.Info("Device unpaired")
}

func (p *PairedSigner) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.done != nil
}

func (p *PairedSigner) PublicKey() solana.PublicKey {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.publicKey
}

// Sign publishes one request and waits for the device once. There is no retry:
// a timeout or rejection is returned to the caller as is.
func (p *PairedSigner) Sign(ctx context.Context, message []byte) (solana.Signature, error) {
	p.mu.RLock()
	requests, done, pub := p.requests, p.done, p.publicKey
	p.mu.RUnlock()

	if done == nil {
		return solana.Signature{}, ErrSignerUnavailable
	}

	req := &SignRequest{
		ID:      uuid.New(),
		Message: append([]byte(nil), message...),
		reply:   make(chan signReply, 1),
	}
	logger := p.logger.With(zap.String("request_id", req.ID.String()))

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case requests <- req:
		logger.Debug("Sign request delivered")
	case <-done:
		return solana.Signature{}, ErrSignerUnavailable
	case <-timer.C:
		logger.Warn("Device did not pick up sign request", zap.Duration("timeout", p.timeout))
		return solana.Signature{}, ErrSignerTimeout
	case <-ctx.Done():
		return solana.Signature{}, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		if reply.rejected {
			logger.Info("Sign request rejected")
			return solana.Signature{}, ErrUserRejected
		}
		if !pub.Verify(message, reply.signature) {
			logger.Error("Device returned a signature that does not verify")
			return solana.Signature{}, fmt.Errorf("%w: invalid signature from device", ErrSignerUnavailable)
		}
		return reply.signature, nil
	case <-done:
		return solana.Signature{}, ErrSignerUnavailable
	case <-timer.C:
		logger.Warn("Sign request timed out", zap.Duration("timeout", p.timeout))
		return solana.Signature{}, ErrSignerTimeout
	case <-ctx.Done():
		return solana.Signature{}, ctx.Err()
	}
}
