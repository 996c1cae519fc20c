// Package simulated stands in for a chain when no node is configured.
package simulated

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	paymentdomain "github.com/smallbiznis/chainstream/internal/payment/domain"
)

const Mode = "simulated"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Mode() string {
	return Mode
}

func (f *Factory) NewSender(cfg paymentdomain.SenderConfig) (paymentdomain.Sender, error) {
	return NewSender(cfg.Delay), nil
}

// Sender waits Delay for each step and always succeeds unless ctx ends first.
type Sender struct {
	delay time.Duration
	seq   atomic.Uint64
}

func NewSender(delay time.Duration) *Sender {
	if delay < 0 {
		delay = 0
	}
	return &Sender{delay: delay}
}

func (s *Sender) Send(ctx context.Context, req paymentdomain.SendRequest) (paymentdomain.SendReference, error) {
	if err := s.wait(ctx); err != nil {
		return paymentdomain.SendReference{}, err
	}
	n := s.seq.Add(1)
	seed := fmt.Sprintf("%d|%s|%s|%.6f|%d|%d", req.ChainID, req.From, req.To, req.Amount, n, time.Now().UnixNano())
	return paymentdomain.SendReference{Hash: crypto.Keccak256Hash([]byte(seed)).Hex()}, nil
}

func (s *Sender) WaitConfirmed(ctx context.Context, _ paymentdomain.SendReference) error {
	return s.wait(ctx)
}

func (s *Sender) wait(ctx context.Context) error {
	if s.delay == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
