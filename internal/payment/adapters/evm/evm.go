// Package evm sends settlements through an EVM JSON-RPC node that holds the payer's keys.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	paymentdomain "github.com/smallbiznis/chainstream/internal/payment/domain"
	"github.com/smallbiznis/chainstream/pkg/units"
)

const (
	Mode                = "rpc"
	defaultPollInterval = 2 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Mode() string {
	return Mode
}

func (f *Factory) NewSender(cfg paymentdomain.SenderConfig) (paymentdomain.Sender, error) {
	url := strings.TrimSpace(cfg.RPCURL)
	if url == "" {
		return nil, paymentdomain.ErrInvalidSenderConfig
	}
	client, err := rpc.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewSender(client, cfg.PollInterval), nil
}

// Sender submits eth_sendTransaction and polls for the receipt.
type Sender struct {
	rpc          *rpc.Client
	eth          *ethclient.Client
	pollInterval time.Duration
}

func NewSender(client *rpc.Client, pollInterval time.Duration) *Sender {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Sender{
		rpc:          client,
		eth:          ethclient.NewClient(client),
		pollInterval: pollInterval,
	}
}

type sendArgs struct {
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Value   *hexutil.Big   `json:"value"`
	ChainID *hexutil.Big   `json:"chainId,omitempty"`
}

func (s *Sender) Send(ctx context.Context, req paymentdomain.SendRequest) (paymentdomain.SendReference, error) {
	if !common.IsHexAddress(req.From) || !common.IsHexAddress(req.To) {
		return paymentdomain.SendReference{}, fmt.Errorf("%w: invalid address", paymentdomain.ErrSendFailed)
	}
	value, err := units.ToBaseUnits(req.Amount, req.Decimals)
	if err != nil {
		return paymentdomain.SendReference{}, fmt.Errorf("%w: %v", paymentdomain.ErrSendFailed, err)
	}

	args := sendArgs{
		From:  common.HexToAddress(req.From),
		To:    common.HexToAddress(req.To),
		Value: (*hexutil.Big)(value),
	}
	if req.ChainID > 0 {
		args.ChainID = (*hexutil.Big)(big.NewInt(req.ChainID))
	}

	var hash common.Hash
	if err := s.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return paymentdomain.SendReference{}, fmt.Errorf("%w: %v", paymentdomain.ErrSendFailed, err)
	}
	return paymentdomain.SendReference{Hash: hash.Hex()}, nil
}

func (s *Sender) WaitConfirmed(ctx context.Context, ref paymentdomain.SendReference) error {
	hash := common.HexToHash(ref.Hash)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.eth.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return paymentdomain.ErrTransactionReverted
			}
			return nil
		case !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("failed to get transaction receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sender) Close() {
	s.rpc.Close()
}
