// Package ethereum anchors integrity facts through an EVM contract exposing
// issueCertificate and verifyCertificate.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"educhain/internal/ledger"
)

// ContractABI is the subset of the certificate registry contract the engine calls.
const ContractABI = `[
 {"type":"function","name":"issueCertificate","stateMutability":"nonpayable",
  "inputs":[{"name":"certId","type":"string"},{"name":"studentName","type":"string"},{"name":"course","type":"string"},{"name":"fileHash","type":"string"}],
  "outputs":[]},
 {"type":"function","name":"verifyCertificate","stateMutability":"view",
  "inputs":[{"name":"certId","type":"string"}],
  "outputs":[{"name":"studentName","type":"string"},{"name":"course","type":"string"},{"name":"fileHash","type":"string"},{"name":"issuedAt","type":"uint256"},{"name":"issuer","type":"address"}]}
]`

const (
	methodIssue  = "issueCertificate"
	methodVerify = "verifyCertificate"
)

// Config holds the RPC endpoint, contract and signing key.
type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string // hex, optional 0x prefix
	ChainID         int64  // 0 asks the node
	WaitMined       bool   // block until the transaction is mined
}

// Client submits and reads facts. Submissions are serialized so the signer's
// nonce is assigned in order.
type Client struct {
	eth       *ethclient.Client
	contract  *bind.BoundContract
	signer    *bind.TransactOpts
	waitMined bool
	mu        sync.Mutex
}

// Dial connects to the node and prepares the signer. The private key is read
// once here and never exposed afterwards.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	eth, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(dialCtx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}
	signer, err := newSigner(key, chainID)
	if err != nil {
		eth.Close()
		return nil, err
	}

	return &Client{
		eth:       eth,
		contract:  bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, eth, eth, eth),
		signer:    signer,
		waitMined: cfg.WaitMined,
	}, nil
}

func newSigner(key *ecdsa.PrivateKey, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	return opts, nil
}

// Signer returns the address facts are anchored from.
func (c *Client) Signer() string {
	return c.signer.From.Hex()
}

func (c *Client) Submit(ctx context.Context, sub ledger.Submission) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := *c.signer
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, methodIssue, sub.DocumentID, sub.SubjectName, sub.Subject, sub.ContentHash)
	if err != nil {
		return "", classify(err)
	}
	if c.waitMined {
		receipt, err := bind.WaitMined(ctx, c.eth, tx)
		if err != nil {
			return "", classify(err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return "", fmt.Errorf("%w: transaction %s reverted", ledger.ErrRejected, tx.Hash().Hex())
		}
	}
	return tx.Hash().Hex(), nil
}

func (c *Client) Lookup(ctx context.Context, documentID string) (ledger.Fact, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodVerify, documentID); err != nil {
		if isRevert(err) {
			return ledger.Fact{}, ledger.ErrNotAnchored
		}
		return ledger.Fact{}, fmt.Errorf("%w: %w", ledger.ErrLookupFailed, err)
	}
	return decodeFact(documentID, out)
}

func (c *Client) Close() {
	c.eth.Close()
}

// decodeFact maps verifyCertificate outputs onto a Fact. A zero record
// (empty hash) means the contract has never seen the id.
func decodeFact(documentID string, out []any) (ledger.Fact, error) {
	if len(out) != 5 {
		return ledger.Fact{}, fmt.Errorf("%w: unexpected output arity %d", ledger.ErrLookupFailed, len(out))
	}
	name, ok1 := out[0].(string)
	subject, ok2 := out[1].(string)
	hash, ok3 := out[2].(string)
	issuedAt, ok4 := out[3].(*big.Int)
	issuer, ok5 := out[4].(common.Address)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return ledger.Fact{}, fmt.Errorf("%w: unexpected output types", ledger.ErrLookupFailed)
	}
	if hash == "" {
		return ledger.Fact{}, ledger.ErrNotAnchored
	}
	return ledger.Fact{
		DocumentID:  documentID,
		SubjectName: name,
		Subject:     subject,
		ContentHash: hash,
		AnchoredAt:  time.Unix(issuedAt.Int64(), 0).UTC(),
		AnchoredBy:  issuer.Hex(),
	}, nil
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}

// signerFailures are txpool errors caused by the submitting account, not by
// the contract refusing the fact.
var signerFailures = []string{
	"insufficient funds",
	"nonce too low",
	"nonce too high",
	"replacement transaction underpriced",
	"intrinsic gas too low",
}

// classify maps node and transport errors onto ledger sentinels. Only a
// contract revert is a rejection.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ledger.ErrUnreachable, err)
	}
	if isRevert(err) {
		return fmt.Errorf("%w: %w", ledger.ErrRejected, err)
	}
	msg := err.Error()
	for _, s := range signerFailures {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %w", ledger.ErrSignerUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %w", ledger.ErrUnreachable, err)
}

var _ ledger.Client = (*Client)(nil)
