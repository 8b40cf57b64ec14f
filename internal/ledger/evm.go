package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
)

// arenaABI mirrors the betting contract surface the core consumes. Must
// match RawlArena.sol exactly.
const arenaABI = `[
	{"type":"function","name":"createMatch","inputs":[{"name":"matchId","type":"bytes32"},{"name":"fighterA","type":"bytes32"},{"name":"fighterB","type":"bytes32"},{"name":"minBet","type":"uint256"},{"name":"bettingWindow","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"lockMatch","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"resolveMatch","inputs":[{"name":"matchId","type":"bytes32"},{"name":"winner","type":"uint8"}],"outputs":[]},
	{"type":"function","name":"cancelMatch","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"timeoutMatch","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"getMatchPool","inputs":[{"name":"matchId","type":"bytes32"}],"outputs":[{"name":"status","type":"uint8"},{"name":"sideATotal","type":"uint256"},{"name":"sideBTotal","type":"uint256"},{"name":"exists","type":"bool"}],"stateMutability":"view"},
	{"type":"function","name":"getBet","inputs":[{"name":"matchId","type":"bytes32"},{"name":"bettor","type":"address"}],"outputs":[{"name":"side","type":"uint8"},{"name":"amount","type":"uint256"},{"name":"claimed","type":"bool"},{"name":"exists","type":"bool"}],"stateMutability":"view"},
	{"type":"event","name":"BetPlaced","inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"bettor","type":"address","indexed":true},{"name":"side","type":"uint8","indexed":false},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"MatchLocked","inputs":[{"name":"matchId","type":"bytes32","indexed":true}]},
	{"type":"event","name":"MatchResolved","inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"winner","type":"uint8","indexed":false},{"name":"sideATotal","type":"uint256","indexed":false},{"name":"sideBTotal","type":"uint256","indexed":false}]},
	{"type":"event","name":"MatchCancelled","inputs":[{"name":"matchId","type":"bytes32","indexed":true}]},
	{"type":"event","name":"PayoutClaimed","inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"bettor","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"BetRefunded","inputs":[{"name":"matchId","type":"bytes32","indexed":true},{"name":"bettor","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"NoWinnersRefunded","inputs":[{"name":"matchId","type":"bytes32","indexed":true}]}
]`

// retrySchedule is the transient backoff inside one ledger call.
var retrySchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// callTimeout bounds a whole call including every retry.
const callTimeout = 60 * time.Second

// EVM is the production Ledger over an Ethereum-compatible RPC endpoint.
type EVM struct {
	client     *ethclient.Client
	contract   common.Address
	abi        abi.ABI
	key        *ecdsa.PrivateKey
	from       common.Address
	chainID    *big.Int
	maxRetries int
}

// NewEVM dials the RPC endpoint and prepares the operator signer. keyHex may
// be empty for read-only deployments (listener-only processes).
func NewEVM(rpcURL, contractHex, keyHex string, chainID int64, maxRetries int) (*EVM, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", rpcURL, err)
	}
	parsed, err := abi.JSON(strings.NewReader(arenaABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse ABI: %w", err)
	}
	e := &EVM{
		client:     client,
		contract:   common.HexToAddress(contractHex),
		abi:        parsed,
		chainID:    big.NewInt(chainID),
		maxRetries: maxRetries,
	}
	if keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("ledger: parse operator key: %w", err)
		}
		e.key = key
		e.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return e, nil
}

// Client exposes the raw RPC client for the event listener.
func (e *EVM) Client() *ethclient.Client { return e.client }

// Contract returns the arena contract address.
func (e *EVM) Contract() common.Address { return e.contract }

// ABI returns the parsed contract ABI (shared with the listener).
func (e *EVM) ABI() abi.ABI { return e.abi }

func (e *EVM) CreateMatch(ctx context.Context, matchID, fighterA, fighterB uuid.UUID, minBet *big.Int, bettingWindowSecs uint64) error {
	return e.transactWithRetry(ctx, "createMatch", ToBytes32(matchID), ToBytes32(fighterA), ToBytes32(fighterB), minBet, bettingWindowSecs)
}

func (e *EVM) LockMatch(ctx context.Context, matchID uuid.UUID) error {
	return e.transactWithRetry(ctx, "lockMatch", ToBytes32(matchID))
}

func (e *EVM) ResolveMatch(ctx context.Context, matchID uuid.UUID, winner uint8) error {
	return e.transactWithRetry(ctx, "resolveMatch", ToBytes32(matchID), winner)
}

func (e *EVM) CancelMatch(ctx context.Context, matchID uuid.UUID) error {
	return e.transactWithRetry(ctx, "cancelMatch", ToBytes32(matchID))
}

func (e *EVM) TimeoutMatch(ctx context.Context, matchID uuid.UUID) error {
	return e.transactWithRetry(ctx, "timeoutMatch", ToBytes32(matchID))
}

func (e *EVM) GetMatchPool(ctx context.Context, matchID uuid.UUID) (*Pool, error) {
	var out struct {
		Status     uint8
		SideATotal *big.Int
		SideBTotal *big.Int
		Exists     bool
	}
	if err := e.viewWithRetry(ctx, "getMatchPool", &out, ToBytes32(matchID)); err != nil {
		return nil, err
	}
	if !out.Exists {
		return nil, nil
	}
	return &Pool{Status: out.Status, SideATotal: out.SideATotal, SideBTotal: out.SideBTotal}, nil
}

func (e *EVM) GetBet(ctx context.Context, matchID uuid.UUID, wallet string) (*ChainBet, error) {
	var out struct {
		Side    uint8
		Amount  *big.Int
		Claimed bool
		Exists  bool
	}
	if err := e.viewWithRetry(ctx, "getBet", &out, ToBytes32(matchID), common.HexToAddress(wallet)); err != nil {
		return nil, err
	}
	if !out.Exists {
		return nil, nil
	}
	return &ChainBet{Side: out.Side, Amount: out.Amount, Claimed: out.Claimed}, nil
}

func (e *EVM) BetExists(ctx context.Context, matchID uuid.UUID, wallet string) (bool, error) {
	bet, err := e.GetBet(ctx, matchID, wallet)
	if err != nil {
		return false, err
	}
	return bet != nil, nil
}

// transactWithRetry packs, signs and sends one contract call, retrying
// transient failures on the [1,2,4]s schedule within the 60s envelope.
func (e *EVM) transactWithRetry(ctx context.Context, method string, args ...interface{}) error {
	if e.key == nil {
		return fmt.Errorf("ledger: %s: no operator key configured", method)
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	input, err := e.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("ledger: pack %s: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			wait := retrySchedule[min(attempt-1, len(retrySchedule)-1)]
			log.Printf("[LEDGER] %s attempt %d failed, retrying in %v: %v", method, attempt, wait, lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("ledger: %s: %w (last: %v)", method, ctx.Err(), lastErr)
			case <-time.After(wait):
			}
		}
		lastErr = e.sendOnce(ctx, input)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("ledger: %s exhausted retries: %w", method, lastErr)
}

func (e *EVM) sendOnce(ctx context.Context, input []byte) error {
	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}
	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From: e.from,
		To:   &e.contract,
		Data: input,
	})
	if err != nil {
		return fmt.Errorf("estimate gas: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.contract,
		Gas:      gasLimit + gasLimit/5,
		GasPrice: gasPrice,
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// viewWithRetry runs a read-only call with the same backoff schedule.
func (e *EVM) viewWithRetry(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	input, err := e.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("ledger: pack %s: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("ledger: %s: %w (last: %v)", method, ctx.Err(), lastErr)
			case <-time.After(retrySchedule[min(attempt-1, len(retrySchedule)-1)]):
			}
		}
		var raw []byte
		raw, lastErr = e.client.CallContract(ctx, ethereum.CallMsg{To: &e.contract, Data: input}, nil)
		if lastErr != nil {
			continue
		}
		if lastErr = e.abi.UnpackIntoInterface(out, method, raw); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("ledger: %s exhausted retries: %w", method, lastErr)
}
