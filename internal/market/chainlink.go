package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorV3ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ContractCaller is the subset of ethclient.Client used for feed reads.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkOptions parameterise the on-chain price feeds.
type ChainlinkOptions struct {
	RPCURL string
	// Feeds maps an upper-case symbol to its USD aggregator address.
	Feeds   map[string]string
	Timeout time.Duration
	// MaxAge rejects answers whose updatedAt is older than this. Zero disables the check.
	MaxAge time.Duration
}

// Chainlink reads spot prices from Chainlink AggregatorV3 contracts.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	caller    ContractCaller
	clientMux sync.Mutex
	decimals  sync.Map
	now       func() time.Time
}

// NewChainlink builds a feed reader. The RPC connection is dialled lazily.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	feeds := make(map[string]string, len(opts.Feeds))
	for sym, addr := range opts.Feeds {
		feeds[strings.ToUpper(strings.TrimSpace(sym))] = strings.TrimSpace(addr)
	}
	opts.Feeds = feeds
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink").Logger(), now: time.Now}
}

// Has reports whether a feed is configured for symbol.
func (c *Chainlink) Has(symbol string) bool {
	_, ok := c.opts.Feeds[strings.ToUpper(symbol)]
	return ok
}

// CurrentPrice returns the latest aggregator answer scaled by the feed decimals.
func (c *Chainlink) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	feed, ok := c.opts.Feeds[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: no chainlink feed for %s", ErrUnavailable, symbol)
	}
	if c.opts.RPCURL == "" && c.caller == nil {
		return decimal.Decimal{}, errors.New("ethereum rpc url not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := c.getCaller(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: dial rpc: %w", ErrUnavailable, err)
	}

	addr := common.HexToAddress(feed)
	dec, err := c.feedDecimals(ctx, caller, addr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s decimals: %w", ErrUnavailable, symbol, err)
	}

	outputs, err := c.call(ctx, caller, addr, "latestRoundData")
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s latestRoundData: %w", ErrUnavailable, symbol, err)
	}
	if len(outputs) != 5 {
		return decimal.Decimal{}, fmt.Errorf("%w: unexpected latestRoundData response", ErrUnavailable)
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid %s answer", ErrUnavailable, symbol)
	}
	if updatedAt, ok := outputs[3].(*big.Int); ok && c.opts.MaxAge > 0 {
		age := c.now().Sub(time.Unix(updatedAt.Int64(), 0))
		if age > c.opts.MaxAge {
			return decimal.Decimal{}, fmt.Errorf("%w: %s feed stale by %s", ErrUnavailable, symbol, age.Round(time.Second))
		}
	}

	price := decimal.NewFromBigInt(answer, -int32(dec))
	c.logger.Debug().Str("symbol", symbol).Str("price", price.String()).Msg("chainlink price")
	return price, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, caller ContractCaller, addr common.Address) (uint8, error) {
	if v, ok := c.decimals.Load(addr); ok {
		return v.(uint8), nil
	}
	outputs, err := c.call(ctx, caller, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	dec, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	c.decimals.Store(addr, dec)
	return dec, nil
}

func (c *Chainlink) call(ctx context.Context, caller ContractCaller, addr common.Address, method string) ([]any, error) {
	payload, err := aggregatorV3ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, err
	}
	return aggregatorV3ABI.Unpack(method, res)
}

func (c *Chainlink) getCaller(ctx context.Context) (ContractCaller, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.caller != nil {
		return c.caller, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.caller = client
	return client, nil
}

var _ PriceSource = (*Chainlink)(nil)
