// Package chainrpc is the chain RPC façade (C1): a per-chain, rate-limited
// wrapper around go-ethereum's JSON-RPC client with a block-number cache and
// a block-to-timestamp estimator used by on-chain adapters.
package chainrpc

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// EVMClient is the subset of go-ethereum's RPC surface the façade depends
// on, narrowed the way services/oracle-attesterd's EVMClient interface
// narrows ethclient.Client for testability.
type EVMClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// latestBlockTTL bounds how long a cached latest-block number is trusted
// before a fresh RPC call is made.
const latestBlockTTL = 4 * time.Second

type cachedBlock struct {
	number    uint64
	fetchedAt time.Time
}

// Chain is a single named chain's façade: a dialed client, a rate limiter,
// and the average block time used to extrapolate future timestamps.
type Chain struct {
	Name         string
	AvgBlockTime time.Duration

	client  EVMClient
	limiter *rate.Limiter

	mu    sync.Mutex
	cache cachedBlock
}

// DialChain opens an ethclient connection for the named chain. Mirrors
// services/oracle-attesterd/evm_confirm.go's DialEVMClient.
func DialChain(name, endpoint string, avgBlockTime time.Duration, ratePerSecond float64, burst int) (*Chain, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chainrpc: endpoint required for chain %q", name)
	}
	client, err := ethclient.Dial(trimmed)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: dial %s: %w", name, err)
	}
	return NewChain(name, client, avgBlockTime, ratePerSecond, burst), nil
}

// NewChain wraps an already-dialed client, primarily for tests that supply a
// fake EVMClient.
func NewChain(name string, client EVMClient, avgBlockTime time.Duration, ratePerSecond float64, burst int) *Chain {
	if burst < 1 {
		burst = 1
	}
	return &Chain{
		Name:         name,
		AvgBlockTime: avgBlockTime,
		client:       client,
		limiter:      rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// LatestBlock returns the chain's current head block number, cached for a
// short TTL to avoid hammering the provider when many governors on the same
// chain are windowing concurrently.
func (c *Chain) LatestBlock(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	if !c.cache.fetchedAt.IsZero() && time.Since(c.cache.fetchedAt) < latestBlockTTL {
		n := c.cache.number
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	var number uint64
	err := withRetry(ctx, c.Name, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		n, err := c.client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("chainrpc: latest block on %s: %w", c.Name, err)
	}

	c.mu.Lock()
	c.cache = cachedBlock{number: number, fetchedAt: time.Now()}
	c.mu.Unlock()
	return number, nil
}

// BlockByNumber returns the header of the requested block, at minimum its
// timestamp.
func (c *Chain) BlockByNumber(ctx context.Context, n uint64) (*types.Header, error) {
	var header *types.Header
	err := withRetry(ctx, c.Name, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		h, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return err
		}
		header = h
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chainrpc: block %d on %s: %w", n, c.Name, err)
	}
	return header, nil
}

// EstimateTimestamp returns a committed block's exact timestamp, or
// linearly extrapolates from the latest known block using the chain's
// average block time when the requested block has not been mined yet.
func (c *Chain) EstimateTimestamp(ctx context.Context, block uint64) (time.Time, error) {
	latest, err := c.LatestBlock(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if block <= latest {
		header, err := c.BlockByNumber(ctx, block)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(int64(header.Time), 0).UTC(), nil
	}

	latestHeader, err := c.BlockByNumber(ctx, latest)
	if err != nil {
		return time.Time{}, err
	}
	delta := int64(block-latest) * c.AvgBlockTime.Milliseconds()
	estimated := time.Unix(int64(latestHeader.Time), 0).UTC().Add(time.Duration(delta) * time.Millisecond)
	return estimated, nil
}

// FilterLogs fetches logs for the query, rate-limited and retried.
func (c *Chain) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, c.Name, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		found, err := c.client.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		logs = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chainrpc: filter logs on %s: %w", c.Name, err)
	}
	return logs, nil
}

// CallContract performs an eth_call against the given block, rate-limited
// and retried.
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var result []byte
	err := withRetry(ctx, c.Name, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		out, err := c.client.CallContract(ctx, msg, blockNumber)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chainrpc: call contract on %s: %w", c.Name, err)
	}
	return result, nil
}

// Registry holds one Chain per configured name.
type Registry struct {
	chains map[string]*Chain
}

// NewRegistry builds a Registry from the supplied chains.
func NewRegistry(chains ...*Chain) *Registry {
	r := &Registry{chains: make(map[string]*Chain, len(chains))}
	for _, c := range chains {
		r.chains[c.Name] = c
	}
	return r
}

// Chain returns the named chain's façade, or an error if it was not
// configured.
func (r *Registry) Chain(name string) (*Chain, error) {
	c, ok := r.chains[name]
	if !ok {
		return nil, fmt.Errorf("chainrpc: chain %q is not configured", name)
	}
	return c, nil
}
