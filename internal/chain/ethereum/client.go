package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"OpenIntent-Chain/internal/chain"
	xerrors "OpenIntent-Chain/internal/errors"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	ChainID uint64
	RPCURL  string
}

// Client serves chain snapshots for EVM compatible networks. The RPC
// connection is established on first use.
type Client struct {
	name    string
	chainID uint64
	rpcURL  string

	mu        sync.Mutex
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
}

// NewClient validates the configuration and returns a client that dials
// lazily.
func NewClient(cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	return &Client{
		name:    cfg.Name,
		chainID: cfg.ChainID,
		rpcURL:  rpcURL,
	}, nil
}

func (c *Client) dial(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		return c.eth, nil
	}
	rpcClient, err := gethrpc.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainRPCFailure, err, "连接以太坊节点失败")
	}
	c.rpcClient = rpcClient
	c.eth = ethclient.NewClient(rpcClient)
	return c.eth, nil
}

// FetchSnapshot gathers lightweight metadata from the chain and verifies the
// remote chain ID matches the configured one.
func (c *Client) FetchSnapshot(ctx context.Context) (chain.Snapshot, error) {
	if c == nil {
		return chain.Snapshot{}, errors.New("未初始化的以太坊客户端")
	}
	eth, err := c.dial(ctx)
	if err != nil {
		return chain.Snapshot{}, err
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return chain.Snapshot{}, xerrors.Wrap(xerrors.CodeChainRPCFailure, err, "获取链 ID 失败")
	}
	if c.chainID != 0 && chainID.Uint64() != c.chainID {
		return chain.Snapshot{}, xerrors.New(xerrors.CodeChainRPCFailure,
			fmt.Sprintf("链 ID 不匹配: 配置 %d, 节点返回 %s", c.chainID, chainID))
	}

	blockNumber, err := eth.BlockNumber(ctx)
	if err != nil {
		return chain.Snapshot{}, xerrors.Wrap(xerrors.CodeChainRPCFailure, err, "获取最新区块高度失败")
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return chain.Snapshot{}, xerrors.Wrap(xerrors.CodeChainRPCFailure, err, "获取建议 Gas 价格失败")
	}

	return chain.Snapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		GasPrice:    toHexBig(gasPrice),
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

// ensure interface compliance at compile time
var _ chain.Client = (*Client)(nil)
