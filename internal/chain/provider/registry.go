package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"OpenIntent-Chain/internal/chain"
	"OpenIntent-Chain/internal/chain/ethereum"
)

// Registry manages a set of chain clients keyed by chain ID.
type Registry struct {
	defaultChain uint64
	defs         map[uint64]chain.Definition

	mu      sync.Mutex
	clients map[uint64]chain.Client
}

// NewRegistry indexes chain definitions. Clients are constructed lazily on
// first use so the registry can be built without live RPC endpoints.
func NewRegistry(defs chain.Definitions) (*Registry, error) {
	if len(defs.Chains) == 0 {
		return nil, errors.New("未配置任何链")
	}

	index := make(map[uint64]chain.Definition, len(defs.Chains))
	for _, def := range defs.Chains {
		if _, ok := index[def.ChainID]; ok {
			return nil, fmt.Errorf("链 %d 配置重复", def.ChainID)
		}
		index[def.ChainID] = def
	}

	defaultChain := defs.Default
	if defaultChain == 0 {
		ids := make([]uint64, 0, len(index))
		for id := range index {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		defaultChain = ids[0]
	}
	if _, ok := index[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %d 未在配置中找到", defaultChain)
	}

	return &Registry{
		defaultChain: defaultChain,
		defs:         index,
		clients:      make(map[uint64]chain.Client),
	}, nil
}

// Supports reports whether the chain ID is configured.
func (r *Registry) Supports(chainID uint64) bool {
	if r == nil {
		return false
	}
	_, ok := r.defs[chainID]
	return ok
}

// Definition returns the static metadata for a chain.
func (r *Registry) Definition(chainID uint64) (chain.Definition, bool) {
	if r == nil {
		return chain.Definition{}, false
	}
	def, ok := r.defs[chainID]
	return def, ok
}

// Client returns the client for the given chain, constructing it on demand.
func (r *Registry) Client(chainID uint64) (chain.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	def, ok := r.defs[chainID]
	if !ok {
		return nil, chain.ErrChainNotSupported
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[chainID]; ok {
		return client, nil
	}
	client, err := ethereum.NewClient(ethereum.Config{
		Name:    def.Name,
		ChainID: def.ChainID,
		RPCURL:  def.RPCURL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化链 %d 客户端失败: %w", chainID, err)
	}
	r.clients[chainID] = client
	return client, nil
}

// DefaultClient returns the client for the configured default chain.
func (r *Registry) DefaultClient() (chain.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	return r.Client(r.defaultChain)
}

// DefaultChainID returns the configured default chain.
func (r *Registry) DefaultChainID() uint64 {
	if r == nil {
		return 0
	}
	return r.defaultChain
}

// Chains returns the registered chain definitions sorted by chain ID.
func (r *Registry) Chains() []chain.Definition {
	if r == nil {
		return nil
	}
	defs := make([]chain.Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ChainID < defs[j].ChainID })
	return defs
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, id)
	}
}
