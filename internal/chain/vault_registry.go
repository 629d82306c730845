package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// ErrNoVault is returned when the factory maps an owner to the zero address.
var ErrNoVault = domain.ErrNoVault

// VaultRegistry resolves an account's vault through the factory's
// vaults(owner) mapping. Results are never cached: a vault can be created at
// any time.
type VaultRegistry struct {
	caller  Caller
	factory common.Address
}

// NewVaultRegistry creates a VaultRegistry for the factory at factory.
func NewVaultRegistry(caller Caller, factory common.Address) *VaultRegistry {
	return &VaultRegistry{caller: caller, factory: factory}
}

// ResolveVault returns owner's vault or ErrNoVault.
func (r *VaultRegistry) ResolveVault(ctx context.Context, owner common.Address) (common.Address, error) {
	input, err := factoryABI.Pack("vaults", owner)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: pack vaults: %w", err)
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.factory, Data: input}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: call vaults(%s): %w", owner.Hex(), err)
	}

	v, err := unpackSingle(factoryABI, "vaults", out)
	if err != nil {
		return common.Address{}, err
	}
	vault, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: vaults returned %T", v)
	}
	if vault == (common.Address{}) {
		return common.Address{}, ErrNoVault
	}
	return vault, nil
}
