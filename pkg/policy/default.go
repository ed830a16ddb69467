package policy

import (
	"math/big"

	"github.com/rojo-labs/txguard/pkg/domain"
)

// DefaultPolicy returns the built-in policy: accept transfers on Base networks
// estimated at no more than $1000, reject anything above 1 ETH, deny the rest.
func DefaultPolicy() domain.Policy {
	return domain.Policy{
		Scope:       domain.ScopeProject,
		Description: "Default wallet policy",
		Rules: []domain.Rule{
			{
				Action:    domain.ActionAccept,
				Operation: domain.OperationSendEvmTransaction,
				Criteria: []domain.Criterion{
					domain.EvmNetworkCriterion{
						Networks: []domain.Network{domain.NetworkBase, domain.NetworkBaseSepolia},
						Operator: domain.OpIn,
					},
					domain.NetUSDChangeCriterion{
						ChangeCents: big.NewInt(100000),
						Operator:    domain.OpLessOrEqual,
					},
				},
			},
			{
				Action:    domain.ActionReject,
				Operation: domain.OperationSendEvmTransaction,
				Criteria: []domain.Criterion{
					domain.EthValueCriterion{
						EthValue: "1000000000000000000",
						Operator: domain.OpGreater,
					},
				},
			},
		},
	}
}
