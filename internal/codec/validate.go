package codec

import (
	"fmt"
	"math"

	"github.com/alpespartners/saga-orchestrator/pkg/errors"
)

// distributionTolerance is the allowed deviation when audience distributions
// are checked against 100%.
const distributionTolerance = 1.0

// ValidCommissionType reports whether t is an accepted commission type.
func ValidCommissionType(t string) bool {
	switch t {
	case CommissionCPA, CommissionCPL, CommissionCPC:
		return true
	}
	return false
}

// ValidContractType reports whether t is an accepted contract type.
func ValidContractType(t string) bool {
	switch t {
	case ContractOneOff, ContractTemporary, ContractExclusive, ContractCollaboration:
		return true
	}
	return false
}

// ValidateEngagementRate checks a percentage is inside [0,100].
func ValidateEngagementRate(rate float64) error {
	if rate < 0 || rate > 100 {
		return fmt.Errorf("%w: engagement rate %.2f outside [0,100]", errors.ErrInvalidInput, rate)
	}
	return nil
}

// ValidateDistribution checks an audience distribution sums to 100% within
// the tolerance. Empty distributions are allowed.
func ValidateDistribution(dist map[string]float64) error {
	if len(dist) == 0 {
		return nil
	}
	var sum float64
	for segment, pct := range dist {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%w: distribution segment %q is %.2f, outside [0,100]", errors.ErrInvalidInput, segment, pct)
		}
		sum += pct
	}
	if math.Abs(sum-100) > distributionTolerance {
		return fmt.Errorf("%w: distribution sums to %.2f, expected 100", errors.ErrInvalidInput, sum)
	}
	return nil
}
