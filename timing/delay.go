package timing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// SignalDelay draws a uniformly distributed random delay in [min, max] from
// crypto/rand. The delay gates the green light, so it must not be predictable
// from previous matches.
func SignalDelay(min, max time.Duration) (time.Duration, error) {
	if min <= 0 || max < min {
		return 0, fmt.Errorf("timing: invalid delay range [%v, %v]", min, max)
	}
	span := big.NewInt(int64(max-min) + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, fmt.Errorf("timing: draw signal delay: %w", err)
	}
	return min + time.Duration(n.Int64()), nil
}
