//go:build !release

package spatial

import (
	"fmt"
	"log"
)

func steppingViolation(_ *log.Logger, op string) bool {
	panic(fmt.Sprintf("spatial: index %s during stepping phase", op))
}
