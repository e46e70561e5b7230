package orders

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const OrderNumberPrefix = "SVX"

// NewOrderNumber returns PREFIX-YYMMDD-XXXX. The suffix is four hex digits of
// a hashed random seed; duplicates are caught by the unique index.
func NewOrderNumber(now time.Time) string {
	seed := make([]byte, 16)
	_, _ = rand.Read(seed)
	sum := sha256.Sum256(append([]byte(now.UTC().Format(time.RFC3339Nano)), seed...))
	suffix := strings.ToUpper(hex.EncodeToString(sum[:])[:4])
	return fmt.Sprintf("%s-%s-%s", OrderNumberPrefix, now.Format("060102"), suffix)
}
