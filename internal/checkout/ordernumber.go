package checkout

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrderNumber returns ORD-<unix millis>-<8 random hex chars>. The time part
// keeps numbers roughly sortable, the random part keeps concurrent checkouts apart.
func NewOrderNumber() string {
	entropy := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ORD-%d-%s", time.Now().UnixMilli(), strings.ToUpper(entropy))
}
