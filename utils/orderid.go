package utils

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxClientOrderIDLen is the Binance limit for newClientOrderId.
const MaxClientOrderIDLen = 36

// OrderIDGenerator produces compact, unique client order ids
type OrderIDGenerator struct {
	mu       sync.Mutex
	lastSec  int64
	sequence int
	now      func() time.Time
}

var globalIDGen = NewOrderIDGenerator(time.Now)

// NewOrderIDGenerator creates a generator using clock for timestamps.
func NewOrderIDGenerator(clock func() time.Time) *OrderIDGenerator {
	return &OrderIDGenerator{now: clock}
}

// GenerateOrderID returns an id from the process-wide generator.
//
// Format: {prefix}_{B|S}_{unix seconds}{seq:03}_{8 hex}
//
//	st_B_1702468800001_3f2a9c1d
func GenerateOrderID(prefix, side string) string {
	return globalIDGen.Next(prefix, side)
}

// Next returns a new id. The random suffix keeps ids unique across restarts
// within the same second.
func (g *OrderIDGenerator) Next(prefix, side string) string {
	g.mu.Lock()
	sec := g.now().Unix()
	if sec != g.lastSec {
		g.lastSec = sec
		g.sequence = 0
	}
	g.sequence++
	seq := g.sequence % 1000
	g.mu.Unlock()

	sideCode := "B"
	if side == "SELL" {
		sideCode = "S"
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	id := fmt.Sprintf("%s_%s_%d%03d_%s", prefix, sideCode, sec, seq, suffix)
	if len(id) > MaxClientOrderIDLen {
		id = id[len(id)-MaxClientOrderIDLen:]
	}
	return id
}

// ParseOrderID extracts the side and unix timestamp from an id made by Next.
func ParseOrderID(clientOrderID string) (side string, timestamp int64, ok bool) {
	parts := strings.Split(clientOrderID, "_")
	if len(parts) != 4 {
		return "", 0, false
	}

	switch parts[1] {
	case "B":
		side = "BUY"
	case "S":
		side = "SELL"
	default:
		return "", 0, false
	}

	if len(parts[2]) < 10 {
		return "", 0, false
	}
	ts, err := strconv.ParseInt(parts[2][:len(parts[2])-3], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return side, ts, true
}
