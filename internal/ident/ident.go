// Package ident generates identifiers, timestamps, and display names for
// tracking entities: 32-hex run IDs, fixed-width decimal experiment IDs, a
// monotonic millisecond clock, and the run/dataset name generators.
package ident

import (
	"crypto/md5"
	"fmt"
	"math/big"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// experimentIDWidth is the fixed width of generated experiment IDs.
const experimentIDWidth = 18

// NewRunID returns a fresh 32-hex run identifier (128 bits of entropy).
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewExperimentID returns a random experiment ID: an 18-digit decimal string
// with a non-zero leading digit, so the width survives a round-trip through
// integer parsing.
func NewExperimentID() string {
	u := uuid.New()
	n := new(big.Int).SetBytes(u[:])
	s := n.String()
	if len(s) > experimentIDWidth {
		s = s[len(s)-experimentIDWidth:]
	}
	// Replace any leading zeros: a zero first digit would shorten the ID
	// once parsed as an integer.
	b := []byte(s)
	for i := 0; i < len(b) && b[i] == '0'; i++ {
		b[i] = byte('1' + rand.IntN(9))
	}
	return string(b)
}

// Clock supplies millisecond timestamps that never go backwards within a
// process, even if the wall clock is stepped.
type Clock struct {
	mu   sync.Mutex
	last int64
}

// NowMillis returns the current time in ms since the Unix epoch,
// monotonically non-decreasing.
func (c *Clock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= c.last {
		now = c.last
	}
	c.last = now
	return now
}

// NowMillis is the package-level monotonic clock.
func NowMillis() int64 {
	return defaultClock.NowMillis()
}

var defaultClock = &Clock{}

const (
	nameMaxLen       = 20
	nameIntegerScale = 3

	// datasetNameModulus is prime so that digest-to-name collisions are
	// spread evenly. Changing it breaks the stable digest-to-name mapping.
	datasetNameModulus  = 2499997
	datasetIntegerBound = 10000
)

// RandomRunName returns a display name of the form
// "<adjective>-<noun>-<n>", resampled up to ten times to stay within 20
// characters, then truncated.
func RandomRunName() string {
	var name string
	for range 10 {
		name = fmt.Sprintf("%s-%s-%d",
			namePredicates[rand.IntN(len(namePredicates))],
			nameNouns[rand.IntN(len(nameNouns))],
			rand.IntN(1000+1))
		if len(name) <= nameMaxLen {
			return name
		}
	}
	return name[:nameMaxLen]
}

// DatasetName maps a dataset digest to a stable display name of the form
// "<predicate>-data-<n>". The mapping is deterministic across processes and
// releases: the md5 of the digest is reduced modulo a prime and split into a
// predicate index and an integer component.
func DatasetName(digest string) string {
	sum := md5.Sum([]byte(digest))
	n := new(big.Int).SetBytes(sum[:])
	idx := new(big.Int).Mod(n, big.NewInt(datasetNameModulus)).Int64()
	predicate := datasetPredicates[idx/datasetIntegerBound]
	return fmt.Sprintf("%s-data-%d", predicate, idx%datasetIntegerBound)
}
