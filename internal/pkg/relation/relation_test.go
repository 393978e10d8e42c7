package relation

import (
	"math/rand"
	"slices"
	"strconv"
	"testing"

	"github.com/ohowland/cgc_cim/internal/pkg/cimerr"
	"github.com/ohowland/cgc_cim/internal/pkg/identity"
	"gotest.tools/v3/assert"
)

type pricing struct {
	identity.Base
	code string
}

func newPricing(mrid, code string) *pricing {
	return &pricing{Base: identity.NewBase(mrid, ""), code: code}
}

func snapshot(c *Collection[*pricing]) map[string]string {
	out := make(map[string]string)
	for p := range c.All() {
		out[p.MRID()] = p.code
	}
	return out
}

func TestAddGet(t *testing.T) {
	c := ByMRID[*pricing]("CustomerAgreement{ca1}")
	assert.Assert(t, !c.Allocated())

	assert.NilError(t, c.Add(newPricing("ps1", "A")))
	assert.NilError(t, c.Add(newPricing("ps2", "B")))
	assert.Equal(t, c.Len(), 2)
	assert.Assert(t, c.Contains("ps1"))

	got, err := c.Get("ps2")
	assert.NilError(t, err)
	assert.Equal(t, got.code, "B")

	_, err = c.Get("ps3")
	assert.Assert(t, cimerr.IsNotFound(err))
}

func TestAddDuplicateLeavesStateUnchanged(t *testing.T) {
	c := ByMRID[*pricing]("CustomerAgreement{ca1}")
	assert.NilError(t, c.Add(newPricing("ps1", "A")))
	before := snapshot(&c)

	err := c.Add(newPricing("ps1", "replacement"))
	assert.ErrorType(t, err, cimerr.DuplicateKeyError{})
	assert.DeepEqual(t, snapshot(&c), before)
	assert.Equal(t, c.Len(), 1)
}

func TestRemoveReleasesStorage(t *testing.T) {
	c := ByMRID[*pricing]("CustomerAgreement{ca1}")
	p := newPricing("ps1", "A")
	assert.NilError(t, c.Add(p))
	assert.Assert(t, c.Allocated())

	assert.NilError(t, c.Remove(p))
	assert.Assert(t, !c.Allocated())
	assert.Equal(t, c.Len(), 0)

	assert.Assert(t, cimerr.IsNotFound(c.Remove(p)))
}

func TestClear(t *testing.T) {
	c := ByMRID[*pricing]("x")
	assert.NilError(t, c.Add(newPricing("ps1", "A")))
	c.Clear()
	assert.Assert(t, !c.Allocated())
	assert.Equal(t, c.Len(), 0)
}

func TestCustomKey(t *testing.T) {
	c := New("codes", func(p *pricing) string { return p.code })
	assert.NilError(t, c.Add(newPricing("ps1", "A")))
	assert.ErrorType(t, c.Add(newPricing("ps2", "A")), cimerr.DuplicateKeyError{})
	keys := slices.Collect(c.Keys())
	assert.DeepEqual(t, keys, []string{"A"})
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := ByMRID[*pricing]("fuzz")
	adds, removes := 0, 0

	for i := 0; i < 2000; i++ {
		p := newPricing(strconv.Itoa(rng.Intn(40)), "")
		if rng.Intn(2) == 0 {
			if c.Add(p) == nil {
				adds++
			}
		} else if c.Remove(p) == nil {
			removes++
		}

		seen := make(map[string]bool)
		for m := range c.All() {
			assert.Assert(t, !seen[m.MRID()], "duplicate key %s", m.MRID())
			seen[m.MRID()] = true
		}
		assert.Equal(t, c.Len(), adds-removes)
		assert.Equal(t, len(seen), c.Len())
	}
}
