package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyIsStableAcrossCalls(t *testing.T) {
	assert.Equal(t, key("fw-1", "ex-1"), key("fw-1", "ex-1"))
	assert.NotEqual(t, key("fw-1", "ex-1"), key("fw-1", "ex-2"))
}

func TestDriverLookupContainerMissIsNotFound(t *testing.T) {
	d := New(nil, 0)
	_, ok := d.lookupContainer("fw-1", "ex-1")
	assert.False(t, ok)
}
