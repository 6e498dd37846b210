package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAPIKeys(t *testing.T) {
	assert.Nil(t, parseAPIKeys(""))
	assert.Equal(t, []string{"k1"}, parseAPIKeys("k1"))
	assert.Equal(t, []string{"k1", "k2"}, parseAPIKeys("k1, k2"))
	assert.Equal(t, []string{"k1", "k2"}, parseAPIKeys(" k1 ,, k2 ,"))
}
