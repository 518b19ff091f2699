package ntpdiag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplerEnabled(t *testing.T) {
	assert.False(t, NewSampler("", time.Second).Enabled())
	assert.True(t, NewSampler("ntp.example.org", time.Second).Enabled())
}

func TestSamplerQueryDisabled(t *testing.T) {
	s := NewSampler("", time.Second)
	_, err := s.Query(context.Background())
	require.Error(t, err)
}

func TestNewSamplerDefaultTimeout(t *testing.T) {
	s := NewSampler("ntp.example.org", 0)
	assert.Equal(t, 5*time.Second, s.timeout)
}
