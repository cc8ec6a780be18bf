package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixedRand struct{ v float64 }

func (f fixedRand) Float64() float64 { return f.v }

func TestNextElectionTimeoutBounds(t *testing.T) {
	c := New(fixedRand{0})
	assert.Equal(t, DefaultElectionTimeoutMin, c.NextElectionTimeout())

	c = New(fixedRand{0.999999})
	got := c.NextElectionTimeout()
	assert.True(t, got >= DefaultElectionTimeoutMin && got < DefaultElectionTimeoutMax)
}

func TestNewRandProducesDeterministicStream(t *testing.T) {
	a := NewRand(42)
	b := NewRand(42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}

func TestNewRandDiffersAcrossSeeds(t *testing.T) {
	a := NewRand(1)
	b := NewRand(2)
	same := true
	for i := 0; i < 5; i++ {
		if a.Float64() != b.Float64() {
			same = false
		}
	}
	assert.False(t, same)
}

func TestClockNowAdvances(t *testing.T) {
	c := New(NewRand(1))
	t1 := c.Now()
	time.Sleep(time.Millisecond)
	t2 := c.Now()
	assert.True(t, t2.After(t1))
}
