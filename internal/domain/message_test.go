package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "hello world", NormalizeContent("  hello   world "))
	assert.Equal(t, "a b c", NormalizeContent("a\tb\nc"))
	assert.Equal(t, "", NormalizeContent("   \t\n"))
}

func TestHasRead(t *testing.T) {
	m := &Message{ReadBy: []string{"alice", "bob"}}
	assert.True(t, m.HasRead("alice"))
	assert.False(t, m.HasRead("carol"))
}

func TestQualityTiers(t *testing.T) {
	excellent := NewConnectionSession("s1", "u1", "u1")
	for i := 0; i < 5; i++ {
		excellent.Heartbeat(40 * time.Millisecond)
	}
	assert.Equal(t, QualityExcellent, excellent.Quality())

	good := NewConnectionSession("s2", "u2", "u2")
	for i := 0; i < 5; i++ {
		good.Heartbeat(150 * time.Millisecond)
	}
	assert.Equal(t, QualityGood, good.Quality())

	poor := NewConnectionSession("s3", "u3", "u3")
	for i := 0; i < 5; i++ {
		poor.Heartbeat(400 * time.Millisecond)
	}
	assert.Equal(t, QualityPoor, poor.Quality())
}

func TestQualityJitterDemotes(t *testing.T) {
	s := NewConnectionSession("s1", "u1", "u1")
	// Average is well under 100ms but the spread exceeds the jitter bound.
	for i := 0; i < 5; i++ {
		if i%2 == 0 {
			s.Heartbeat(10 * time.Millisecond)
		} else {
			s.Heartbeat(90 * time.Millisecond)
		}
	}
	assert.Equal(t, QualityPoor, s.Quality())
}

func TestQualityNoSamplesAssumesGood(t *testing.T) {
	s := NewConnectionSession("s1", "u1", "u1")
	assert.Equal(t, QualityGood, s.Quality())
	assert.True(t, s.Quality().Acceptable())

	s.MarkDisconnected()
	assert.Equal(t, QualityDisconnected, s.Quality())
	assert.False(t, s.Quality().Acceptable())
}
