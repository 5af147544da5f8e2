package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionedRNG_SameSeedSameStreams(t *testing.T) {
	a := NewPartitionedRNG(99)
	b := NewPartitionedRNG(99)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.ForSubsystem(SubsystemAgents).Float64(), b.ForSubsystem(SubsystemAgents).Float64())
	}
}

func TestPartitionedRNG_SubsystemsAreIndependent(t *testing.T) {
	// Draining one stream must not perturb another: the incidents
	// stream yields the same values whether or not the agents stream
	// was consumed first.
	a := NewPartitionedRNG(99)
	for i := 0; i < 1000; i++ {
		a.ForSubsystem(SubsystemAgents).Float64()
	}
	b := NewPartitionedRNG(99)
	for i := 0; i < 20; i++ {
		assert.Equal(t,
			b.ForSubsystem(SubsystemIncidents).Float64(),
			a.ForSubsystem(SubsystemIncidents).Float64())
	}
}

func TestPartitionedRNG_StreamIsCached(t *testing.T) {
	r := NewPartitionedRNG(1)
	assert.Same(t, r.ForSubsystem(SubsystemDelays), r.ForSubsystem(SubsystemDelays))
}

func TestPartitionedRNG_DistinctSubsystemsDiverge(t *testing.T) {
	r := NewPartitionedRNG(1)
	seen := map[float64]bool{}
	for _, name := range []string{SubsystemActivation, SubsystemAgents, SubsystemIncidents, SubsystemDelays, SubsystemSpawn} {
		seen[r.ForSubsystem(name).Float64()] = true
	}
	assert.Len(t, seen, 5, "subsystem streams should not collide on their first draw")
}
