package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingRetainsMostRecent(t *testing.T) {
	r := newRing(5)

	for i := 0; i < 12; i++ {
		ev := newEvent(KindRouteCalled)
		ev.Method = fmt.Sprintf("m%d", i)
		r.append(ev)
	}

	assert.Equal(t, 5, r.len())
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("m%d", 7+i), r.at(i).Method)
	}
}

func TestRingEvictsExactlyOneAtCapacity(t *testing.T) {
	r := newRing(3)

	for i := 0; i < 3; i++ {
		evicted := r.append(newEvent(KindHealthChanged))
		assert.False(t, evicted)
	}

	assert.True(t, r.append(newEvent(KindHealthChanged)))
	assert.Equal(t, 3, r.len())
}

func TestRingBelowCapacity(t *testing.T) {
	r := newRing(10)
	ev := newEvent(KindWorkflowStarted)
	ev.WorkflowID = "w1"
	r.append(ev)

	assert.Equal(t, 1, r.len())
	assert.Equal(t, "w1", r.at(0).WorkflowID)
}
