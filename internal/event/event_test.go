package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSinks_FanOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	sinks := Sinks{a, nil, Nop{}, b}

	sinks.Publish(Event{Kind: Created, ThoughtID: "th_1"})
	sinks.Publish(Event{Kind: Deleted, ThoughtID: "th_1"})

	assert.Equal(t, []Kind{Created, Deleted}, a.Kinds())
	assert.Equal(t, a.Events(), b.Events())
}
