package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/xpio/chatcore/llm"
	"github.com/xpio/chatcore/tools"
)

// However many tool calls the model keeps requesting, executions never exceed
// the chain bound and the stream still satisfies its contract.
func TestToolChainBoundProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		requested := rapid.IntRange(0, 6).Draw(rt, "requested")

		var scripts [][]llm.StreamChunk
		for i := range requested {
			scripts = append(scripts, toolStream(
				fmt.Sprintf("call_%d", i+1), "check_schedule_availability", `{}`))
		}
		scripts = append(scripts, textStream("done looking"))

		handler := &countingHandler{
			name: "check_schedule_availability",
			outcome: func(tools.Invocation) (*tools.Outcome, error) {
				return &tools.Outcome{Content: `{"status":"ok","slots":[]}`}, nil
			},
		}
		rig := newTestRig(t, scripts, handler)

		_, ch, err := rig.engine.HandleTurn(context.Background(), "", "availability?")
		require.NoError(rt, err)

		var events []Event
		timeout := time.After(5 * time.Second)
	loop:
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					break loop
				}
				events = append(events, ev)
			case <-timeout:
				rt.Fatalf("stream did not terminate")
			}
		}

		require.NotEmpty(rt, events)
		require.Equal(rt, EventSessionID, events[0].Type)
		last := events[len(events)-1]
		require.Equal(rt, EventDone, last.Type)

		bound := rig.engine.cfg.MaxToolChain
		want := requested
		if want > bound {
			want = bound
		}
		require.Equal(rt, want, handler.executions())
	})
}
