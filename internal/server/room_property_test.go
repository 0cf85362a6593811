package server

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any assignment of connections to users, a broadcast excluding one user
// reaches exactly the connections owned by everyone else.
func TestBroadcastExclusionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("excluded user receives nothing, everyone else receives once", prop.ForAll(
		func(owners []int, excluded int) bool {
			room := newTestRoom(t)
			clients := make([]*Client, len(owners))
			for i, owner := range owners {
				clients[i] = newTestClient(t, fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", owner))
				room.handleConnect(clients[i])
			}
			drain(clients...)

			n, err := room.handleBroadcast(NewEnvelope("TASK_UPDATED", nil), fmt.Sprintf("u%d", excluded))
			if err != nil {
				return false
			}

			want := 0
			for i, owner := range owners {
				got := len(clients[i].send)
				if owner == excluded {
					if got != 0 {
						return false
					}
					continue
				}
				if got != 1 {
					return false
				}
				want++
			}

			return n == want
		},
		gen.SliceOfN(12, gen.IntRange(0, 3)),
		gen.IntRange(0, 3),
	))

	properties.Property("connection count matches distinct connects", prop.ForAll(
		func(ids []int) bool {
			room := newTestRoom(t)
			seen := make(map[int]struct{})
			for _, id := range ids {
				room.handleConnect(newTestClient(t, fmt.Sprintf("c%d", id), ""))
				seen[id] = struct{}{}
			}

			return len(room.clients) == len(seen)
		},
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}
