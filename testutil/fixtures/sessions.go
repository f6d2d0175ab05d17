// =============================================================================
// 📦 测试数据工厂 - 会话与人格
// =============================================================================
package fixtures

import (
	"context"
	"fmt"
	"testing"

	"github.com/muchaco/council/agent/persistence"
	"github.com/muchaco/council/types"
)

// Debate is a seeded session with its participants.
type Debate struct {
	Session   *types.Session
	Conductor types.Persona
	Personas  []types.Persona
}

// PersonaIDs returns the ids of the non-conductor participants.
func (d Debate) PersonaIDs() []string {
	ids := make([]string, len(d.Personas))
	for i, p := range d.Personas {
		ids[i] = p.ID
	}
	return ids
}

// DebateOptions controls SeedDebate.
type DebateOptions struct {
	// Speakers is the number of non-conductor personas (default 3).
	Speakers    int
	TokenBudget int
}

// Persona 返回一个可直接入库的人格
func Persona(id, name string) *types.Persona {
	return &types.Persona{
		ID:           id,
		Name:         name,
		Role:         name + " analyses the problem from their own angle",
		ModelID:      "gemini-1.5-flash",
		Temperature:  0.7,
		Color:        "#3366ff",
		HiddenAgenda: "secret agenda of " + name,
	}
}

// SeedDebate creates a session with a conductor persona and speakers.
// The conductor is registered as a participant but not enabled.
func SeedDebate(t testing.TB, store persistence.Store, opts DebateOptions) Debate {
	t.Helper()
	ctx := context.Background()
	if opts.Speakers <= 0 {
		opts.Speakers = 3
	}

	sess, err := store.CreateSession(ctx, &types.Session{
		Title:       "Pricing debate",
		Problem:     "Should we introduce a usage-based pricing tier?",
		OutputGoal:  "A recommendation with risks",
		TokenBudget: opts.TokenBudget,
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}

	add := func(p *types.Persona) types.Persona {
		p.ID = sess.ID[:8] + "-" + p.ID
		created, err := store.CreatePersona(ctx, p)
		if err != nil {
			t.Fatalf("seed persona %s: %v", p.ID, err)
		}
		if err := store.AddSessionPersona(ctx, sess.ID, created.ID); err != nil {
			t.Fatalf("add persona %s: %v", created.ID, err)
		}
		return *created
	}

	d := Debate{Session: sess}
	d.Conductor = add(Persona("conductor", "Moderator"))
	for i := 0; i < opts.Speakers; i++ {
		d.Personas = append(d.Personas, add(Persona(fmt.Sprintf("p%d", i+1), fmt.Sprintf("Speaker%d", i+1))))
	}
	return d
}
