package rules

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/umbrellafw/umbrella/internal/domain"
)

// TestEvaluationOrder_PropertyBased checks that only enabled rules for the
// event type run, in descending priority order.
func TestEvaluationOrder_PropertyBased(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	engine := newTestEngine(t, JQCompiler{})

	properties.Property("state records rules in priority order", prop.ForAll(
		func(priorities []int) bool {
			rules := map[string]domain.Rule{}
			type entry struct {
				name     string
				priority int
			}
			var expected []entry
			for i, p := range priorities {
				name := fmt.Sprintf("r%02d", i)
				enabled := i%3 != 0
				eventType := domain.WebEventType
				if i%4 == 1 {
					eventType = "checkout"
				}
				rules[name] = domain.Rule{
					Priority:   p,
					Enabled:    enabled,
					Source:     fmt.Sprintf(`{state: ((.state // []) + [%q])}`, name),
					EventTypes: []string{eventType},
				}
				if enabled && eventType == domain.WebEventType {
					expected = append(expected, entry{name: name, priority: p})
				}
			}
			slices.SortFunc(expected, func(a, b entry) int {
				if c := cmp.Compare(b.priority, a.priority); c != 0 {
					return c
				}
				return cmp.Compare(a.name, b.name)
			})

			org := testOrg(rules)
			org.Name = fmt.Sprintf("org-%v", priorities)
			output, ok := engine.Evaluate(context.Background(), org, domain.WebEventType, map[string]any{}).Get()
			if len(expected) == 0 {
				return !ok
			}
			if !ok {
				return false
			}
			state, _ := output.State.Get()
			got, _ := state.([]any)
			if len(got) != len(expected) {
				return false
			}
			for i := range expected {
				if got[i] != expected[i].name {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(-20, 20)),
	))

	properties.TestingRun(t)
}

// TestKeySurvival_PropertyBased checks that a key set by one rule reaches the
// final output when no later rule overwrites it.
func TestKeySurvival_PropertyBased(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	engine := newTestEngine(t, JQCompiler{})

	properties.Property("key set once survives", prop.ForAll(
		func(count, keyed int) bool {
			keyed %= count
			rules := map[string]domain.Rule{}
			for i := 0; i < count; i++ {
				source := `{state: 1}`
				if i == keyed {
					source = fmt.Sprintf(`{state: 1, key: "key-%d"}`, i)
				}
				rules[fmt.Sprintf("r%02d", i)] = domain.Rule{
					Priority:   count - i,
					Enabled:    true,
					Source:     source,
					EventTypes: []string{"signup"},
				}
			}
			org := testOrg(rules)
			org.Name = fmt.Sprintf("key-%d-%d", count, keyed)
			decision := engine.EvaluateCustom(context.Background(), org, "signup", nil)
			return decision.Key == fmt.Sprintf("key-%d", keyed)
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
