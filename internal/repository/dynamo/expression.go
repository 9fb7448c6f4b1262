package dynamo

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/umbrellafw/umbrella/internal/domain"
)

type updateExpr struct {
	update    string
	condition string
	names     map[string]string
	values    map[string]types.AttributeValue
}

type exprBuilder struct {
	sets    []string
	removes []string
	names   map[string]string
	values  map[string]types.AttributeValue
	err     error
}

func (b *exprBuilder) set(path, placeholder string, value any) {
	if b.err != nil {
		return
	}
	av, err := attributevalue.Marshal(value)
	if err != nil {
		b.err = fmt.Errorf("marshal %s: %w", placeholder, err)
		return
	}
	b.values[placeholder] = av
	b.sets = append(b.sets, path+" = "+placeholder)
}

func (b *exprBuilder) remove(path string) {
	b.removes = append(b.removes, path)
}

// buildUpdate renders update as an UpdateItem expression. Map entries are
// addressed by path so concurrent writers touching different keys do not
// overwrite each other.
func buildUpdate(update domain.OrganizationUpdate) (updateExpr, error) {
	b := &exprBuilder{
		names:  map[string]string{"#pk": attrPK},
		values: map[string]types.AttributeValue{},
	}
	condition := "attribute_exists(#pk)"

	if v, ok := update.Mode.Get(); ok {
		b.names["#mode"] = "mode"
		b.set("#mode", ":mode", v)
	}
	if v, ok := update.AwaitTimeoutMs.Get(); ok {
		b.names["#await"] = "awaitTimeoutMs"
		b.set("#await", ":await", v)
	}
	if v, ok := update.CollectAdditionalHeaders.Get(); ok {
		b.names["#headers"] = "collectAdditionalHeaders"
		if len(v) == 0 {
			b.remove("#headers")
		} else {
			b.set("#headers", ":headers", v)
		}
	}
	if v, ok := update.KeyMapperSource.Get(); ok {
		b.names["#keyMapper"] = "keyMapperSource"
		if v == nil {
			b.remove("#keyMapper")
		} else {
			b.set("#keyMapper", ":keyMapper", *v)
		}
	}
	if v, ok := update.EndpointMapperSource.Get(); ok {
		b.names["#endpointMapper"] = "endpointMapperSource"
		if v == nil {
			b.remove("#endpointMapper")
		} else {
			b.set("#endpointMapper", ":endpointMapper", *v)
		}
	}

	if len(update.PutAPIKeys) > 0 || len(update.RemoveAPIKeys) > 0 {
		b.names["#keys"] = "apiKeysByName"
	}
	for i, name := range slices.Sorted(maps.Keys(update.PutAPIKeys)) {
		if slices.Contains(update.RemoveAPIKeys, name) {
			return updateExpr{}, fmt.Errorf("api key %q both written and removed", name)
		}
		alias := fmt.Sprintf("#k%d", i)
		b.names[alias] = name
		b.set("#keys."+alias, fmt.Sprintf(":k%d", i), update.PutAPIKeys[name])
	}
	for i, name := range update.RemoveAPIKeys {
		alias := fmt.Sprintf("#rk%d", i)
		b.names[alias] = name
		b.remove("#keys." + alias)
	}

	if rules, ok := update.Rules.Get(); ok {
		merged := maps.Clone(rules)
		if merged == nil {
			merged = map[string]domain.Rule{}
		}
		maps.Copy(merged, update.PutRules)
		b.names["#rules"] = "rulesByName"
		b.set("#rules", ":rules", merged)
	} else if len(update.PutRules) > 0 {
		b.names["#rules"] = "rulesByName"
		for i, name := range slices.Sorted(maps.Keys(update.PutRules)) {
			alias := fmt.Sprintf("#r%d", i)
			b.names[alias] = name
			b.set("#rules."+alias, fmt.Sprintf(":r%d", i), update.PutRules[name])
		}
	}

	expected, conditional := update.ExpectRulesLastUpdated.Get()
	if v, ok := update.RulesLastUpdated.Get(); ok {
		v = domain.Timestamp(v)
		if conditional && !v.After(domain.Timestamp(expected)) {
			v = domain.Timestamp(expected).Add(time.Microsecond)
		}
		b.names["#version"] = "rulesLastUpdated"
		b.set("#version", ":version", v)
	}
	if conditional {
		b.names["#version"] = "rulesLastUpdated"
		av, err := attributevalue.Marshal(domain.Timestamp(expected))
		if err != nil {
			return updateExpr{}, fmt.Errorf("marshal expected version: %w", err)
		}
		b.values[":expected"] = av
		condition += " AND #version = :expected"
	}
	if b.err != nil {
		return updateExpr{}, b.err
	}

	var clauses []string
	if len(b.sets) > 0 {
		clauses = append(clauses, "SET "+strings.Join(b.sets, ", "))
	}
	if len(b.removes) > 0 {
		clauses = append(clauses, "REMOVE "+strings.Join(b.removes, ", "))
	}
	out := updateExpr{
		update:    strings.Join(clauses, " "),
		condition: condition,
		names:     b.names,
		values:    b.values,
	}
	if len(out.values) == 0 {
		out.values = nil
	}
	return out, nil
}
