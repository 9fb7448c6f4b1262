package dynamo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/repository"
	"github.com/umbrellafw/umbrella/pkg/opt"
)

type stubClient struct {
	API
	putErr     error
	putOut     *dynamodb.PutItemOutput
	updateErr  error
	updateIn   *dynamodb.UpdateItemInput
	queryPages map[string][]map[string]types.AttributeValue
	item       map[string]types.AttributeValue
	updates    int
}

func (s *stubClient) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: s.item}, nil
}

func (s *stubClient) PutItem(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	if s.putOut != nil {
		return s.putOut, nil
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (s *stubClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	s.updateIn = in
	s.updates++
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return &dynamodb.UpdateItemOutput{Attributes: s.item}, nil
}

func (s *stubClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	return &dynamodb.QueryOutput{Items: s.queryPages[pk]}, nil
}

func TestCreateOrganizationMapsConditionFailure(t *testing.T) {
	client := &stubClient{putErr: &types.ConditionalCheckFailedException{}}
	repo := New(client, "umbrella")

	err := repo.CreateOrganization(context.Background(), domain.NewOrganization("acme", 0, time.Now()))
	if !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUpdateOrganizationDistinguishesMissingFromConflict(t *testing.T) {
	update := domain.OrganizationUpdate{
		Rules:                  opt.Some(map[string]domain.Rule{}),
		RulesLastUpdated:       opt.Some(time.Now()),
		ExpectRulesLastUpdated: opt.Some(time.Now().Add(-time.Hour)),
	}

	missing := &stubClient{updateErr: &types.ConditionalCheckFailedException{}}
	if _, err := New(missing, "t").UpdateOrganization(context.Background(), "acme", update); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	old, err := attributevalue.MarshalMap(orgItem{PK: orgPK("acme"), SK: orgSortKey, Organization: *domain.NewOrganization("acme", 0, time.Now())})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	stale := &stubClient{updateErr: &types.ConditionalCheckFailedException{Item: old}}
	if _, err := New(stale, "t").UpdateOrganization(context.Background(), "acme", update); !errors.Is(err, repository.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
	if !strings.Contains(*stale.updateIn.ConditionExpression, "#version = :expected") {
		t.Fatalf("expected version condition, got %q", *stale.updateIn.ConditionExpression)
	}
}

func TestBuildUpdateTargetsMapEntries(t *testing.T) {
	expr, err := buildUpdate(domain.OrganizationUpdate{
		Mode:            opt.Some(domain.ModeBlocking),
		KeyMapperSource: opt.Some[*string](nil),
		PutAPIKeys:      map[string]domain.APIKey{"ingest": {Value: "v", Enabled: true}},
		RemoveAPIKeys:   []string{"old"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, fragment := range []string{"#mode = :mode", "#keys.#k0 = :k0", "REMOVE #keyMapper, #keys.#rk0"} {
		if !strings.Contains(expr.update, fragment) {
			t.Errorf("expected %q in %q", fragment, expr.update)
		}
	}
	if expr.names["#k0"] != "ingest" || expr.names["#rk0"] != "old" {
		t.Fatalf("unexpected names %v", expr.names)
	}
	if expr.condition != "attribute_exists(#pk)" {
		t.Fatalf("unexpected condition %q", expr.condition)
	}
}

func TestBuildUpdateBumpsVersionPastExpected(t *testing.T) {
	expected := domain.Timestamp(time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC))
	expr, err := buildUpdate(domain.OrganizationUpdate{
		Rules:                  opt.Some(map[string]domain.Rule{}),
		RulesLastUpdated:       opt.Some(expected),
		ExpectRulesLastUpdated: opt.Some(expected),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var version time.Time
	if err := attributevalue.Unmarshal(expr.values[":version"], &version); err != nil {
		t.Fatalf("unmarshal version: %v", err)
	}
	if !version.After(expected) {
		t.Fatalf("expected version after %v, got %v", expected, version)
	}
}

func TestBuildUpdateRejectsPutAndRemoveOfSameKey(t *testing.T) {
	_, err := buildUpdate(domain.OrganizationUpdate{
		PutAPIKeys:    map[string]domain.APIKey{"k": {}},
		RemoveAPIKeys: []string{"k"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestPutNodeHealthIgnoresExpiredPrevious(t *testing.T) {
	now := domain.Timestamp(time.Now())
	expired, err := attributevalue.MarshalMap(nodeItem{
		PK: nodePK("acme"), SK: "n1",
		NodeHealth: domain.NodeHealth{OrganizationName: "acme", ID: "n1", LastPing: now.Add(-48 * time.Hour), TTLInEpochSec: now.Add(-24 * time.Hour).Unix()},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	client := &stubClient{putOut: &dynamodb.PutItemOutput{Attributes: expired}}
	prev, err := New(client, "t").PutNodeHealth(context.Background(), domain.NodeHealth{
		OrganizationName: "acme", ID: "n1", LastPing: now, TTLInEpochSec: now.Add(24 * time.Hour).Unix(),
	}, 4)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if prev != nil {
		t.Fatalf("expected expired row to count as absent, got %+v", prev)
	}
}

func TestListNodeHealthQueriesEveryShard(t *testing.T) {
	now := domain.Timestamp(time.Now())
	row := func(org, id string, shard int) map[string]types.AttributeValue {
		av, err := attributevalue.MarshalMap(nodeItem{
			PK: nodePK(org), SK: id, GSI1PK: shardPK(shard),
			NodeHealth: domain.NodeHealth{OrganizationName: org, ID: id, LastPing: now, TTLInEpochSec: now.Add(time.Hour).Unix()},
		})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return av
	}
	client := &stubClient{queryPages: map[string][]map[string]types.AttributeValue{
		shardPK(0): {row("acme", "n1", 0)},
		shardPK(1): {row("acme", "n1", 1), row("beta", "n9", 1)},
		shardPK(2): {row("gamma", "n2", 2)},
	}}

	rows, err := New(client, "t").ListNodeHealth(context.Background(), 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected raw rows from all shards, got %d", len(rows))
	}
	if got := len(domain.DedupeNodeHealth(rows)); got != 3 {
		t.Fatalf("expected 3 logical rows, got %d", got)
	}
}

func TestShardForIsStable(t *testing.T) {
	if shardFor("acme", "n1", 1) != 0 {
		t.Fatal("single shard must map to zero")
	}
	a := shardFor("acme", "n1", 8)
	if a != shardFor("acme", "n1", 8) || a < 0 || a >= 8 {
		t.Fatalf("unexpected shard %d", a)
	}
}

func TestUnguardedRulesWriteNeverMovesVersionBack(t *testing.T) {
	stored := domain.NewOrganization("acme", 0, time.Now().Add(time.Hour))
	item, err := attributevalue.MarshalMap(orgItem{PK: orgPK("acme"), SK: orgSortKey, Organization: *stored})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	client := &stubClient{item: item}
	_, err = New(client, "t").UpdateOrganization(context.Background(), "acme", domain.OrganizationUpdate{
		PutRules:         map[string]domain.Rule{"r": {Priority: 1}},
		RulesLastUpdated: opt.Some(time.Now()),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !strings.Contains(*client.updateIn.ConditionExpression, "#version = :expected") {
		t.Fatalf("expected write pinned to the read version, got %q", *client.updateIn.ConditionExpression)
	}
	var version time.Time
	if err := attributevalue.Unmarshal(client.updateIn.ExpressionAttributeValues[":version"], &version); err != nil {
		t.Fatalf("unmarshal version: %v", err)
	}
	if !version.After(stored.RulesLastUpdated) {
		t.Fatalf("version %v must be after stored %v", version, stored.RulesLastUpdated)
	}
}

func TestUnguardedRulesWriteGivesUpAfterRepeatedRaces(t *testing.T) {
	item, err := attributevalue.MarshalMap(orgItem{PK: orgPK("acme"), SK: orgSortKey, Organization: *domain.NewOrganization("acme", 0, time.Now())})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	client := &stubClient{item: item, updateErr: &types.ConditionalCheckFailedException{Item: item}}
	_, err = New(client, "t").UpdateOrganization(context.Background(), "acme", domain.OrganizationUpdate{
		Rules:            opt.Some(map[string]domain.Rule{}),
		RulesLastUpdated: opt.Some(time.Now()),
	})
	if !errors.Is(err, repository.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
	if client.updates != versionRetries {
		t.Fatalf("expected %d attempts, got %d", versionRetries, client.updates)
	}
}

func TestNonRulesWriteSkipsVersionRead(t *testing.T) {
	client := &stubClient{}
	if _, err := New(client, "t").UpdateOrganization(context.Background(), "acme", domain.OrganizationUpdate{Mode: opt.Some(domain.ModeBlocking)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if strings.Contains(*client.updateIn.ConditionExpression, ":expected") {
		t.Fatalf("mode change must not be version guarded, got %q", *client.updateIn.ConditionExpression)
	}
}
