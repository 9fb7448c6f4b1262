// Package dynamo stores organizations and node health in a single DynamoDB
// table. Node rows are also projected onto a sharded global secondary index
// so a fleet-wide listing fans out over several partitions.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/repository"
	"github.com/umbrellafw/umbrella/pkg/opt"
)

const (
	attrPK     = "pk"
	attrSK     = "sk"
	attrGSI1PK = "gsi1pk"
	attrGSI1SK = "gsi1sk"
	attrTTL    = "ttlInEpochSec"

	gsi1Name = "gsi1"

	orgSortKey = "org"
)

// API is the subset of the DynamoDB client the repository uses.
type API interface {
	dynamodb.QueryAPIClient
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, in *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// Repository implements persistence interfaces on DynamoDB.
type Repository struct {
	client API
	table  string
	now    func() time.Time
}

var (
	_ repository.OrganizationRepository = (*Repository)(nil)
	_ repository.HealthRepository       = (*Repository)(nil)
)

// New constructs a Repository over table.
func New(client API, table string) *Repository {
	return &Repository{client: client, table: table, now: time.Now}
}

type orgItem struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	domain.Organization
}

type nodeItem struct {
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	GSI1PK string `dynamodbav:"gsi1pk"`
	GSI1SK string `dynamodbav:"gsi1sk"`
	domain.NodeHealth
}

func orgPK(name string) string {
	return "org#" + name
}

func nodePK(org string) string {
	return "node#" + org
}

func shardPK(shard int) string {
	return "nodeHealth#" + strconv.Itoa(shard)
}

// shardFor spreads nodes over the index partitions. Raising the shard count
// moves some rows, and the index may briefly report them under both shards.
func shardFor(org, id string, shards int) int {
	if shards <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(org))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(shards))
}

func orgKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: orgPK(name)},
		attrSK: &types.AttributeValueMemberS{Value: orgSortKey},
	}
}

// CreateOrganization writes org unless an item with the same key exists.
func (r *Repository) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	if org == nil {
		return fmt.Errorf("organization required")
	}
	org.Normalize()
	item, err := attributevalue.MarshalMap(orgItem{PK: orgPK(org.Name), SK: orgSortKey, Organization: *org})
	if err != nil {
		return fmt.Errorf("marshal organization: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("put organization: %w", err)
	}
	return nil
}

// GetOrganization reads an organization with a strongly consistent read.
func (r *Repository) GetOrganization(ctx context.Context, name string) (*domain.Organization, error) {
	resp, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            orgKey(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	if len(resp.Item) == 0 {
		return nil, repository.ErrNotFound
	}
	return unmarshalOrganization(resp.Item)
}

func unmarshalOrganization(av map[string]types.AttributeValue) (*domain.Organization, error) {
	var item orgItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshal organization: %w", err)
	}
	org := item.Organization
	org.Normalize()
	return &org, nil
}

// versionRetries bounds read-then-write attempts for unguarded rule writes.
const versionRetries = 5

// UpdateOrganization translates update into a single conditional UpdateItem.
// A rules write without an expected version is still pinned to the version
// it read, so the stored version only moves forward across writers whose
// clocks disagree.
func (r *Repository) UpdateOrganization(ctx context.Context, name string, update domain.OrganizationUpdate) (*domain.Organization, error) {
	if !update.RulesLastUpdated.IsSome() || update.ExpectRulesLastUpdated.IsSome() {
		return r.updateOrganization(ctx, name, update)
	}
	var err error
	for range versionRetries {
		var current *domain.Organization
		current, err = r.GetOrganization(ctx, name)
		if err != nil {
			return nil, err
		}
		pinned := update
		pinned.ExpectRulesLastUpdated = opt.Some(current.RulesLastUpdated)
		var org *domain.Organization
		org, err = r.updateOrganization(ctx, name, pinned)
		if !errors.Is(err, repository.ErrConditionFailed) {
			return org, err
		}
	}
	return nil, err
}

func (r *Repository) updateOrganization(ctx context.Context, name string, update domain.OrganizationUpdate) (*domain.Organization, error) {
	expr, err := buildUpdate(update)
	if err != nil {
		return nil, err
	}
	if expr.update == "" {
		return r.GetOrganization(ctx, name)
	}
	resp, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.table),
		Key:                                 orgKey(name),
		UpdateExpression:                    aws.String(expr.update),
		ConditionExpression:                 aws.String(expr.condition),
		ExpressionAttributeNames:            expr.names,
		ExpressionAttributeValues:           expr.values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, repository.ErrNotFound
			}
			return nil, repository.ErrConditionFailed
		}
		return nil, fmt.Errorf("update organization: %w", err)
	}
	return unmarshalOrganization(resp.Attributes)
}

// DeleteOrganization removes an organization item.
func (r *Repository) DeleteOrganization(ctx context.Context, name string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.table),
		Key:                      orgKey(name),
		ConditionExpression:      aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": attrPK},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("delete organization: %w", err)
	}
	return nil
}

// PutNodeHealth overwrites the node item and returns the live item it replaced.
func (r *Repository) PutNodeHealth(ctx context.Context, row domain.NodeHealth, shards int) (*domain.NodeHealth, error) {
	item, err := attributevalue.MarshalMap(nodeItem{
		PK:         nodePK(row.OrganizationName),
		SK:         row.ID,
		GSI1PK:     shardPK(shardFor(row.OrganizationName, row.ID, shards)),
		GSI1SK:     row.OrganizationName + "#" + row.ID,
		NodeHealth: row,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal node health: %w", err)
	}
	resp, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:    aws.String(r.table),
		Item:         item,
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("put node health: %w", err)
	}
	if len(resp.Attributes) == 0 {
		return nil, nil
	}
	var prev nodeItem
	if err := attributevalue.UnmarshalMap(resp.Attributes, &prev); err != nil {
		return nil, fmt.Errorf("unmarshal node health: %w", err)
	}
	// Native TTL deletion lags; an expired row counts as absent.
	if prev.Expired(row.LastPing) {
		return nil, nil
	}
	return &prev.NodeHealth, nil
}

// ListNodeHealthByOrganization queries the organization's node partition.
func (r *Repository) ListNodeHealthByOrganization(ctx context.Context, org string) ([]domain.NodeHealth, error) {
	return r.queryNodes(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(r.table),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": attrPK},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: nodePK(org)},
		},
	})
}

// ListNodeHealth queries every index shard concurrently. The result can
// contain the same logical row more than once.
func (r *Repository) ListNodeHealth(ctx context.Context, shards int) ([]domain.NodeHealth, error) {
	if shards < 1 {
		shards = 1
	}
	results := make([][]domain.NodeHealth, shards)
	g, gctx := errgroup.WithContext(ctx)
	for shard := 0; shard < shards; shard++ {
		g.Go(func() error {
			rows, err := r.queryNodes(gctx, &dynamodb.QueryInput{
				TableName:                aws.String(r.table),
				IndexName:                aws.String(gsi1Name),
				KeyConditionExpression:   aws.String("#pk = :pk"),
				ExpressionAttributeNames: map[string]string{"#pk": attrGSI1PK},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":pk": &types.AttributeValueMemberS{Value: shardPK(shard)},
				},
			})
			if err != nil {
				return fmt.Errorf("shard %d: %w", shard, err)
			}
			results[shard] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []domain.NodeHealth
	for _, rows := range results {
		out = append(out, rows...)
	}
	return out, nil
}

func (r *Repository) queryNodes(ctx context.Context, input *dynamodb.QueryInput) ([]domain.NodeHealth, error) {
	now := r.now()
	var out []domain.NodeHealth
	paginator := dynamodb.NewQueryPaginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query node health: %w", err)
		}
		var items []nodeItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal node health: %w", err)
		}
		for _, item := range items {
			if item.Expired(now) {
				continue
			}
			out = append(out, item.NodeHealth)
		}
	}
	return out, nil
}
