package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

const (
	pkPrefix = "CINEMA#"
	skMeta   = "META"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore implements CinemaStore using AWS DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// Compile-time interface checks.
var (
	_ CinemaStore = (*DynamoStore)(nil)
	_ DynamoAPI   = (*dynamodb.Client)(nil)
)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

func cinemaPK(id string) string {
	return pkPrefix + id
}

func cinemaKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: cinemaPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

func (s *DynamoStore) GetCinema(ctx context.Context, id string) (*Cinema, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       cinemaKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s SK=%s: %w", cinemaPK(id), skMeta, err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var cinema Cinema
	if err := attributevalue.UnmarshalMap(result.Item, &cinema); err != nil {
		return nil, fmt.Errorf("unmarshal cinema %s: %w", id, err)
	}
	cinema.ID = id
	return &cinema, nil
}

func (s *DynamoStore) SaveMovieIDs(ctx context.Context, id string, movieIDs []int) error {
	if movieIDs == nil {
		movieIDs = []int{}
	}
	ids, err := attributevalue.Marshal(movieIDs)
	if err != nil {
		return fmt.Errorf("marshal movie ids: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 cinemaKey(id),
		UpdateExpression:    aws.String("SET movieIds = :ids, updatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ids": ids,
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("update movie ids for cinema %s: %w", id, err)
	}

	log.Debug().Str("cinemaId", id).Int("movies", len(movieIDs)).Msg("Cinema movie list replaced")
	return nil
}

func (s *DynamoStore) ListCinemas(ctx context.Context, filter Filter) ([]*Cinema, error) {
	input := &dynamodb.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: aws.String("begins_with(PK, :pk) AND SK = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pkPrefix},
			":sk": &types.AttributeValueMemberS{Value: skMeta},
		},
	}

	var cinemas []*Cinema
	scanned := 0
	// Scan pages are capped at 1MB.
	for {
		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Scan table=%s: %w", s.tableName, err)
		}
		for _, item := range result.Items {
			scanned++
			var c Cinema
			if err := attributevalue.UnmarshalMap(item, &c); err != nil {
				return nil, fmt.Errorf("unmarshal cinema: %w", err)
			}
			if pk, ok := item["PK"].(*types.AttributeValueMemberS); ok {
				c.ID = strings.TrimPrefix(pk.Value, pkPrefix)
			}
			if filter.Match(&c) {
				cinemas = append(cinemas, &c)
			}
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	sort.Slice(cinemas, func(i, j int) bool { return cinemas[i].ID < cinemas[j].ID })
	log.Debug().Int("scanned", scanned).Int("matched", len(cinemas)).Msg("Cinemas listed")
	return cinemas, nil
}
