package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aurax-platform/identity-api/internal/domain"
)

// OTPRepo manages one-time passcode records.
// PK: recipient, SK: purpose — one record per pair, reissuance overwrites.
//
// The used-flag transition and attempt increments are conditional updates so
// that concurrent verifications cannot both succeed and the cleanup sweep
// cannot race a verification into deleting a record mid-check.
type OTPRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewOTPRepo(client *dynamodb.Client, tableName string) *OTPRepo {
	return &OTPRepo{client: client, tableName: tableName}
}

// Put writes the record for (recipient, purpose), conditional on any existing
// record having been created at or before cooldownCutoff. The condition is the
// cooldown gate: two concurrent issuances that both read "no recent record"
// still serialize here, and the loser gets domain.ErrRateLimited.
func (r *OTPRepo) Put(ctx context.Context, t *domain.OTPToken, cooldownCutoff time.Time) error {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("marshal otp token: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(recipient) OR created_at <= :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", cooldownCutoff.Unix())},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("otp reissued inside cooldown window: %w", domain.ErrRateLimited)
		}
		return err
	}
	return nil
}

func (r *OTPRepo) Get(ctx context.Context, recipient string, purpose domain.OTPPurpose) (*domain.OTPToken, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("recipient", recipient, "purpose", string(purpose)),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("otp token not found: %w", domain.ErrNotFound)
	}
	var t domain.OTPToken
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Delete removes the record for (recipient, purpose), conditional on it still
// holding the expected digest so a purge racing a reissue cannot take out the
// freshly issued code. A missing or superseded record is a no-op. An empty
// digest deletes unconditionally.
func (r *OTPRepo) Delete(ctx context.Context, recipient string, purpose domain.OTPPurpose, digest string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("recipient", recipient, "purpose", string(purpose)),
	}
	if digest != "" {
		input.ConditionExpression = aws.String("digest = :digest")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":digest": &types.AttributeValueMemberS{Value: digest},
		}
	}
	_, err := r.client.DeleteItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return err
	}
	return nil
}

// MarkUsed flips the used flag via compare-and-set: the update only succeeds
// while the record is unused, unexpired, within the attempt budget and still
// holds the expected digest. Exactly one concurrent caller can win; losers
// get domain.ErrConflict.
func (r *OTPRepo) MarkUsed(ctx context.Context, recipient string, purpose domain.OTPPurpose, digest string, now time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              compositeKey("recipient", recipient, "purpose", string(purpose)),
		UpdateExpression: aws.String("SET used = :true, used_at = :now"),
		ConditionExpression: aws.String(
			"attribute_exists(recipient) AND used = :false AND digest = :digest AND attempts < :max AND expires_at > :nowsec",
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":   &types.AttributeValueMemberBOOL{Value: true},
			":false":  &types.AttributeValueMemberBOOL{Value: false},
			":digest": &types.AttributeValueMemberS{Value: digest},
			":max":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", domain.MaxOTPAttempts)},
			":now":    &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
			":nowsec": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("otp token already used or superseded: %w", domain.ErrConflict)
		}
		return err
	}
	return nil
}

// IncrementAttempts adds one failed attempt to the live record for the pair.
// Keyed by (recipient, purpose), not by the guessed digest, so wrong guesses
// exhaust the budget of whatever code is currently valid. A missing or
// already-used record is not an error: there is nothing left to protect.
func (r *OTPRepo) IncrementAttempts(ctx context.Context, recipient string, purpose domain.OTPPurpose) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey("recipient", recipient, "purpose", string(purpose)),
		UpdateExpression:    aws.String("ADD attempts :one"),
		ConditionExpression: aws.String("attribute_exists(recipient) AND used = :false"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":false": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return err
	}
	return nil
}

// CleanupExpired deletes records that can never verify again: expired ones,
// attempt-exhausted ones, and used ones older than 24 hours. Returns the
// number of records deleted. DynamoDB's native TTL eventually removes expired
// rows too; this sweep keeps the table tight between TTL passes.
func (r *OTPRepo) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	usedCutoff := now.Add(-24 * time.Hour)
	input := &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
		FilterExpression: aws.String(
			"expires_at < :nowsec OR attempts >= :max OR (used = :true AND used_at < :cutoff)",
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":nowsec": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
			":max":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", domain.MaxOTPAttempts)},
			":true":   &types.AttributeValueMemberBOOL{Value: true},
			":cutoff": &types.AttributeValueMemberS{Value: usedCutoff.UTC().Format(time.RFC3339)},
		},
		ProjectionExpression: aws.String("recipient, purpose, digest"),
	}

	deleted := 0
	for {
		out, err := r.client.Scan(ctx, input)
		if err != nil {
			return deleted, err
		}
		for _, item := range out.Items {
			rec, ok := item["recipient"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			pur, ok := item["purpose"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			digest := ""
			if dig, ok := item["digest"].(*types.AttributeValueMemberS); ok {
				digest = dig.Value
			}
			if err := r.Delete(ctx, rec.Value, domain.OTPPurpose(pur.Value), digest); err != nil {
				return deleted, err
			}
			deleted++
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return deleted, nil
}
