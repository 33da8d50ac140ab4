package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/rs/zerolog/log"

	appconfig "docflow/internal/config"
)

// TextractClient implements Client against AWS Textract.
type TextractClient struct {
	tx *textract.Client
}

// NewTextractClient builds the adapter from the same static credentials the
// object store uses; Textract reads documents directly from S3.
func NewTextractClient(cfg appconfig.S3Config) (*TextractClient, error) {
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	return &TextractClient{tx: textract.NewFromConfig(awsCfg)}, nil
}

// DetectSync runs single-call text detection against an S3 object.
func (c *TextractClient) DetectSync(ctx context.Context, bucket, key string) (*Result, error) {
	out, err := c.tx.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{
			S3Object: &types.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Textract sync detection failed")
		return nil, fmt.Errorf("detect document text: %w", err)
	}

	result := summarizeBlocks(out.Blocks)
	if out.DocumentMetadata != nil && out.DocumentMetadata.Pages != nil {
		result.Pages = int(*out.DocumentMetadata.Pages)
	}

	log.Debug().Str("key", key).Int("chars", len(result.Text)).Msg("Textract sync detection complete")
	return result, nil
}

// StartAnalysis begins an async analysis with tables, forms and signature
// detection enabled.
func (c *TextractClient) StartAnalysis(ctx context.Context, bucket, key string) (string, error) {
	out, err := c.tx.StartDocumentAnalysis(ctx, &textract.StartDocumentAnalysisInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
		FeatureTypes: []types.FeatureType{
			types.FeatureTypeTables,
			types.FeatureTypeForms,
			types.FeatureTypeSignatures,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to start Textract analysis")
		return "", fmt.Errorf("start document analysis: %w", err)
	}

	jobID := aws.ToString(out.JobId)
	log.Info().Str("key", key).Str("externalJobID", jobID).Msg("Started Textract analysis")
	return jobID, nil
}

// GetAnalysis polls an async analysis job, following pagination once the
// job reports success.
func (c *TextractClient) GetAnalysis(ctx context.Context, externalJobID string) (AnalysisStatus, *Result, error) {
	var blocks []types.Block
	var pages int
	var nextToken *string

	for {
		out, err := c.tx.GetDocumentAnalysis(ctx, &textract.GetDocumentAnalysisInput{
			JobId:     aws.String(externalJobID),
			NextToken: nextToken,
		})
		if err != nil {
			return AnalysisFailed, nil, fmt.Errorf("get document analysis: %w", err)
		}

		switch out.JobStatus {
		case types.JobStatusInProgress:
			return AnalysisInProgress, nil, nil
		case types.JobStatusFailed:
			msg := aws.ToString(out.StatusMessage)
			if msg == "" {
				msg = "analysis failed"
			}
			return AnalysisFailed, nil, fmt.Errorf("textract analysis failed: %s", msg)
		}

		blocks = append(blocks, out.Blocks...)
		if out.DocumentMetadata != nil && out.DocumentMetadata.Pages != nil {
			pages = int(*out.DocumentMetadata.Pages)
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	result := summarizeBlocks(blocks)
	result.Pages = pages

	log.Debug().
		Str("externalJobID", externalJobID).
		Int("pages", result.Pages).
		Int("chars", len(result.Text)).
		Msg("Textract analysis complete")

	return AnalysisSucceeded, result, nil
}

// summarizeBlocks folds Textract blocks into the pipeline's Result shape:
// line text joined by newlines, structural counts, average line confidence.
func summarizeBlocks(blocks []types.Block) *Result {
	var sb strings.Builder
	result := &Result{}

	var confidenceSum float64
	var confidenceN int

	for _, block := range blocks {
		switch block.BlockType {
		case types.BlockTypeLine:
			if block.Text != nil {
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(*block.Text)
			}
			if block.Confidence != nil {
				confidenceSum += float64(*block.Confidence)
				confidenceN++
			}
		case types.BlockTypeTable:
			result.TableCount++
		case types.BlockTypeKeyValueSet:
			for _, et := range block.EntityTypes {
				if et == types.EntityTypeKey {
					result.FormFieldCount++
				}
			}
		case types.BlockTypeSignature:
			result.SignatureCount++
		}
	}

	result.Text = sb.String()
	if confidenceN > 0 {
		result.Confidence = confidenceSum / float64(confidenceN)
	}

	return result
}
