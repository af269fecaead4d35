package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-streamupload/progress"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const s3PartSizeMB = 10

// S3UploadParams ...
type S3UploadParams struct {
	Bucket          string
	Key             string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ContentType     string
	Open            SourceOpener
	// Request is passed to OnProgress as the event's Request. Defaults to the object key.
	Request    interface{}
	OnProgress ProgressHandler
	OnAttempt  AttemptHandler
	Config     Config
}

// UploadToS3 streams the content returned by params.Open into an S3 object.
// A failed attempt is repeated from the start of the source, except when the progress handler failed
// or the context was cancelled.
func UploadToS3(ctx context.Context, params S3UploadParams, logger log.Logger) error {
	if err := validateS3UploadParams(params); err != nil {
		return err
	}

	cfg, err := loadAWSCredentials(
		ctx,
		params.Region,
		params.AccessKeyID,
		params.SecretAccessKey,
		logger,
	)
	if err != nil {
		return fmt.Errorf("load aws credentials: %w", err)
	}

	service := &s3UploadService{
		client: s3.NewFromConfig(*cfg),
		params: params,
		config: params.Config.withDefaults(),
		logger: logger,
	}
	return service.putObjectWithRetry(ctx)
}

type s3UploadService struct {
	client manager.UploadAPIClient
	params S3UploadParams
	config Config
	logger log.Logger
}

func (service *s3UploadService) putObjectWithRetry(ctx context.Context) error {
	return retry.Times(uint(service.config.MaxRetries)).Wait(service.config.RetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			service.logger.Warnf("Retrying S3 upload of %s (attempt %d)", service.params.Key, attempt+1)
		}
		if service.params.OnAttempt != nil {
			service.params.OnAttempt(int(attempt) + 1)
		}

		err := service.putObject(ctx)
		if err == nil {
			return nil, true
		}
		if ctx.Err() != nil || errors.Is(err, progress.ErrCallback) {
			return err, true
		}
		return err, false
	})
}

func (service *s3UploadService) putObject(ctx context.Context) error {
	params := service.params
	if params.Request == nil {
		params.Request = params.Key
	}

	source, err := params.Open()
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	body, err := newProgressBody(source, service.config.BufferSize, UploadParams{
		URL:        params.Key,
		Request:    params.Request,
		OnProgress: params.OnProgress,
	})
	if err != nil {
		closeSource(source)
		return err
	}

	rb := NewRequestBody(ctx, body)
	defer func() {
		if err := rb.Close(); err != nil {
			service.logger.Warnf("close upload source: %s", err)
		}
	}()

	input := &s3.PutObjectInput{
		Body:   rb,
		Bucket: aws.String(params.Bucket),
		Key:    aws.String(params.Key),
	}
	if params.ContentType != "" {
		input.ContentType = aws.String(params.ContentType)
	}
	if length := rb.ContentLength(); length >= 0 {
		input.ContentLength = aws.Int64(length)
	}

	uploader := manager.NewUploader(service.client, func(u *manager.Uploader) {
		u.PartSize = s3PartSizeMB * 1024 * 1024
	})

	_, err = uploader.Upload(ctx, input)
	if bodyErr := rb.Err(); bodyErr != nil {
		// the manager reports body failures wrapped in its own errors
		return fmt.Errorf("upload object: %w", bodyErr)
	}
	if err != nil {
		var apiError smithy.APIError
		if errors.As(err, &apiError) {
			return fmt.Errorf("upload object: %s: %w", apiError.ErrorCode(), err)
		}
		return fmt.Errorf("upload object: %w", err)
	}

	return nil
}

func validateS3UploadParams(params S3UploadParams) error {
	if params.Bucket == "" {
		return fmt.Errorf("Bucket must not be empty")
	}
	if params.Key == "" {
		return fmt.Errorf("Key must not be empty")
	}
	if params.Open == nil {
		return fmt.Errorf("source opener is not set")
	}
	return nil
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
