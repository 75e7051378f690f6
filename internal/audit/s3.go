package audit

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/imagemux/imagemux/pkg/types"
)

// S3Config contains configuration for the S3 audit sink.
type S3Config struct {
	BucketName    string        // S3 bucket name
	Region        string        // AWS region
	AccessKeyID   string        // AWS access key (optional, uses default credentials if empty)
	SecretKey     string        // AWS secret key (optional)
	Endpoint      string        // Custom S3 endpoint (for MinIO, etc.)
	PathPrefix    string        // Prefix for S3 keys (e.g., "imagemux/audit")
	FlushInterval time.Duration // Flush interval for batching
	BatchSize     int           // Max batch size before flush
}

type s3Entry struct {
	Kind       string                  `json:"kind"`
	Timestamp  time.Time               `json:"timestamp"`
	Cost       *types.CostEvent        `json:"cost,omitempty"`
	Transition *types.TransitionEvent  `json:"transition,omitempty"`
	Record     *types.GenerationRecord `json:"record,omitempty"`
}

// S3Sink batches audit records and uploads them to S3 as JSONL objects.
type S3Sink struct {
	config S3Config
	client *s3.Client

	mu     sync.Mutex
	queue  []s3Entry
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewS3Sink creates an S3 sink and starts its background flush loop.
func NewS3Sink(cfg S3Config) (*S3Sink, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("s3: bucket name is required")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	sink := &S3Sink{
		config: cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		queue:  make([]s3Entry, 0, cfg.BatchSize),
		stopCh: make(chan struct{}),
	}

	sink.wg.Add(1)
	go sink.flushLoop()

	return sink, nil
}

// RecordCost implements Sink.
func (s *S3Sink) RecordCost(_ context.Context, event *types.CostEvent) error {
	s.enqueue(s3Entry{Kind: "cost_event", Timestamp: event.Timestamp, Cost: event})
	return nil
}

// RecordTransition implements Sink.
func (s *S3Sink) RecordTransition(_ context.Context, event *types.TransitionEvent) error {
	s.enqueue(s3Entry{Kind: "transition_event", Timestamp: event.Timestamp, Transition: event})
	return nil
}

// RecordTerminal implements Sink.
func (s *S3Sink) RecordTerminal(_ context.Context, record *types.GenerationRecord) error {
	s.enqueue(s3Entry{Kind: "generation_record", Timestamp: time.Now().UTC(), Record: record})
	return nil
}

// Close flushes remaining records and stops the flush loop.
func (s *S3Sink) Close(ctx context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	return s.flush(ctx)
}

func (s *S3Sink) enqueue(entry s3Entry) {
	s.mu.Lock()
	s.queue = append(s.queue, entry)
	full := len(s.queue) >= s.config.BatchSize
	s.mu.Unlock()

	if full {
		_ = s.flush(context.Background())
	}
}

func (s *S3Sink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.flush(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

func (s *S3Sink) flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.queue
	s.queue = make([]s3Entry, 0, s.config.BatchSize)
	s.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range batch {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("s3: encode entry: %w", err)
		}
	}

	key := s.objectKey()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3: put object %s: %w", key, err)
	}
	return nil
}

// objectKey partitions uploads by date for lifecycle policies and
// downstream querying.
func (s *S3Sink) objectKey() string {
	now := time.Now().UTC()
	prefix := s.config.PathPrefix
	if prefix == "" {
		prefix = "imagemux/audit"
	}
	return fmt.Sprintf("%s/%s/%s.jsonl", prefix, now.Format("2006/01/02"), uuid.NewString())
}
