package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "phantomflow/config"
	"phantomflow/logger"
	"phantomflow/models"
)

// DayLogRecord is the parquet row layout for raw print logs.
type DayLogRecord struct {
	Kind       string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol     string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64"`
	Price      float64 `parquet:"name=price, type=DOUBLE"`
	Size       int64   `parquet:"name=size, type=INT64"`
	Conditions string  `parquet:"name=conditions, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange   int32   `parquet:"name=exchange, type=INT32"`
	Sequence   int64   `parquet:"name=sequence, type=INT64"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// DayLogWriter buffers raw print log entries and flushes them as parquet
// files, either to S3 or to a local directory. Flushes happen on an interval,
// on demand (disconnect, day rollover) and at shutdown.
type DayLogWriter struct {
	config      *appconfig.Config
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.Mutex
	running     bool
	log         *logger.Log
	buffer      []models.DayLogEntry
	flushTicker *time.Ticker
}

// NewDayLogWriter constructs the writer. When S3 storage is enabled the AWS
// client is built up front so credential problems surface at startup.
func NewDayLogWriter(cfg *appconfig.Config) (*DayLogWriter, error) {
	log := logger.GetLogger()

	w := &DayLogWriter{
		config: cfg,
		wg:     &sync.WaitGroup{},
		log:    log,
	}

	if cfg.Storage.S3.Enabled {
		ctx := context.Background()

		loadOpts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.Storage.S3.Region),
		}
		if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.Storage.S3.AccessKeyID,
					cfg.Storage.S3.SecretAccessKey,
					"",
				),
			))
		}

		awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		creds, err := awsConfig.Credentials.Retrieve(ctx)
		if err != nil || !creds.HasKeys() {
			return nil, fmt.Errorf("aws credentials not found")
		}

		w.s3Client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Storage.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
			}
			o.UsePathStyle = cfg.Storage.S3.PathStyle
		})

		log.WithComponent("daylog_writer").WithFields(logger.Fields{
			"bucket":     cfg.Storage.S3.Bucket,
			"region":     cfg.Storage.S3.Region,
			"path_style": cfg.Storage.S3.PathStyle,
		}).Info("daylog writer initialized with s3 storage")
	} else {
		if err := os.MkdirAll(cfg.Storage.DayLog.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create daylog directory: %w", err)
		}
		log.WithComponent("daylog_writer").WithFields(logger.Fields{
			"dir": cfg.Storage.DayLog.Dir,
		}).Info("daylog writer initialized with local storage")
	}

	return w, nil
}

// Start launches the interval flush worker.
func (w *DayLogWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("daylog writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("daylog_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting daylog writer")

	interval := w.config.Storage.DayLog.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	w.flushTicker = time.NewTicker(interval)

	w.wg.Add(1)
	go w.flushWorker()

	log.Info("daylog writer started successfully")
	return nil
}

// Stop flushes the remaining buffer and waits for the worker.
func (w *DayLogWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("daylog_writer").Info("stopping daylog writer")
	w.Flush("shutdown")
	w.wg.Wait()
	w.log.WithComponent("daylog_writer").Info("daylog writer stopped")
}

// Append adds one entry to the in-memory buffer.
func (w *DayLogWriter) Append(entry models.DayLogEntry) {
	w.mu.Lock()
	w.buffer = append(w.buffer, entry)
	w.mu.Unlock()
}

func (w *DayLogWriter) flushWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("daylog_writer").WithFields(logger.Fields{"worker": "flush"})

	for {
		select {
		case <-w.ctx.Done():
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.Flush("interval")
		}
	}
}

// Flush writes all buffered entries as one parquet file. An empty buffer is a
// no-op.
func (w *DayLogWriter) Flush(reason string) {
	w.mu.Lock()
	entries := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	log := w.log.WithComponent("daylog_writer").WithFields(logger.Fields{
		"entries": len(entries),
		"reason":  reason,
	})
	log.Info("flushing daylog buffer")

	data, err := w.createParquetFile(entries)
	if err != nil {
		log.WithError(err).Error("failed to create daylog parquet file")
		return
	}

	key := w.generateKey(entries[0])
	if w.s3Client != nil {
		if err := w.uploadToS3(key, data); err != nil {
			log.WithError(err).WithEnv("S3_BUCKET").Error("failed to upload daylog to S3")
			return
		}
	} else {
		path := filepath.Join(w.config.Storage.DayLog.Dir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.WithError(err).Error("failed to create daylog partition directory")
			return
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.WithError(err).Error("failed to write daylog file")
			return
		}
	}

	log.WithFields(logger.Fields{"key": key, "file_size": len(data)}).Info("daylog flushed successfully")
}

// generateKey builds a symbol/date partitioned object key.
func (w *DayLogWriter) generateKey(first models.DayLogEntry) string {
	symbol := w.config.Feed.Symbol
	date := time.UnixMilli(first.Timestamp).UTC().Format("2006-01-02")
	ts := time.Now().UTC().Format("20060102150405")
	filename := fmt.Sprintf("%s_daylog_%s_%s.parquet", symbol, ts, uuid.New().String()[:8])
	return fmt.Sprintf("symbol=%s/date=%s/%s", symbol, date, filename)
}

func (w *DayLogWriter) createParquetFile(entries []models.DayLogEntry) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := pqwriter.NewParquetWriter(fw, new(DayLogRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch w.config.Storage.DayLog.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	symbol := w.config.Feed.Symbol
	for _, entry := range entries {
		conditions, err := json.Marshal(entry.Conditions)
		if err != nil {
			conditions = []byte("[]")
		}
		record := DayLogRecord{
			Kind:       entry.Kind,
			Symbol:     symbol,
			Timestamp:  entry.Timestamp,
			Price:      entry.Price,
			Size:       entry.Size,
			Conditions: string(conditions),
			Exchange:   int32(entry.Exchange),
			Sequence:   entry.Sequence,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

func (w *DayLogWriter) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":        "parquet",
			"compression":         w.config.Storage.DayLog.Compression,
			"phantomflow-version": w.config.Phantomflow.Version,
		},
	}

	ctx := context.Background()
	if w.ctx != nil {
		ctx = context.WithoutCancel(w.ctx)
	}
	if _, err := w.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}
	return nil
}
