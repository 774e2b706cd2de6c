package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gorm.io/gorm"

	"github.com/sqlhealthpro/sqlhealthpro/internal/config"
	"github.com/sqlhealthpro/sqlhealthpro/pkg/logger"
)

// archiveTables 参与归档的表及其时间列
var archiveTables = map[string]string{
	"cpu_snapshots":           "collected_at",
	"memory_snapshots":        "collected_at",
	"io_snapshots":            "collected_at",
	"disk_snapshots":          "collected_at",
	"backup_snapshots":        "collected_at",
	"alwayson_snapshots":      "collected_at",
	"logchain_snapshots":      "collected_at",
	"dbstate_snapshots":       "collected_at",
	"criticalerror_snapshots": "collected_at",
	"maintenance_snapshots":   "collected_at",
	"tempdb_snapshots":        "collected_at",
	"autogrowth_snapshots":    "collected_at",
	"waits_snapshots":         "collected_at",
	"health_scores":           "computed_at",
}

// StoredObject 归档产物信息
type StoredObject struct {
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type"`
}

// ArchiveWriter 归档写入边界
type ArchiveWriter interface {
	Write(ctx context.Context, relPath string, data []byte) (StoredObject, error)
}

// ArchiveService 归档服务：超期快照与汇总分导出到对象存储后从SQLite清除
type ArchiveService struct {
	cfg    config.ArchiveConfig
	db     *gorm.DB
	writer ArchiveWriter

	mutex    sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewArchiveService 创建归档服务
func NewArchiveService(cfg config.ArchiveConfig, storageCfg config.StorageConfig, db *gorm.DB) *ArchiveService {
	return &ArchiveService{
		cfg:    cfg,
		db:     db,
		writer: newArchiveWriter(cfg, storageCfg),
	}
}

// Start 启动归档循环
func (s *ArchiveService) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return fmt.Errorf("archive service is already running")
	}
	if !s.cfg.Enabled {
		logger.Info("Archive service disabled")
		return nil
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.loop(ctx)

	logger.Info("Archive service started",
		"interval", s.cfg.Interval.String(),
		"retention", s.cfg.Retention.String(),
		"backend", s.cfg.StorageBackend)
	return nil
}

// Stop 停止归档循环
func (s *ArchiveService) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	close(s.stopChan)
	s.wg.Wait()

	logger.Info("Archive service stopped")
	return nil
}

func (s *ArchiveService) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce 执行一轮归档清理：逐表导出超期行并删除
func (s *ArchiveService) RunOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.Retention)
	stamp := time.Now().Format("20060102_150405")

	for table, timeColumn := range archiveTables {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.archiveTable(ctx, table, timeColumn, cutoff, stamp); err != nil {
			logger.Error("Archive sweep failed for table", "table", table, "error", err)
		}
	}
}

// archiveTable 单表处理：导出成功才删除，导出失败的行保留到下一轮
func (s *ArchiveService) archiveTable(ctx context.Context, table, timeColumn string, cutoff time.Time, stamp string) error {
	var rows []map[string]interface{}
	err := s.db.Table(table).
		Where(fmt.Sprintf("%s < ?", timeColumn), cutoff).
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("select expired rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}

	relPath := path.Join(table, fmt.Sprintf("%s.json", stamp))
	obj, err := s.writer.Write(ctx, relPath, data)
	if err != nil {
		return fmt.Errorf("write archive object: %w", err)
	}

	if err := s.db.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, timeColumn), cutoff,
	).Error; err != nil {
		return fmt.Errorf("prune archived rows: %w", err)
	}

	logger.Info("Table archived",
		"table", table, "rows", len(rows), "uri", obj.URI, "size", obj.Size)
	return nil
}

// newArchiveWriter 按配置构造写入器；minio后端初始化失败时回退本地
func newArchiveWriter(cfg config.ArchiveConfig, storageCfg config.StorageConfig) ArchiveWriter {
	local := &localArchiveWriter{cfg: cfg}
	if strings.EqualFold(strings.TrimSpace(cfg.StorageBackend), "minio") {
		if w := newMinioArchiveWriter(cfg, storageCfg.Minio); w != nil {
			return &fallbackArchiveWriter{primary: w, fallback: local}
		}
		logger.Warn("MinIO backend selected but client not initialized; archiving to local")
	}
	return local
}

// fallbackArchiveWriter 主后端失败时回退备用后端
type fallbackArchiveWriter struct {
	primary  ArchiveWriter
	fallback ArchiveWriter
}

func (w *fallbackArchiveWriter) Write(ctx context.Context, relPath string, data []byte) (StoredObject, error) {
	obj, err := w.primary.Write(ctx, relPath, data)
	if err == nil {
		return obj, nil
	}
	logger.Warn("Primary archive write failed; falling back to local", "error", err)

	obj, lerr := w.fallback.Write(ctx, relPath, data)
	if lerr != nil {
		return StoredObject{}, fmt.Errorf("primary write failed: %v; local fallback failed: %w", err, lerr)
	}
	return obj, nil
}

// localArchiveWriter 本地目录写入
type localArchiveWriter struct {
	cfg config.ArchiveConfig
}

func (w *localArchiveWriter) Write(ctx context.Context, relPath string, data []byte) (StoredObject, error) {
	baseDir := strings.TrimSpace(w.cfg.Local.BaseDir)
	if baseDir == "" {
		baseDir = "./data/archive"
	}

	parts := []string{baseDir}
	if p := strings.TrimSpace(w.cfg.Prefix); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, filepath.FromSlash(relPath))
	fullPath := filepath.Join(parts...)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return StoredObject{}, fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return StoredObject{}, fmt.Errorf("write archive file: %w", err)
	}

	sum := sha256.Sum256(data)
	return StoredObject{
		URI:         "file://" + fullPath,
		Size:        int64(len(data)),
		Checksum:    "sha256:" + hex.EncodeToString(sum[:]),
		ContentType: "application/json",
	}, nil
}

// minioArchiveWriter MinIO对象存储写入
type minioArchiveWriter struct {
	cfg           config.ArchiveConfig
	minioCfg      config.MinioConfig
	client        *minio.Client
	endpoint      string
	bucketEnsured bool
}

// newMinioArchiveWriter 初始化MinIO写入器；配置不全或不可达时返回nil
func newMinioArchiveWriter(cfg config.ArchiveConfig, minioCfg config.MinioConfig) *minioArchiveWriter {
	host := strings.TrimSpace(minioCfg.Host)
	if host == "" || minioCfg.Port <= 0 {
		logger.Warn("MinIO configuration incomplete; host/port missing")
		return nil
	}
	endpoint := fmt.Sprintf("%s:%d", host, minioCfg.Port)

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          16,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(minioCfg.AccessKey, minioCfg.SecretKey, ""),
		Secure:    minioCfg.Secure,
		Transport: transport,
	})
	if err != nil {
		logger.Error("MinIO client initialization failed", "error", err)
		return nil
	}

	w := &minioArchiveWriter{cfg: cfg, minioCfg: minioCfg, client: client, endpoint: endpoint}

	bucket := strings.TrimSpace(minioCfg.Bucket)
	if bucket == "" {
		logger.Warn("MinIO bucket not configured")
		return w
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.ensureBucket(ctx, bucket); err != nil {
		logger.Warn("MinIO bucket ensure at init failed", "error", err)
	} else {
		w.bucketEnsured = true
	}
	return w
}

func (w *minioArchiveWriter) Write(ctx context.Context, relPath string, data []byte) (StoredObject, error) {
	bucket := strings.TrimSpace(w.minioCfg.Bucket)
	if bucket == "" {
		return StoredObject{}, fmt.Errorf("minio bucket not configured")
	}

	if err := w.connectivityCheck(ctx); err != nil {
		return StoredObject{}, fmt.Errorf("minio connectivity failed to %s: %w", w.endpoint, err)
	}
	if !w.bucketEnsured {
		if err := w.ensureBucket(ctx, bucket); err != nil {
			return StoredObject{}, fmt.Errorf("minio ensure bucket failed: %w", err)
		}
		w.bucketEnsured = true
	}

	objectName := relPath
	if p := strings.TrimSpace(w.cfg.Prefix); p != "" {
		objectName = path.Join(p, relPath)
	}

	// 指数退避的有限重试
	var lastErr error
	for _, backoff := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		attemptCtx, cancel := context.WithTimeout(ctx, backoff)
		_, err := w.client.PutObject(attemptCtx, bucket, objectName,
			bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "application/json"})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		time.Sleep(backoff)
	}
	if lastErr != nil {
		return StoredObject{}, fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}

	sum := sha256.Sum256(data)
	return StoredObject{
		URI:         "minio://" + path.Join(bucket, objectName),
		Size:        int64(len(data)),
		Checksum:    "sha256:" + hex.EncodeToString(sum[:]),
		ContentType: "application/json",
	}, nil
}

func (w *minioArchiveWriter) connectivityCheck(ctx context.Context) error {
	d := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", w.endpoint)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

func (w *minioArchiveWriter) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := w.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return w.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}
