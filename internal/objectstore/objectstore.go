// Пакет objectstore — доступ к файлам факсов в S3: выдача presigned URL
// на загрузку и скачивание, проверка наличия объекта.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrNotFound — объекта нет в bucket.
var ErrNotFound = errors.New("объект не найден в хранилище")

// Параметры загружаемого файла.
const (
	// ContentType — тип файла факса
	ContentType = "image/tiff"
	// ServerSideEncryption — шифрование объекта на стороне S3
	ServerSideEncryption = types.ServerSideEncryptionAes256
)

// Сроки действия URL по умолчанию (минуты).
const (
	DefaultUploadExpiryMinutes   = 15
	DefaultDownloadExpiryMinutes = 10
)

// S3API — подмножество клиента S3, используемое пакетом.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Presigner — подмножество s3.PresignClient.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ExpirySource — источник сроков действия URL (кэшированные параметры).
type ExpirySource interface {
	MinutesOr(ctx context.Context, name string, def int) time.Duration
}

// ExpiryParams — имена параметров со сроками действия URL.
type ExpiryParams struct {
	Upload   string
	Download string
}

// ObjectInfo — метаданные объекта из HEAD.
type ObjectInfo struct {
	// ETag без кавычек (MD5 для однокомпонентной загрузки)
	ETag          string
	ContentLength int64
	Metadata      map[string]string
}

// Issuer выдаёт presigned URL для файлов факсов и проверяет их наличие.
type Issuer struct {
	client    S3API
	presigner Presigner
	bucket    string
	expiry    ExpirySource
	params    ExpiryParams
	logger    *slog.Logger
}

// NewIssuer создаёт Issuer для bucket.
func NewIssuer(client S3API, presigner Presigner, bucket string, expiry ExpirySource, params ExpiryParams, logger *slog.Logger) *Issuer {
	return &Issuer{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
		expiry:    expiry,
		params:    params,
		logger:    logger.With(slog.String("component", "objectstore")),
	}
}

// UploadURL возвращает URL для PUT файла факса с ключом key.
// Загрузка должна передать Content-Type image/tiff, метаданные и SSE AES256,
// иначе подпись не совпадёт.
func (i *Issuer) UploadURL(ctx context.Context, key string, metadata map[string]string) (string, error) {
	ttl := i.expiry.MinutesOr(ctx, i.params.Upload, DefaultUploadExpiryMinutes)

	req, err := i.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(i.bucket),
		Key:                  aws.String(key),
		ContentType:          aws.String(ContentType),
		Metadata:             metadata,
		ServerSideEncryption: ServerSideEncryption,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("ошибка подписи URL загрузки %s: %w", key, err)
	}

	i.logger.Debug("Выдан URL загрузки",
		slog.String("key", key),
		slog.Duration("expires", ttl),
	)
	return req.URL, nil
}

// DownloadURL возвращает URL для GET файла с ключом key.
// Наличие объекта не проверяется.
func (i *Issuer) DownloadURL(ctx context.Context, key string) (string, error) {
	ttl := i.expiry.MinutesOr(ctx, i.params.Download, DefaultDownloadExpiryMinutes)

	req, err := i.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(i.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("ошибка подписи URL скачивания %s: %w", key, err)
	}
	return req.URL, nil
}

// Head возвращает метаданные объекта. ErrNotFound — объекта нет.
func (i *Issuer) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := i.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(i.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("ошибка HEAD объекта %s: %w", key, err)
	}

	return &ObjectInfo{
		ETag:          NormalizeETag(aws.ToString(out.ETag)),
		ContentLength: aws.ToInt64(out.ContentLength),
		Metadata:      out.Metadata,
	}, nil
}

// Exists проверяет наличие объекта. Ошибка возвращается только при сбое S3.
func (i *Issuer) Exists(ctx context.Context, key string) (bool, error) {
	_, err := i.Head(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NormalizeETag убирает кавычки вокруг ETag.
func NormalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// isNotFound распознаёт отсутствие объекта: HEAD не возвращает тело,
// поэтому S3 отвечает кодом NotFound, а GET — NoSuchKey.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
