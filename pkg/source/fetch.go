package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrMissingFile signale une table absente de l'instantané.
var ErrMissingFile = errors.New("missing file")

// Fetcher ouvre un fichier CSV de l'instantané par son nom (ex: "FactSales.csv").
type Fetcher interface {
	Fetch(ctx context.Context, name string) (io.ReadCloser, error)
	Location() string
}

// DirFetcher lit les fichiers d'un répertoire local (APP_DATA_DIR).
type DirFetcher struct {
	Dir string
}

func (f DirFetcher) Fetch(_ context.Context, name string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(f.Dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", ErrMissingFile, name, f.Dir)
		}
		return nil, err
	}
	return file, nil
}

func (f DirFetcher) Location() string { return f.Dir }

// S3API est le sous-ensemble du client S3 utilisé ici.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher lit les fichiers sous s3://Bucket/Prefix/.
type S3Fetcher struct {
	Client S3API
	Bucket string
	Prefix string
}

// NewS3Fetcher construit le client depuis la configuration AWS par défaut
// (profil partagé optionnel).
func NewS3Fetcher(ctx context.Context, bucket, prefix, region, profile string) (*S3Fetcher, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &S3Fetcher{Client: s3.NewFromConfig(cfg), Bucket: bucket, Prefix: prefix}, nil
}

func (f *S3Fetcher) objectKey(name string) string {
	prefix := strings.Trim(f.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func (f *S3Fetcher) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	key := f.objectKey(name)
	out, err := f.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s in s3://%s", ErrMissingFile, key, f.Bucket)
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	return out.Body, nil
}

func (f *S3Fetcher) Location() string {
	return "s3://" + path.Join(f.Bucket, strings.Trim(f.Prefix, "/"))
}
