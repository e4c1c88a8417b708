package content

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

// ObjectGetter is the part of the S3 client the loader uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ParameterGetter is the part of the SSM client the loader uses.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// VersionMetadataKey is the S3 user metadata key carrying a bundle version.
const VersionMetadataKey = "version"

type LoaderOptions struct {
	Logger log.Logger

	// Bundles live at s3://{S3Bucket}/{S3Prefix}/{sha256}.tar.gz
	S3Bucket string
	S3Prefix string

	// SSMParam holds the sha256 of the bundle to serve. Hash pins one
	// bundle instead; exactly one of them is required.
	SSMParam string
	Hash     string

	// AWSConfig defaults to config.LoadDefaultConfig. S3 and SSM override the
	// clients built from it.
	AWSConfig *aws.Config
	S3        ObjectGetter
	SSM       ParameterGetter
}

type Loader struct {
	opts   LoaderOptions
	s3     ObjectGetter
	ssm    ParameterGetter
	logger log.Logger
}

func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if (opts.SSMParam == "") == (opts.Hash == "") {
		return nil, xerrors.New("exactly one of SSMParam or Hash is required")
	}
	if opts.Hash != "" && !ValidHash(opts.Hash) {
		return nil, xerrors.Newf("Hash %q is not a sha256 hex digest", opts.Hash)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	l := &Loader{opts: opts, s3: opts.S3, ssm: opts.SSM, logger: opts.Logger}
	if l.s3 != nil && (l.ssm != nil || opts.SSMParam == "") {
		return l, nil
	}

	var awsCfg aws.Config
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		var err error
		if awsCfg, err = config.LoadDefaultConfig(ctx); err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}
	if l.s3 == nil {
		l.s3 = s3.NewFromConfig(awsCfg)
	}
	if l.ssm == nil && opts.SSMParam != "" {
		l.ssm = ssm.NewFromConfig(awsCfg)
	}
	return l, nil
}

// Polls reports whether the bundle hash comes from SSM and can change.
func (l *Loader) Polls() bool { return l.opts.SSMParam != "" }

// FetchCurrentBundleHash returns the pinned hash or the SSM parameter value.
func (l *Loader) FetchCurrentBundleHash(ctx context.Context) (string, error) {
	if l.opts.Hash != "" {
		return strings.ToLower(l.opts.Hash), nil
	}
	out, err := l.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}
	hash := strings.ToLower(strings.TrimSpace(*out.Parameter.Value))
	if !ValidHash(hash) {
		return "", xerrors.Newf("SSM parameter %s does not hold a sha256 digest", l.opts.SSMParam)
	}
	return hash, nil
}

func (l *Loader) objectKey(hash string) string {
	if p := strings.Trim(l.opts.S3Prefix, "/"); p != "" {
		return p + "/" + hash + ".tar.gz"
	}
	return hash + ".tar.gz"
}

// LoadHash downloads the bundle named by hash, verifies its digest and
// extracts it into memory.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Snapshot, error) {
	key := l.objectKey(hash)
	l.logger.Info(ctx, "downloading content bundle", "bucket", l.opts.S3Bucket, "key", key)

	out, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	data, actual, err := readWithHash(out.Body, maxBundleSize)
	if err != nil {
		return nil, xerrors.Wrap(err, "download bundle")
	}
	if !hashEqual(actual, hash) {
		return nil, xerrors.Newf("checksum mismatch: expected %s, got %s", hash, actual)
	}

	fsys, err := extractTarGz(data)
	if err != nil {
		return nil, xerrors.Wrap(err, "extract bundle")
	}

	now := time.Now().UTC()
	snap := &Snapshot{
		FS: fsys,
		Meta: Meta{
			Version:    out.Metadata[VersionMetadataKey],
			SHA256:     hash,
			Location:   "s3://" + l.opts.S3Bucket + "/" + key,
			VerifiedAt: now,
			Source:     SourceS3,
		},
		LoadedAt: now,
	}
	l.logger.Info(ctx, "loaded content bundle",
		"sha256", hash,
		"version", snap.Meta.Version,
		"bytes", len(data),
	)
	return snap, nil
}

// Load fetches the current hash and its bundle.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	hash, err := l.FetchCurrentBundleHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}
