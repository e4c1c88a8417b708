package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

const (
	testBucket   = "test-bucket"
	testPrefix   = "bundles"
	testSSMParam = "/demo/content/hash"
)

func sha256hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// makeTarGz builds a gzipped tarball with one regular file per entry.
func makeTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, n := range names {
		body := entries[n]
		hdr := &tar.Header{Name: n, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", n, err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// makeTarGzEntry builds a tarball holding a single header of the given type.
func makeTarGzEntry(t *testing.T, name string, typeflag byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	hdr := &tar.Header{Name: name, Mode: 0o644, Typeflag: typeflag, Linkname: "target"}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	tw.Close()
	gw.Close()
	return buf.Bytes()
}

type fakeObject struct {
	data    []byte
	version string
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	err     error
	gets    int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]fakeObject{}} }

func (f *fakeS3) put(key string, data []byte, version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{data: data, version: version}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	if aws.ToString(in.Bucket) != testBucket {
		return nil, errors.New("no such bucket")
	}
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("no such key")
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}
	if obj.version != "" {
		out.Metadata = map[string]string{VersionMetadataKey: obj.version}
	}
	return out, nil
}

type fakeSSM struct {
	mu    sync.Mutex
	value string
	err   error
	calls int
}

func (f *fakeSSM) set(v string) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if aws.ToString(in.Name) != testSSMParam {
		return nil, errors.New("parameter not found")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(f.value)}}, nil
}

// newTestLoader wires fakes into a Loader reading hashes from SSM.
func newTestLoader(t *testing.T, s *fakeS3, p *fakeSSM) *Loader {
	t.Helper()
	l, err := NewLoader(t.Context(), LoaderOptions{
		S3Bucket: testBucket,
		S3Prefix: testPrefix,
		SSMParam: testSSMParam,
		S3:       s,
		SSM:      p,
	})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

// storeBundle uploads a bundle built from files and returns its hash.
func storeBundle(t *testing.T, s *fakeS3, files map[string]string, version string) string {
	t.Helper()
	data := makeTarGz(t, files)
	hash := sha256hex(data)
	s.put(testPrefix+"/"+hash+".tar.gz", data, version)
	return hash
}
