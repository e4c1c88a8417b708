package content

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestNewLoader_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts LoaderOptions
	}{
		{"missing bucket", LoaderOptions{SSMParam: testSSMParam}},
		{"neither source", LoaderOptions{S3Bucket: testBucket}},
		{"both sources", LoaderOptions{S3Bucket: testBucket, SSMParam: testSSMParam, Hash: sha256hex(nil)}},
		{"bad hash", LoaderOptions{S3Bucket: testBucket, Hash: "not-a-hash"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader(t.Context(), tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoader_ObjectKey(t *testing.T) {
	tests := []struct {
		prefix, want string
	}{
		{"", "abc.tar.gz"},
		{"bundles", "bundles/abc.tar.gz"},
		{"/bundles/", "bundles/abc.tar.gz"},
	}
	for _, tt := range tests {
		l := &Loader{opts: LoaderOptions{S3Prefix: tt.prefix}}
		if got := l.objectKey("abc"); got != tt.want {
			t.Errorf("prefix %q: objectKey = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestLoader_FetchHashFromSSM(t *testing.T) {
	want := sha256hex([]byte("bundle"))
	p := &fakeSSM{value: "  " + strings.ToUpper(want) + "\n"}
	l := newTestLoader(t, newFakeS3(), p)
	if !l.Polls() {
		t.Fatal("SSM-backed loader should poll")
	}
	got, err := l.FetchCurrentBundleHash(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("hash = %q, want %q", got, want)
	}
}

func TestLoader_FetchHash_InvalidValue(t *testing.T) {
	l := newTestLoader(t, newFakeS3(), &fakeSSM{value: "latest"})
	if _, err := l.FetchCurrentBundleHash(t.Context()); err == nil {
		t.Fatal("expected error for non-digest value")
	}
}

func TestLoader_FetchHash_SSMError(t *testing.T) {
	l := newTestLoader(t, newFakeS3(), &fakeSSM{err: errors.New("throttled")})
	_, err := l.FetchCurrentBundleHash(t.Context())
	if err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Fatalf("err = %v, want wrapped throttled", err)
	}
}

func TestLoader_PinnedHash(t *testing.T) {
	s := newFakeS3()
	hash := storeBundle(t, s, map[string]string{"index.html": "pinned"}, "v1")
	l, err := NewLoader(t.Context(), LoaderOptions{
		S3Bucket: testBucket,
		S3Prefix: testPrefix,
		Hash:     hash,
		S3:       s,
	})
	if err != nil {
		t.Fatal(err)
	}
	if l.Polls() {
		t.Fatal("pinned loader should not poll")
	}
	snap, err := l.Load(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := fs.ReadFile(snap.FS, "index.html")
	if string(b) != "pinned" {
		t.Fatalf("index.html = %q", b)
	}
}

func TestLoader_LoadHash(t *testing.T) {
	s := newFakeS3()
	hash := storeBundle(t, s, map[string]string{"index.html": "<p>v2</p>", "app.js": "x"}, "v2")
	l := newTestLoader(t, s, &fakeSSM{value: hash})

	snap, err := l.Load(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Meta.SHA256 != hash {
		t.Errorf("SHA256 = %q", snap.Meta.SHA256)
	}
	if snap.Meta.Version != "v2" {
		t.Errorf("Version = %q, want v2", snap.Meta.Version)
	}
	if snap.Meta.Source != SourceS3 {
		t.Errorf("Source = %q", snap.Meta.Source)
	}
	if want := "s3://" + testBucket + "/" + testPrefix + "/" + hash + ".tar.gz"; snap.Meta.Location != want {
		t.Errorf("Location = %q, want %q", snap.Meta.Location, want)
	}
	if snap.LoadedAt.IsZero() || snap.Meta.VerifiedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestLoader_LoadHash_ChecksumMismatch(t *testing.T) {
	s := newFakeS3()
	data := makeTarGz(t, map[string]string{"index.html": "real"})
	wrong := sha256hex([]byte("something else"))
	s.put(testPrefix+"/"+wrong+".tar.gz", data, "")
	l := newTestLoader(t, s, &fakeSSM{value: wrong})

	_, err := l.LoadHash(t.Context(), wrong)
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("err = %v, want checksum mismatch", err)
	}
}

func TestLoader_LoadHash_MissingObject(t *testing.T) {
	l := newTestLoader(t, newFakeS3(), &fakeSSM{})
	if _, err := l.LoadHash(t.Context(), sha256hex([]byte("absent"))); err == nil {
		t.Fatal("expected error for missing object")
	}
}
