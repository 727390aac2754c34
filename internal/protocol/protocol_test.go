package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReadRequestParsesFields(t *testing.T) {
	in := []byte("req1\t/home/user/proj\t1\x00")
	r := NewReader(bytes.NewReader(in))
	req, err := r.ReadRequest()
	if err != nil {
		t.Fatal(err)
	}
	if req.ID != "req1" || req.Dir != "/home/user/proj" || !req.Diag {
		t.Fatalf("got %+v", req)
	}
}

func TestReadRequestWithoutDiag(t *testing.T) {
	in := []byte("a\t/x\x00")
	r := NewReader(bytes.NewReader(in))
	req, err := r.ReadRequest()
	if err != nil {
		t.Fatal(err)
	}
	if req.Diag {
		t.Fatal("expected Diag=false")
	}
}

func TestReadRequestMultipleRecords(t *testing.T) {
	in := []byte("a\t/x\x00b\t/y\x00")
	r := NewReader(bytes.NewReader(in))
	req1, err := r.ReadRequest()
	if err != nil {
		t.Fatal(err)
	}
	req2, err := r.ReadRequest()
	if err != nil {
		t.Fatal(err)
	}
	if req1.ID != "a" || req2.ID != "b" {
		t.Fatalf("got %+v, %+v", req1, req2)
	}
	if _, err := r.ReadRequest(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadRequestMalformedReturnsErrParse(t *testing.T) {
	cases := [][]byte{
		[]byte("onlyid\x00"),
		[]byte("a\tb\tc\td\x00"),
		[]byte("a\t/x\tbad\x00"),
	}
	for _, in := range cases {
		r := NewReader(bytes.NewReader(in))
		_, err := r.ReadRequest()
		if !errors.Is(err, ErrParse) {
			t.Errorf("input %q: got %v, want ErrParse", in, err)
		}
	}
}

func TestWriteResponseNotARepo(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteResponse(Response{ID: "q1", IsRepo: false}); err != nil {
		t.Fatal(err)
	}
	want := "q1\t0\x00"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestWriteResponseFullRecord(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	resp := Response{
		ID:             "q2",
		IsRepo:         true,
		Workdir:        "/home/user/proj",
		Commit:         "deadbeef",
		LocalBranch:    "main",
		UpstreamBranch: "main",
		RemoteURL:      "git@example.com:proj.git",
		RepoState:      "",
		HasStaged:      0,
		HasUnstaged:    1,
		HasUntracked:   -1,
		Ahead:          2,
		Behind:         0,
		NumStashes:     3,
		Tag:            "v1.0",
	}
	if err := w.WriteResponse(resp); err != nil {
		t.Fatal(err)
	}
	want := "q2\t1\t/home/user/proj\tdeadbeef\tmain\tmain\tgit@example.com:proj.git\t\t0\t1\t-1\t2\t0\t3\tv1.0\x00"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}
