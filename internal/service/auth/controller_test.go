package auth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/zhouzirui/jarvis-connect/backend/internal/service/imaging"
	"github.com/zhouzirui/jarvis-connect/backend/internal/store"
)

func newTestStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	backend, err := store.NewMemoryProvider().Open(t.Name())
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	return store.New(backend, opts...)
}

func newTestController(t *testing.T, st *store.Store, authenticator Authenticator) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RedirectDelay = 0
	if authenticator == nil {
		authenticator = SimulatedAuthenticator{}
	}
	return NewController(st, authenticator, cfg, nil)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func selectPNG(t *testing.T, c *Controller, name string) Candidate {
	t.Helper()
	data := pngBytes(t, 300, 200)
	cand, err := c.SelectFile(context.Background(), imaging.File{Name: name, Size: int64(len(data)), Type: "image/png"}, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("SelectFile err: %v", err)
	}
	return cand
}

func TestSubmitDisabledForShortUsernames(t *testing.T) {
	c := newTestController(t, newTestStore(t), nil)
	selectPNG(t, c, "scan.png")

	for _, name := range []string{"", "a", "  a  ", "   ", "<b></b>x"} {
		if c.SetUsername(name).CanSubmit {
			t.Fatalf("expected submit disabled for %q", name)
		}
	}
	if !c.SetUsername(" ab ").CanSubmit {
		t.Fatal("expected submit enabled for a two character name with an image")
	}
}

func TestSubmitDisabledWithoutImage(t *testing.T) {
	c := newTestController(t, newTestStore(t), nil)
	if c.SetUsername("Tony Stark").CanSubmit {
		t.Fatal("expected submit disabled without an image")
	}
}

func TestSelectFileRejectsInvalidUpload(t *testing.T) {
	c := newTestController(t, newTestStore(t), nil)

	_, err := c.SelectFile(context.Background(), imaging.File{Name: "doc.pdf", Size: 10, Type: "application/pdf"}, bytes.NewReader(nil))
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "image" {
		t.Fatalf("expected image validation error, got %v", err)
	}

	fs := c.Snapshot()
	if fs.State != Idle {
		t.Fatalf("expected idle state, got %s", fs.State)
	}
	if fs.ImageError == "" || fs.Candidate != nil {
		t.Fatalf("expected inline error and no candidate, got %+v", fs)
	}
}

func TestSelectFileReportsDecodeFailure(t *testing.T) {
	c := newTestController(t, newTestStore(t), nil)

	_, err := c.SelectFile(context.Background(), imaging.File{Name: "fake.png", Size: 4, Type: "image/png"}, bytes.NewReader([]byte("nope")))
	if !errors.Is(err, imaging.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if got := c.Snapshot().ImageError; got != MsgImageFailed {
		t.Fatalf("unexpected image error %q", got)
	}
}

func TestSelectFileRejectsOversizedDimensions(t *testing.T) {
	c := newTestController(t, newTestStore(t), nil)

	// PNG signature plus an IHDR declaring 10000x9000 8-bit grayscale.
	var ihdr bytes.Buffer
	ihdr.WriteString("IHDR")
	_ = binary.Write(&ihdr, binary.BigEndian, uint32(10000))
	_ = binary.Write(&ihdr, binary.BigEndian, uint32(9000))
	ihdr.Write([]byte{8, 0, 0, 0, 0})
	var data bytes.Buffer
	data.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&data, binary.BigEndian, uint32(ihdr.Len()-4))
	data.Write(ihdr.Bytes())
	_ = binary.Write(&data, binary.BigEndian, crc32.ChecksumIEEE(ihdr.Bytes()))

	_, err := c.SelectFile(context.Background(), imaging.File{Name: "huge.png", Size: int64(data.Len()), Type: "image/png"}, &data)
	if !errors.Is(err, imaging.ErrTooManyPixels) {
		t.Fatalf("expected dimension error, got %v", err)
	}
	if got := c.Snapshot().ImageError; got != MsgImageFailed {
		t.Fatalf("unexpected image error %q", got)
	}
}

func TestReselectReplacesCandidateAndClearsError(t *testing.T) {
	c := newTestController(t, newTestStore(t), nil)
	first := selectPNG(t, c, "first.png")

	if _, err := c.SelectFile(context.Background(), imaging.File{Name: "bad.txt", Size: 1, Type: "text/plain"}, nil); err == nil {
		t.Fatal("expected validation error")
	}
	if c.Snapshot().ImageError == "" {
		t.Fatal("expected image error after invalid selection")
	}

	second := selectPNG(t, c, "second.png")
	fs := c.Snapshot()
	if fs.ImageError != "" {
		t.Fatalf("expected image error cleared, got %q", fs.ImageError)
	}
	if fs.Candidate == nil || fs.Candidate.Filename != "second.png" || fs.Candidate.Seq <= first.Seq {
		t.Fatalf("expected second candidate to replace first, got %+v", fs.Candidate)
	}
	if second.Seq != fs.Candidate.Seq {
		t.Fatalf("snapshot seq %d does not match selection %d", fs.Candidate.Seq, second.Seq)
	}
}

func TestSlowResizeOfOlderSelectionIsDiscarded(t *testing.T) {
	c := newTestController(t, newTestStore(t), nil)

	release := make(chan struct{})
	started := make(chan struct{})
	calls := 0
	c.resize = func(ctx context.Context, r io.Reader, w, h int, q float64) (string, error) {
		calls++
		if calls == 1 {
			close(started)
			<-release
			return "data:image/jpeg;base64,OLD", nil
		}
		return "data:image/jpeg;base64,NEW", nil
	}

	file := imaging.File{Name: "old.png", Size: 10, Type: "image/png"}
	errCh := make(chan error, 1)
	go func() {
		_, err := c.SelectFile(context.Background(), file, bytes.NewReader(nil))
		errCh <- err
	}()
	<-started

	newer := imaging.File{Name: "new.png", Size: 10, Type: "image/png"}
	if _, err := c.SelectFile(context.Background(), newer, bytes.NewReader(nil)); err != nil {
		t.Fatalf("newer selection err: %v", err)
	}
	close(release)

	if err := <-errCh; !errors.Is(err, ErrStaleSelection) {
		t.Fatalf("expected stale selection error, got %v", err)
	}
	fs := c.Snapshot()
	if fs.Candidate == nil || fs.Candidate.Filename != "new.png" || fs.Candidate.Thumbnail != "data:image/jpeg;base64,NEW" {
		t.Fatalf("expected newest selection to win, got %+v", fs.Candidate)
	}
	if fs.State != FileSelected {
		t.Fatalf("expected file_selected, got %s", fs.State)
	}
}

func TestSubmitWritesIdentityAndRedirects(t *testing.T) {
	st := newTestStore(t)
	c := newTestController(t, st, nil)
	fixed := time.Date(2025, 5, 4, 20, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	cand := selectPNG(t, c, "scan.png")

	target, err := c.Submit(context.Background(), "  Tony Stark ")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if target != ChatPath {
		t.Fatalf("expected redirect to %s, got %s", ChatPath, target)
	}

	id, ok := st.LoadIdentity()
	if !ok {
		t.Fatal("expected identity in store")
	}
	if id.DisplayName != "Tony Stark" || id.Avatar != cand.Thumbnail {
		t.Fatalf("unexpected identity %+v", id)
	}
	if id.SessionID != "session_1746388800000" {
		t.Fatalf("unexpected session id %s", id.SessionID)
	}
	if !id.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected created at %v", id.CreatedAt)
	}

	fs := c.Snapshot()
	if fs.State != Redirecting || fs.Candidate != nil || fs.CanSubmit {
		t.Fatalf("expected terminal redirecting state, got %+v", fs)
	}
	if target, ok := c.CheckExisting(); !ok || target != ChatPath {
		t.Fatal("expected existing identity to redirect to chat")
	}
}

func TestSubmitRequiresImage(t *testing.T) {
	c := newTestController(t, newTestStore(t), nil)

	_, err := c.Submit(context.Background(), "Tony")
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Message != MsgMissingImage {
		t.Fatalf("expected missing image error, got %v", err)
	}
}

func TestSubmitRejectsShortUsername(t *testing.T) {
	c := newTestController(t, newTestStore(t), nil)
	selectPNG(t, c, "scan.png")

	_, err := c.Submit(context.Background(), " x ")
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Message != MsgInvalidUsername {
		t.Fatalf("expected username error, got %v", err)
	}
	if !c.Snapshot().UsernameInvalid {
		t.Fatal("expected username to be flagged invalid")
	}
}

func TestSubmitStoreFailureReturnsToFileSelected(t *testing.T) {
	st := newTestStore(t, store.WithQuota(16))
	c := newTestController(t, st, nil)
	selectPNG(t, c, "scan.png")

	_, err := c.Submit(context.Background(), "Tony")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	fs := c.Snapshot()
	if fs.State != FileSelected || fs.Candidate == nil {
		t.Fatalf("expected form back in file_selected with candidate, got %+v", fs)
	}
	if _, ok := c.CheckExisting(); ok {
		t.Fatal("no identity should have been stored")
	}
}

type blockingAuthenticator struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingAuthenticator) Authenticate(ctx context.Context, _, _ string) error {
	close(b.entered)
	<-b.release
	return nil
}

func TestSecondSubmitWhileSubmittingIsRejected(t *testing.T) {
	authn := blockingAuthenticator{entered: make(chan struct{}), release: make(chan struct{})}
	c := newTestController(t, newTestStore(t), authn)
	selectPNG(t, c, "scan.png")

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), "Tony")
		done <- err
	}()
	<-authn.entered

	if _, err := c.Submit(context.Background(), "Tony"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy error, got %v", err)
	}
	if c.CanSubmit() {
		t.Fatal("submit must be disabled while submitting")
	}
	close(authn.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit err: %v", err)
	}
}

func TestResetClearsForm(t *testing.T) {
	c := newTestController(t, newTestStore(t), nil)
	selectPNG(t, c, "scan.png")
	c.SetUsername("Tony")

	fs := c.Reset()
	if fs.State != Idle || fs.Candidate != nil || fs.Username != "" || fs.CanSubmit {
		t.Fatalf("expected empty idle form, got %+v", fs)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"<b>Tony</b>":                 "Tony",
		"Tom & Jerry":                 "Tom & Jerry",
		"<script>x()</script>Pepper": "Pepper",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSimulatedAuthenticatorHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SimulatedAuthenticator{Delay: time.Hour}.Authenticate(ctx, "Tony", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
