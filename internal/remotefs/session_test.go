package remotefs

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/websoft9/sftpdesk/internal/retry"
	"github.com/websoft9/sftpdesk/internal/sandbox/sandboxtest"
)

func testClient(opts Options) *Client {
	nop := zerolog.Nop()
	opts.Logger = &nop
	return New(opts)
}

func paramsFor(srv *sandboxtest.Server) Params {
	return Params{
		Host:     srv.Host,
		Port:     srv.Port,
		Username: sandboxtest.User,
		Password: sandboxtest.Password,
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		t.Fatal(err)
	}
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// freePort returns a loopback port with nothing listening on it.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// ---- Listing ---------------------------------------------------------------

func TestListFiles(t *testing.T) {
	srv := sandboxtest.Start(t)
	writeFile(t, filepath.Join(srv.Root, "docs", "a.txt"), []byte("12345"))
	writeFile(t, filepath.Join(srv.Root, "docs", "empty"), nil)
	if err := os.Mkdir(filepath.Join(srv.Root, "docs", "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	entries, err := testClient(Options{}).ListFiles(context.Background(), paramsFor(srv), "/docs")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	if len(entries) != 3 {
		t.Fatalf("entries: got %+v", entries)
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			t.Fatalf("pseudo-entry %q returned", e.Name)
		}
	}

	a, empty, sub := entries[0], entries[1], entries[2]
	if a.Name != "a.txt" || a.IsDir || a.Size == nil || *a.Size != 5 {
		t.Errorf("a.txt: %+v", a)
	}
	if empty.Name != "empty" || empty.Size == nil || *empty.Size != 0 {
		t.Errorf("empty: %+v", empty)
	}
	if sub.Name != "sub" || !sub.IsDir || sub.Size != nil {
		t.Errorf("sub: %+v", sub)
	}
}

func TestListFilesInvalidUTF8Name(t *testing.T) {
	srv := sandboxtest.Start(t)
	if err := os.WriteFile(filepath.Join(srv.Root, "bad\xffname"), []byte("x"), 0o644); err != nil {
		t.Skip("filesystem rejects non UTF-8 names:", err)
	}

	entries, err := testClient(Options{}).ListFiles(context.Background(), paramsFor(srv), "/")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "" {
		t.Fatalf("entries: got %+v, want one entry with empty name", entries)
	}
}

func TestListFilesErrors(t *testing.T) {
	srv := sandboxtest.Start(t)
	writeFile(t, filepath.Join(srv.Root, "file.txt"), []byte("x"))
	c := testClient(Options{})

	_, err := c.ListFiles(context.Background(), paramsFor(srv), "/missing")
	if StepOf(err) != StepOpenDir {
		t.Fatalf("missing dir: got step %v (%v)", StepOf(err), err)
	}

	_, err = c.ListFiles(context.Background(), paramsFor(srv), "/file.txt")
	if StepOf(err) != StepOpenDir || !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("file as dir: got %v", err)
	}
}

// ---- Transfers -------------------------------------------------------------

func TestDownloadUploadRoundTrip(t *testing.T) {
	srv := sandboxtest.Start(t)
	original := randomBytes(t, 3*copyBufferSize+123)
	writeFile(t, filepath.Join(srv.Root, "in", "blob.bin"), original)

	c := testClient(Options{})
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "blob.bin")

	if err := c.DownloadFile(ctx, paramsFor(srv), "/in/blob.bin", local); err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if err := c.UploadFile(ctx, paramsFor(srv), local, "/in/copy.bin"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(srv.Root, "in", "copy.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, original) {
		t.Fatal("round trip changed the content")
	}
}

func TestZeroByteTransfers(t *testing.T) {
	srv := sandboxtest.Start(t)
	writeFile(t, filepath.Join(srv.Root, "zero"), nil)
	c := testClient(Options{})
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "zero")
	if err := c.DownloadFile(ctx, paramsFor(srv), "/zero", local); err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if info, err := os.Stat(local); err != nil || info.Size() != 0 {
		t.Fatalf("local zero file: %v %v", info, err)
	}

	if err := c.UploadFile(ctx, paramsFor(srv), local, "/zero-up"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if info, err := os.Stat(filepath.Join(srv.Root, "zero-up")); err != nil || info.Size() != 0 {
		t.Fatalf("remote zero file: %v %v", info, err)
	}
}

func TestDownloadTruncatesExistingLocal(t *testing.T) {
	srv := sandboxtest.Start(t)
	writeFile(t, filepath.Join(srv.Root, "short"), []byte("new"))
	local := filepath.Join(t.TempDir(), "short")
	writeFile(t, local, []byte("much longer old content"))

	if err := testClient(Options{}).DownloadFile(context.Background(), paramsFor(srv), "/short", local); err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	got, _ := os.ReadFile(local)
	if string(got) != "new" {
		t.Fatalf("content: got %q, want %q", got, "new")
	}
}

func TestDownloadMissingRemoteCreatesNoLocalFile(t *testing.T) {
	srv := sandboxtest.Start(t)
	local := filepath.Join(t.TempDir(), "never")

	err := testClient(Options{}).DownloadFile(context.Background(), paramsFor(srv), "/nope", local)
	if StepOf(err) != StepRemoteOpen {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
	if _, statErr := os.Stat(local); !os.IsNotExist(statErr) {
		t.Fatalf("local file should not exist, stat err = %v", statErr)
	}
}

func TestDownloadLocalCreateError(t *testing.T) {
	srv := sandboxtest.Start(t)
	writeFile(t, filepath.Join(srv.Root, "f"), []byte("x"))
	local := filepath.Join(t.TempDir(), "no", "such", "dir", "f")

	err := testClient(Options{}).DownloadFile(context.Background(), paramsFor(srv), "/f", local)
	if StepOf(err) != StepLocalCreate {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
}

func TestUploadMissingLocalCreatesNoRemoteFile(t *testing.T) {
	srv := sandboxtest.Start(t)

	err := testClient(Options{}).UploadFile(context.Background(), paramsFor(srv), filepath.Join(t.TempDir(), "nope"), "/target")
	if StepOf(err) != StepLocalOpen {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
	if _, statErr := os.Stat(filepath.Join(srv.Root, "target")); !os.IsNotExist(statErr) {
		t.Fatalf("remote file should not exist, stat err = %v", statErr)
	}
}

func TestUploadRemoteCreateError(t *testing.T) {
	srv := sandboxtest.Start(t)
	local := filepath.Join(t.TempDir(), "f")
	writeFile(t, local, []byte("x"))

	err := testClient(Options{}).UploadFile(context.Background(), paramsFor(srv), local, "/missing-dir/f")
	if StepOf(err) != StepRemoteCreate {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
}

func TestUploadSetsMode0644(t *testing.T) {
	srv := sandboxtest.Start(t)
	local := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(local, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := testClient(Options{}).UploadFile(context.Background(), paramsFor(srv), local, "/f"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	info, err := os.Stat(filepath.Join(srv.Root, "f"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("mode: got %o, want 644", info.Mode().Perm())
	}
}

// ---- Session setup failures ------------------------------------------------

func TestBadCredentialsFailAtAuth(t *testing.T) {
	srv := sandboxtest.Start(t)
	writeFile(t, filepath.Join(srv.Root, "f"), []byte("x"))
	p := paramsFor(srv)
	p.Password = "wrong"
	c := testClient(Options{})
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "f")

	_, err := c.ListFiles(ctx, p, "/")
	if StepOf(err) != StepAuth {
		t.Errorf("list: got step %v (%v)", StepOf(err), err)
	}
	if err := c.DownloadFile(ctx, p, "/f", local); StepOf(err) != StepAuth {
		t.Errorf("download: got step %v (%v)", StepOf(err), err)
	}
	if _, statErr := os.Stat(local); !os.IsNotExist(statErr) {
		t.Errorf("download with bad credentials created a local file")
	}
	writeFile(t, local, []byte("y"))
	if err := c.UploadFile(ctx, p, local, "/g"); StepOf(err) != StepAuth {
		t.Errorf("upload: got step %v (%v)", StepOf(err), err)
	}
	if _, statErr := os.Stat(filepath.Join(srv.Root, "g")); !os.IsNotExist(statErr) {
		t.Errorf("upload with bad credentials created a remote file")
	}
	if srv.Accepted() != 0 {
		t.Errorf("Accepted: got %d, want 0", srv.Accepted())
	}
}

func TestConnectRefused(t *testing.T) {
	p := Params{Host: "127.0.0.1", Port: freePort(t), Username: "u", Password: "p"}
	_, err := testClient(Options{DialTimeout: 2 * time.Second}).ListFiles(context.Background(), p, "/")
	if StepOf(err) != StepConnect {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
}

func TestConnectCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Params{Host: "127.0.0.1", Port: freePort(t)}
	_, err := testClient(Options{}).Connect(ctx, p)
	if StepOf(err) != StepConnect {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
}

// startGarbageServer answers every connection with a non-SSH banner.
func startGarbageServer(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
			_ = conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestHandshakeFailure(t *testing.T) {
	p := Params{Host: "127.0.0.1", Port: startGarbageServer(t), Username: "u", Password: "p"}
	_, err := testClient(Options{}).ListFiles(context.Background(), p, "/")
	if StepOf(err) != StepHandshake {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
}

// startSSHServer runs a throwaway SSH server. Every password is passed to
// auth and every new channel to handle.
func startSSHServer(t *testing.T, auth func() error, handle func(ssh.NewChannel)) int {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
			return nil, auth()
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				sc, chans, reqs, err := ssh.NewServerConn(conn, cfg)
				if err != nil {
					return
				}
				defer sc.Close()
				go ssh.DiscardRequests(reqs)
				for nc := range chans {
					go handle(nc)
				}
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func acceptAll() error { return nil }

// startChannelRejectingServer authenticates anyone and refuses every channel.
func startChannelRejectingServer(t *testing.T) int {
	return startSSHServer(t, acceptAll, func(nc ssh.NewChannel) {
		_ = nc.Reject(ssh.Prohibited, "no channels here")
	})
}

// startSFTPServer authenticates anyone and serves h on the sftp subsystem.
func startSFTPServer(t *testing.T, h sftp.Handlers) int {
	return startSSHServer(t, acceptAll, func(nc ssh.NewChannel) {
		ch, reqs, err := nc.Accept()
		if err != nil {
			return
		}
		defer ch.Close()
		started := make(chan struct{})
		go func() {
			for req := range reqs {
				ok := req.Type == "subsystem"
				_ = req.Reply(ok, nil)
				if ok {
					close(started)
				}
			}
		}()
		<-started
		srv := sftp.NewRequestServer(ch, h)
		_ = srv.Serve()
		_ = srv.Close()
	})
}

func TestChannelFailure(t *testing.T) {
	p := Params{Host: "127.0.0.1", Port: startChannelRejectingServer(t), Username: "u", Password: "p"}
	_, err := testClient(Options{}).ListFiles(context.Background(), p, "/")
	if StepOf(err) != StepChannel {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
}

// lockedDirLister stats every path as a directory but refuses to list it,
// like a directory without read permission.
type lockedDirLister struct{}

func (lockedDirLister) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	if r.Method == "List" {
		return nil, os.ErrPermission
	}
	return infoLister{fakeInfo{name: "locked", dir: true}}, nil
}

type infoLister []os.FileInfo

func (l infoLister) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(ls, l[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}

func TestListUnreadableDirFailsAtReadDir(t *testing.T) {
	h := sftp.InMemHandler()
	h.FileList = lockedDirLister{}
	p := Params{Host: "127.0.0.1", Port: startSFTPServer(t, h), Username: "u", Password: "p"}

	_, err := testClient(Options{}).ListFiles(context.Background(), p, "/locked")
	if StepOf(err) != StepReadDir {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
	if !strings.HasPrefix(err.Error(), "Read dir failed: ") {
		t.Fatalf("message: %q", err.Error())
	}
}

func TestCancelDuringPasswordIsNotAuthFailure(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	prompted := make(chan struct{}, 1)
	port := startSSHServer(t, func() error {
		prompted <- struct{}{}
		<-release
		return errors.New("too late")
	}, func(nc ssh.NewChannel) { _ = nc.Reject(ssh.Prohibited, "") })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-prompted
		cancel()
	}()

	_, err := testClient(Options{}).Connect(ctx, Params{Host: "127.0.0.1", Port: port, Username: "u", Password: "p"})
	if StepOf(err) != StepHandshake {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

// ---- Lifecycle -------------------------------------------------------------

func TestSessionRunsOneOperation(t *testing.T) {
	srv := sandboxtest.Start(t)
	c := testClient(Options{})

	sess, err := c.Connect(context.Background(), paramsFor(srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sess.State() != StateChannelOpen {
		t.Fatalf("state after connect: %v", sess.State())
	}

	if _, err := sess.List("/"); err != nil {
		t.Fatalf("List: %v", err)
	}
	if sess.State() != StateClosed {
		t.Fatalf("state after list: %v", sess.State())
	}

	if _, err := sess.List("/"); !errors.Is(err, ErrSessionUsed) {
		t.Fatalf("second List: got %v, want ErrSessionUsed", err)
	}
	if err := sess.Upload("/a", "/b"); !errors.Is(err, ErrSessionUsed) {
		t.Fatalf("Upload after use: got %v, want ErrSessionUsed", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	waitFor(t, func() bool { return srv.Active() == 0 })
}

func TestFailedSessionIsClosed(t *testing.T) {
	srv := sandboxtest.Start(t)
	sess, err := testClient(Options{}).Connect(context.Background(), paramsFor(srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sess.Download("/missing", filepath.Join(t.TempDir(), "x")); StepOf(err) != StepRemoteOpen {
		t.Fatalf("Download: %v", err)
	}
	if sess.State() != StateClosed {
		t.Fatalf("state after failure: %v", sess.State())
	}
	waitFor(t, func() bool { return srv.Active() == 0 })
}

func TestBackToBackCallsUseFreshConnections(t *testing.T) {
	srv := sandboxtest.Start(t)
	c := testClient(Options{})

	for i := 0; i < 2; i++ {
		if _, err := c.ListFiles(context.Background(), paramsFor(srv), "/"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if srv.Accepted() != 2 {
		t.Fatalf("Accepted: got %d, want 2", srv.Accepted())
	}
	waitFor(t, func() bool { return srv.Active() == 0 })
}

func TestConcurrentCallsAreIsolated(t *testing.T) {
	srv := sandboxtest.Start(t)
	for i := 0; i < 4; i++ {
		writeFile(t, filepath.Join(srv.Root, "f"+strconv.Itoa(i)), randomBytes(t, 20000+i))
	}
	c := testClient(Options{})
	dir := t.TempDir()

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		i := i
		go func() {
			name := "f" + strconv.Itoa(i)
			errs <- c.DownloadFile(context.Background(), paramsFor(srv), "/"+name, filepath.Join(dir, name))
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("download: %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		name := "f" + strconv.Itoa(i)
		want, _ := os.ReadFile(filepath.Join(srv.Root, name))
		got, _ := os.ReadFile(filepath.Join(dir, name))
		if !bytes.Equal(got, want) {
			t.Errorf("%s: content mismatch", name)
		}
	}
}

// ---- Host keys -------------------------------------------------------------

func knownHostsFile(t *testing.T, addr string, key ssh.PublicKey) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "known_hosts")
	writeFile(t, path, []byte(knownhosts.Line([]string{addr}, key)+"\n"))
	return path
}

func TestKnownHostsAccepted(t *testing.T) {
	srv := sandboxtest.Start(t)
	cb, err := HostKeyCallback(knownHostsFile(t, srv.Addr(), srv.HostKey()), true)
	if err != nil {
		t.Fatalf("HostKeyCallback: %v", err)
	}

	if _, err := testClient(Options{HostKeyCallback: cb}).ListFiles(context.Background(), paramsFor(srv), "/"); err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
}

func TestKnownHostsMismatchFailsHandshake(t *testing.T) {
	srv := sandboxtest.Start(t)
	other := sandboxtest.Start(t)
	cb, err := HostKeyCallback(knownHostsFile(t, srv.Addr(), other.HostKey()), true)
	if err != nil {
		t.Fatalf("HostKeyCallback: %v", err)
	}

	_, err = testClient(Options{HostKeyCallback: cb}).ListFiles(context.Background(), paramsFor(srv), "/")
	if StepOf(err) != StepHandshake {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
}

func TestHostKeyCallbackStrictWithoutFiles(t *testing.T) {
	if _, err := os.Stat("/etc/ssh/ssh_known_hosts"); err == nil {
		t.Skip("system known_hosts present")
	}
	t.Setenv("HOME", t.TempDir())

	if _, err := HostKeyCallback("", true); err == nil {
		t.Fatal("strict mode without known_hosts should fail")
	}
	cb, err := HostKeyCallback("", false)
	if err != nil || cb == nil {
		t.Fatalf("lenient mode: cb=%v err=%v", cb != nil, err)
	}
}

// ---- Retry -----------------------------------------------------------------

// startFlakyProxy drops the first `drops` connections and forwards the rest
// to target. It returns the port and a counter of accepted connections.
func startFlakyProxy(t *testing.T, target string, drops int32) (int, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	var count atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if count.Add(1) <= drops {
				_ = conn.Close()
				continue
			}
			go func() {
				defer conn.Close()
				up, err := net.Dial("tcp", target)
				if err != nil {
					return
				}
				defer up.Close()
				go func() { _, _ = io.Copy(up, conn) }()
				_, _ = io.Copy(conn, up)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, &count
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: 10 * time.Millisecond, Multiplier: 2}
}

func TestRetryRecoversFromDroppedConnections(t *testing.T) {
	srv := sandboxtest.Start(t)
	port, count := startFlakyProxy(t, srv.Addr(), 2)
	p := paramsFor(srv)
	p.Port = port

	if _, err := testClient(Options{Retry: fastRetry(3)}).ListFiles(context.Background(), p, "/"); err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if count.Load() != 3 {
		t.Fatalf("connections: got %d, want 3", count.Load())
	}
}

func TestRetryGivesUp(t *testing.T) {
	srv := sandboxtest.Start(t)
	port, count := startFlakyProxy(t, srv.Addr(), 5)
	p := paramsFor(srv)
	p.Port = port

	_, err := testClient(Options{Retry: fastRetry(2)}).ListFiles(context.Background(), p, "/")
	if StepOf(err) != StepHandshake {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
	if count.Load() != 2 {
		t.Fatalf("connections: got %d, want 2", count.Load())
	}
}

func TestRetrySkipsAuthFailures(t *testing.T) {
	srv := sandboxtest.Start(t)
	port, count := startFlakyProxy(t, srv.Addr(), 0)
	p := paramsFor(srv)
	p.Port = port
	p.Password = "wrong"

	_, err := testClient(Options{Retry: fastRetry(3)}).ListFiles(context.Background(), p, "/")
	if StepOf(err) != StepAuth {
		t.Fatalf("step: got %v (%v)", StepOf(err), err)
	}
	if count.Load() != 1 {
		t.Fatalf("connections: got %d, want 1", count.Load())
	}
}

func TestDefaultPort(t *testing.T) {
	// Port 0 must be replaced, never dialled literally.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := testClient(Options{}).Connect(ctx, Params{Host: "127.0.0.1"})
	var oe *OpError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OpError, got %v", err)
	}
	if oe.Path != "127.0.0.1:22" {
		t.Fatalf("addr: got %q, want 127.0.0.1:22", oe.Path)
	}
}
