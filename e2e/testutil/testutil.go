// Package testutil runs server binaries as child processes and drives them
// with interchangeable HTTP clients for black-box tests.
package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

// TestRequest models an HTTP request for E2E testing.
type TestRequest struct {
	Method  string
	Path    string // may include a query string
	Headers http.Header
}

// HeaderMatcher maps header names to exact expected values.
type HeaderMatcher map[string]string

// BodyMatcher checks a response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string)
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

// Match implements BodyMatcher.
func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", m.ExpectedBody, body)
}

// StringContainsBodyMatcher checks that the body contains a substring.
type StringContainsBodyMatcher struct {
	Substring string
}

// Match implements BodyMatcher.
func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Contains(body, []byte(m.Substring)) {
		return true, ""
	}
	return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", m.Substring, body)
}

// ExpectedResponse models the expected outcome of a request.
type ExpectedResponse struct {
	StatusCode   int
	Headers      HeaderMatcher
	BodyMatcher  BodyMatcher
	ExpectNoBody bool
}

// ActualResponse is what a client observed.
type ActualResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// AssertResponse reports every difference between want and got.
func AssertResponse(t testing.TB, want ExpectedResponse, got ActualResponse) {
	t.Helper()
	if got.StatusCode != want.StatusCode {
		t.Errorf("status: expected %d, got %d (body: %q)", want.StatusCode, got.StatusCode, got.Body)
	}
	for name, value := range want.Headers {
		if actual := got.Headers.Get(name); actual != value {
			t.Errorf("header %s: expected %q, got %q", name, value, actual)
		}
	}
	if want.ExpectNoBody {
		if len(got.Body) != 0 {
			t.Errorf("expected empty body, got %d bytes: %q", len(got.Body), got.Body)
		}
		return
	}
	if want.BodyMatcher != nil {
		if ok, msg := want.BodyMatcher.Match(got.Body); !ok {
			t.Error(msg)
		}
	}
}

// GetFreePort asks the kernel for a free port that is ready to use.
func GetFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// WriteTempConfig encodes configData as JSON or TOML into a file under dir and
// returns its path.
func WriteTempConfig(dir string, configData interface{}, format string) (string, error) {
	var data []byte
	var err error
	switch strings.ToLower(format) {
	case "json":
		data, err = json.MarshalIndent(configData, "", "  ")
	case "toml":
		buf := new(bytes.Buffer)
		if err = toml.NewEncoder(buf).Encode(configData); err == nil {
			data = buf.Bytes()
		}
	default:
		err = fmt.Errorf("unsupported config format: %s", format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal config data to %s: %w", format, err)
	}

	p := filepath.Join(dir, "config."+strings.ToLower(format))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write temp config file: %w", err)
	}
	return p, nil
}

// BuildBinary compiles the main package pkg (for example "./cmd/server",
// relative to moduleRoot) into dir. E2E_<NAME>_BINARY overrides the build
// with a prebuilt binary.
func BuildBinary(t testing.TB, moduleRoot, pkg, name, dir string) string {
	t.Helper()
	if p := os.Getenv("E2E_" + strings.ToUpper(name) + "_BINARY"); p != "" {
		return p
	}
	goTool, err := exec.LookPath("go")
	if err != nil {
		t.Skipf("go tool not available to build %s: %v", pkg, err)
	}
	out := filepath.Join(dir, name)
	cmd := exec.Command(goTool, "build", "-o", out, pkg)
	cmd.Dir = moduleRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building %s failed: %v\n%s", pkg, err, output)
	}
	return out
}

// ServerInstance is a running server process.
type ServerInstance struct {
	Cmd     *exec.Cmd
	Address string

	mu        sync.Mutex
	logs      bytes.Buffer
	waitDone  chan struct{}
	waitErr   error
	cancelCtx context.CancelFunc
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// Logs returns everything the process has written so far.
func (s *ServerInstance) Logs() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs.String()
}

// StartTestServer launches binaryPath with args and env appended to the
// current environment, then waits until listenAddress accepts connections.
func StartTestServer(binaryPath, listenAddress string, env []string, args ...string) (*ServerInstance, error) {
	fi, err := os.Stat(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("server binary path '%s' error: %w", binaryPath, err)
	}
	if fi.IsDir() || fi.Mode()&0o111 == 0 {
		return nil, fmt.Errorf("server binary path '%s' is a directory or not executable", binaryPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, binaryPath, args...)
	cmd.Env = append(os.Environ(), env...)

	s := &ServerInstance{
		Cmd:       cmd,
		Address:   listenAddress,
		waitDone:  make(chan struct{}),
		cancelCtx: cancel,
	}
	cmd.Stdout = lockedWriter{mu: &s.mu, w: &s.logs}
	cmd.Stderr = lockedWriter{mu: &s.mu, w: &s.logs}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start server process '%s': %w", binaryPath, err)
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.waitDone)
	}()

	readyTimeout := 10 * time.Second
	pollInterval := 100 * time.Millisecond
	deadline := time.Now().Add(readyTimeout)
	var lastDialErr error
	for {
		select {
		case <-s.waitDone:
			cancel()
			return nil, fmt.Errorf("server exited before becoming ready: %v. Logs captured:\n%s", s.waitErr, s.Logs())
		default:
		}
		if time.Now().After(deadline) {
			s.Stop()
			return nil, fmt.Errorf("server not ready at %s after %v. Last dial error: %v. Logs captured:\n%s",
				listenAddress, readyTimeout, lastDialErr, s.Logs())
		}
		conn, dialErr := net.DialTimeout("tcp", listenAddress, pollInterval)
		if dialErr == nil {
			conn.Close()
			return s, nil
		}
		lastDialErr = dialErr
		time.Sleep(pollInterval)
	}
}

// Signal delivers sig to the server process.
func (s *ServerInstance) Signal(sig os.Signal) error {
	return s.Cmd.Process.Signal(sig)
}

// Stop sends SIGINT, waits for a graceful exit, and kills the process if it
// does not exit in time. It returns the process's exit error, if any.
func (s *ServerInstance) Stop() error {
	select {
	case <-s.waitDone:
		s.cancelCtx()
		return s.waitErr
	default:
	}

	if err := s.Cmd.Process.Signal(syscall.SIGINT); err == nil {
		select {
		case <-s.waitDone:
			s.cancelCtx()
			return s.waitErr
		case <-time.After(5 * time.Second):
		}
	}
	s.cancelCtx()
	<-s.waitDone
	return fmt.Errorf("server did not exit after SIGINT and was killed: %v", s.waitErr)
}

// HTTPClientType identifies a client implementation.
type HTTPClientType string

const (
	GoHTTPClientType HTTPClientType = "go_http_client"
	CurlClientType   HTTPClientType = "curl_client"
)

// HTTPTestClient sends a TestRequest to a server address.
type HTTPTestClient interface {
	Do(serverAddr string, request TestRequest) (ActualResponse, error)
	Type() HTTPClientType
}

// GoHTTPClient is an HTTPTestClient on net/http. It does not follow redirects.
type GoHTTPClient struct {
	client *http.Client
}

// NewGoHTTPClient returns a client limited to HTTP/1.1.
func NewGoHTTPClient() *GoHTTPClient {
	return &GoHTTPClient{client: &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{DisableCompression: true},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

// Type implements HTTPTestClient.
func (c *GoHTTPClient) Type() HTTPClientType { return GoHTTPClientType }

// Do implements HTTPTestClient.
func (c *GoHTTPClient) Do(serverAddr string, request TestRequest) (ActualResponse, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequest(method, "http://"+serverAddr+request.Path, nil)
	if err != nil {
		return ActualResponse{}, err
	}
	for name, values := range request.Headers {
		req.Header[name] = values
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ActualResponse{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ActualResponse{}, fmt.Errorf("reading body: %w", err)
	}
	return ActualResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// CurlHTTPClient is an HTTPTestClient that shells out to curl.
type CurlHTTPClient struct {
	CurlPath string
}

// NewCurlHTTPClient returns a curl client, or nil when curl is not installed.
func NewCurlHTTPClient(curlPath string) *CurlHTTPClient {
	if curlPath == "" {
		curlPath = "curl"
	}
	resolved, err := exec.LookPath(curlPath)
	if err != nil {
		return nil
	}
	return &CurlHTTPClient{CurlPath: resolved}
}

// Type implements HTTPTestClient.
func (c *CurlHTTPClient) Type() HTTPClientType { return CurlClientType }

// Do implements HTTPTestClient.
func (c *CurlHTTPClient) Do(serverAddr string, request TestRequest) (ActualResponse, error) {
	dir, err := os.MkdirTemp("", "curl-resp-")
	if err != nil {
		return ActualResponse{}, fmt.Errorf("failed to create temp dir for curl output: %w", err)
	}
	defer os.RemoveAll(dir)
	headerFile := filepath.Join(dir, "headers.txt")
	bodyFile := filepath.Join(dir, "body.bin")

	args := []string{"--http1.1", "--silent", "--show-error", "--path-as-is"}
	switch request.Method {
	case "", http.MethodGet:
	case http.MethodHead:
		args = append(args, "--head")
	default:
		args = append(args, "-X", request.Method)
	}
	for name, values := range request.Headers {
		for _, value := range values {
			args = append(args, "-H", fmt.Sprintf("%s: %s", name, value))
		}
	}
	args = append(args,
		"-o", bodyFile,
		"-D", headerFile,
		"-w", "%{http_code}",
		"http://"+serverAddr+request.Path,
	)

	cmd := exec.Command(c.CurlPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return ActualResponse{}, fmt.Errorf("curl command execution failed: %w. Stderr: '%s'", err, strings.TrimSpace(stderr.String()))
	}

	res := ActualResponse{Headers: make(http.Header)}
	res.StatusCode, err = strconv.Atoi(strings.TrimSpace(stdout.String()))
	if err != nil {
		return ActualResponse{}, fmt.Errorf("failed to parse http_code %q from curl stdout: %w", stdout.String(), err)
	}

	headerData, err := os.ReadFile(headerFile)
	if err != nil {
		return ActualResponse{}, fmt.Errorf("failed to read response headers: %w", err)
	}
	headerReader := bufio.NewReader(bytes.NewReader(headerData))
	if _, err := headerReader.ReadString('\n'); err != nil && err != io.EOF {
		return ActualResponse{}, fmt.Errorf("failed to read status line: %w", err)
	}
	mimeHeader, err := textproto.NewReader(headerReader).ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return ActualResponse{}, fmt.Errorf("failed to parse MIME headers: %w", err)
	}
	if mimeHeader != nil {
		res.Headers = http.Header(mimeHeader)
	}

	// --head writes the header block to the output file as well.
	if request.Method == http.MethodHead {
		return res, nil
	}
	if body, err := os.ReadFile(bodyFile); err == nil {
		res.Body = body
	} else if !os.IsNotExist(err) {
		return ActualResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return res, nil
}
