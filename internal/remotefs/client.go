package remotefs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/websoft9/sftpdesk/internal/metrics"
	"github.com/websoft9/sftpdesk/internal/retry"
)

// Client runs list, download and upload calls. Each call opens and closes
// its own Session, so a Client holds no connection state and is safe for
// concurrent use.
type Client struct {
	Options Options
}

// New returns a Client with the given options.
func New(opts Options) *Client {
	return &Client{Options: opts}
}

var defaultClient = &Client{}

// ListFiles lists remotePath using a Client with zero Options.
func ListFiles(ctx context.Context, p Params, remotePath string) ([]Entry, error) {
	return defaultClient.ListFiles(ctx, p, remotePath)
}

// DownloadFile downloads remotePath to localPath using a Client with zero Options.
func DownloadFile(ctx context.Context, p Params, remotePath, localPath string) error {
	return defaultClient.DownloadFile(ctx, p, remotePath, localPath)
}

// UploadFile uploads localPath to remotePath using a Client with zero Options.
func UploadFile(ctx context.Context, p Params, localPath, remotePath string) error {
	return defaultClient.UploadFile(ctx, p, localPath, remotePath)
}

// ListFiles connects, lists remotePath and disconnects.
func (c *Client) ListFiles(ctx context.Context, p Params, remotePath string) (entries []Entry, err error) {
	start := time.Now()
	defer func() { c.finish("list", p, start, 0, err) }()

	sess, err := c.open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	return sess.List(remotePath)
}

// DownloadFile connects, copies remotePath to localPath and disconnects.
func (c *Client) DownloadFile(ctx context.Context, p Params, remotePath, localPath string) (err error) {
	start := time.Now()
	var n int64
	defer func() {
		metrics.RecordDownloadBytes(n)
		c.finish("download", p, start, n, err)
	}()

	sess, err := c.open(ctx, p)
	if err != nil {
		return err
	}
	defer sess.Close()

	err = sess.Download(remotePath, localPath)
	n = sess.Transferred()
	return err
}

// UploadFile connects, copies localPath to remotePath and disconnects.
func (c *Client) UploadFile(ctx context.Context, p Params, localPath, remotePath string) (err error) {
	start := time.Now()
	var n int64
	defer func() {
		metrics.RecordUploadBytes(n)
		c.finish("upload", p, start, n, err)
	}()

	sess, err := c.open(ctx, p)
	if err != nil {
		return err
	}
	defer sess.Close()

	err = sess.Upload(localPath, remotePath)
	n = sess.Transferred()
	return err
}

// open connects, retrying transient setup failures when Options.Retry
// allows it.
func (c *Client) open(ctx context.Context, p Params) (*Session, error) {
	if !c.Options.Retry.Enabled() {
		return c.Connect(ctx, p)
	}
	attempt := 0
	return retry.DoWithResult(ctx, c.Options.Retry, func() (*Session, error) {
		attempt++
		sess, err := c.Connect(ctx, p)
		if err != nil && StepOf(err).establishing() && StepOf(err) != StepAuth && ctx.Err() == nil {
			c.logger().Debug().Err(err).Int("attempt", attempt).Msg("remotefs: session setup failed, retrying")
			return nil, retry.Retryable(err)
		}
		return sess, err
	})
}

func (c *Client) finish(op string, p Params, start time.Time, n int64, err error) {
	elapsed := time.Since(start)
	step := ""
	if err != nil {
		step = StepOf(err).String()
		if StepOf(err) == 0 {
			step = "other"
		}
	}
	metrics.RecordOperation(op, step, elapsed)

	ev := c.logger().Debug()
	if err != nil {
		ev = c.logger().Warn().Err(err)
	}
	ev.Str("op", op).
		Str("host", p.Host).
		Int64("bytes", n).
		Dur("elapsed", elapsed).
		Msg("remotefs: operation finished")
}

func (c *Client) logger() *zerolog.Logger {
	if c.Options.Logger != nil {
		return c.Options.Logger
	}
	return &log.Logger
}
