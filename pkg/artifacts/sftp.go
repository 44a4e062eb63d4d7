package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"time"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/openfroyo/safeguards/pkg/snapshot"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// FetchError is a failed remote artifact operation.
type FetchError struct {
	// Op is the operation that failed (connect, sftp-init, list, download)
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool
}

func (e *FetchError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether a retry may succeed.
func (e *FetchError) Temporary() bool {
	return e.IsTemporary
}

// SFTPSource downloads compiled artifacts from a remote build host.
type SFTPSource struct {
	config SFTPConfig
	logger zerolog.Logger
}

// NewSFTPSource creates a source for the given remote host.
func NewSFTPSource(logger zerolog.Logger, config SFTPConfig) *SFTPSource {
	config = config.withDefaults()
	return &SFTPSource{
		config: config,
		logger: logger.With().
			Str("component", "artifacts").
			Str("host", config.Address()).
			Str("dir", config.RemoteDir).
			Logger(),
	}
}

// Fetch opens one SSH connection, lists the remote directory and downloads
// every JSON or YAML file found directly under it.
func (s *SFTPSource) Fetch(ctx context.Context) (map[string][]byte, error) {
	startTime := time.Now()

	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sftp configuration: %w", err)
	}

	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, &FetchError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	entries, err := sftpClient.ReadDir(s.config.RemoteDir)
	if err != nil {
		return nil, &FetchError{
			Op:  "list",
			Err: fmt.Errorf("failed to read remote directory %s: %w", s.config.RemoteDir, err),
		}
	}

	out := make(map[string][]byte)
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !snapshot.IsArtifact(entry.Name()) {
			continue
		}
		data, err := s.download(ctx, sftpClient, path.Join(s.config.RemoteDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out[entry.Name()] = data
		total += int64(len(data))
	}

	s.logger.Info().
		Int("files", len(out)).
		Int64("bytes", total).
		Dur("duration", time.Since(startTime)).
		Msg("Artifacts downloaded")

	return out, nil
}

func (s *SFTPSource) connect(ctx context.Context) (*ssh.Client, error) {
	clientConfig, err := s.config.BuildSSHClientConfig()
	if err != nil {
		return nil, &FetchError{Op: "connect", Err: err}
	}

	address := s.config.Address()
	s.logger.Debug().Msg("Establishing SSH connection")

	dialer := net.Dialer{Timeout: s.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &FetchError{Op: "connect", Err: err, IsTemporary: true}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		conn.Close()
		return nil, &FetchError{Op: "connect", Err: err}
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (s *SFTPSource) download(ctx context.Context, client *sftp.Client, remotePath string) ([]byte, error) {
	remoteFile, err := client.Open(remotePath)
	if err != nil {
		return nil, &FetchError{
			Op:          "download",
			Err:         fmt.Errorf("failed to open remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, remoteFile); err != nil {
		return nil, &FetchError{
			Op:          "download",
			Err:         fmt.Errorf("failed to copy %s: %w", remotePath, err),
			IsTemporary: true,
		}
	}

	s.logger.Debug().Str("remote", remotePath).Int("bytes", buf.Len()).Msg("File downloaded")
	return buf.Bytes(), nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}

var _ engine.ArtifactSource = (*SFTPSource)(nil)
