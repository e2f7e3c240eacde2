package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// SourceKind selects where a pcap stream comes from.
type SourceKind int

const (
	// SourceFile reads a pcap or pcapng file from disk.
	SourceFile SourceKind = iota
	// SourceRouter streams tcpdump output from the router over SSH.
	SourceRouter
)

func (k SourceKind) String() string {
	switch k {
	case SourceFile:
		return "file"
	case SourceRouter:
		return "router"
	}
	return fmt.Sprintf("SourceKind(%d)", int(k))
}

// Streamer starts a remote packet capture and returns its pcap byte stream.
// Closing the stream stops the capture.
type Streamer interface {
	Tcpdump(ctx context.Context) (io.ReadCloser, error)
}

// Source is either a file path or a router capture.
type Source struct {
	kind   SourceKind
	path   string
	router Streamer
}

// FileSource reads the capture at path.
func FileSource(path string) Source {
	return Source{kind: SourceFile, path: path}
}

// RouterSource captures live from r.
func RouterSource(r Streamer) Source {
	return Source{kind: SourceRouter, router: r}
}

func (s Source) Kind() SourceKind { return s.kind }

func (s Source) String() string {
	if s.kind == SourceFile {
		return "file:" + s.path
	}
	return s.kind.String()
}

// Open starts the source and returns the raw pcap stream.
func (s Source) Open(ctx context.Context) (io.ReadCloser, error) {
	switch s.kind {
	case SourceFile:
		f, err := os.Open(s.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture %s: %w", s.path, err)
		}
		return f, nil
	case SourceRouter:
		if s.router == nil {
			return nil, errors.New("router source has no router")
		}
		rc, err := s.router.Tcpdump(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to start router capture: %w", err)
		}
		return rc, nil
	}
	return nil, fmt.Errorf("unknown source kind %v", s.kind)
}

// Run opens s and runs the CSI pipeline over it until the stream ends or
// ctx is cancelled.
func (s Source) Run(ctx context.Context, cfg PipelineConfig, sink Sink) error {
	rc, err := s.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	// the remote capture only notices cancellation once its stream is closed
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	r, err := NewPcapReader(rc)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", s, err)
	}
	logf("reading %s (link type %v)", s, r.LinkType())

	err = ReadWifiCsi(ctx, r, cfg, sink)
	if ctx.Err() != nil && !errors.Is(err, ctx.Err()) && err != nil {
		// reads fail once the stream is closed under us; report cancellation
		return ctx.Err()
	}
	return err
}
