package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Replay serves pre-rendered payloads from a directory at zero cost.
//
// Lookup order for a request:
//
//	<dir>/<segment>-v<variation><ext>
//	<dir>/<segment><ext>
//
// where ext follows the asset type (.mp4, .png, .svg, .wav).
type Replay struct {
	name string
	dir  string
}

// NewReplay creates a replay provider over dir.
func NewReplay(name, dir string) (*Replay, error) {
	if name == "" {
		name = string(KindReplay)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("replay dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("replay dir %s is not a directory", dir)
	}
	return &Replay{name: name, dir: dir}, nil
}

func (p *Replay) Name() string { return p.name }
func (p *Replay) Kind() Kind { return KindReplay }
func (p *Replay) Timeout() time.Duration { return 0 }
func (p *Replay) Estimate(_ Request) float64 { return 0 }

// Generate reads the matching payload. A missing file is a permanent error.
func (p *Replay) Generate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, &Error{Provider: p.name, Kind: Transient, Err: err}
	}

	ext := Extension(req.AssetType)
	candidates := []string{
		filepath.Join(p.dir, fmt.Sprintf("%s-v%d%s", req.SegmentID, req.Variation, ext)),
		filepath.Join(p.dir, req.SegmentID+ext),
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Result{}, &Error{Provider: p.name, Kind: Transient, Err: err}
		}
		return Result{Payload: data, MIME: mimeFor(req.AssetType)}, nil
	}
	return Result{}, &Error{
		Provider: p.name,
		Kind:     Permanent,
		Err:      fmt.Errorf("no recorded payload for segment %s variation %d", req.SegmentID, req.Variation),
	}
}
