// Package install places a bundle's executable for the current platform in a
// per-bundle directory and records what was installed in a JSON sidecar.
//
// Layout:
//
//	<dir>/<bundle>/<executable>
//	<dir>/<bundle>/install.json
//
// Content-addressed executables are probed, streamed through the daemon and
// pinned so the local node seeds them. URLs without an identifier are
// fetched directly and never pinned.
package install

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"xdao.co/gamex/fetch"
	"xdao.co/gamex/ident"
	"xdao.co/gamex/internal/logging"
	"xdao.co/gamex/kubo"
	"xdao.co/gamex/pin"
	"xdao.co/gamex/platform"
	"xdao.co/gamex/probe"
)

// SidecarName is the per-bundle record file.
const SidecarName = "install.json"

var (
	ErrNoExecutable  = errors.New("install: no executable for platform")
	ErrNotInstalled  = errors.New("install: bundle not installed")
	ErrInvalidBundle = errors.New("install: invalid bundle id")
)

// Executable is one published build of a bundle.
type Executable struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

type Bundle struct {
	ID          string       `json:"id"`
	Executables []Executable `json:"executables"`
}

// Record is the sidecar content.
type Record struct {
	BundleID    string    `json:"bundle_id"`
	Identifier  string    `json:"identifier,omitempty"`
	URL         string    `json:"url"`
	Platform    string    `json:"platform"`
	FileName    string    `json:"file_name"`
	Size        uint64    `json:"size"`
	InstalledAt time.Time `json:"installed_at"`
}

type Options struct {
	// Dir is the root install directory. Required.
	Dir string
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Platform overrides the target triple of the running binary.
	Platform string

	Fetch  *fetch.Engine
	Prober *probe.Prober
	Pins   *pin.Manager

	ProbeBudget    time.Duration
	DownloadBudget time.Duration

	Logger logrus.FieldLogger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Installer struct {
	opts Options
	fs   afero.Fs
	log  logrus.FieldLogger
}

func New(opts Options) (*Installer, error) {
	if opts.Dir == "" {
		return nil, errors.New("install: Dir is required")
	}
	if opts.Fetch == nil || opts.Prober == nil || opts.Pins == nil {
		return nil, errors.New("install: Fetch, Prober and Pins are required")
	}
	if opts.Platform == "" {
		t, err := platform.Current()
		if err != nil {
			return nil, err
		}
		opts.Platform = t
	}
	if opts.ProbeBudget <= 0 {
		opts.ProbeBudget = probe.DefaultBudget
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Installer{opts: opts, fs: fs, log: logging.OrDiscard(opts.Logger)}, nil
}

func (in *Installer) Platform() string { return in.opts.Platform }

// Path returns the absolute location of rec's executable.
func (in *Installer) Path(rec Record) string {
	return filepath.Join(in.opts.Dir, rec.BundleID, rec.FileName)
}

// Pick returns the executable published for the installer's platform.
func (in *Installer) Pick(b Bundle) (Executable, error) {
	for _, e := range b.Executables {
		if e.Platform == in.opts.Platform {
			return e, nil
		}
	}
	return Executable{}, fmt.Errorf("%w: %s has no build for %s", ErrNoExecutable, b.ID, in.opts.Platform)
}

// Install downloads b's executable for the current platform.
//
// An existing installation of the same bundle stays in place until the new
// executable is downloaded and pinned; only then are the executable and the
// sidecar replaced. The previous identifier is released afterwards when it
// differs from the new one.
func (in *Installer) Install(ctx context.Context, b Bundle, onProgress func(fetch.Progress)) (Record, error) {
	if err := checkBundleID(b.ID); err != nil {
		return Record{}, err
	}
	fileName, err := platform.ExecutableName(b.ID, in.opts.Platform)
	if err != nil {
		return Record{}, err
	}
	exe, err := in.Pick(b)
	if err != nil {
		return Record{}, err
	}

	id, content := ident.Extract(exe.URL)
	log := in.log.WithFields(logrus.Fields{"bundle": b.ID, "platform": in.opts.Platform})
	if content {
		log = log.WithField("cid", id)
		if !in.opts.Prober.Check(ctx, id, in.opts.ProbeBudget) {
			return Record{}, fmt.Errorf("install: %s: %w", id, kubo.ErrNotAvailable)
		}
	}

	prev, err := in.Get(b.ID)
	hadPrev := err == nil
	if err != nil && !errors.Is(err, ErrNotInstalled) {
		log.WithError(err).Warn("ignoring unreadable previous install record")
	}

	dir := filepath.Join(in.opts.Dir, b.ID)
	existed, _ := afero.DirExists(in.fs, dir)
	if err := in.fs.MkdirAll(dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("install: %w", err)
	}
	// abort drops everything this attempt created and leaves a previous
	// install untouched.
	abort := func(partial string) {
		if partial != "" {
			_ = in.fs.Remove(partial)
		}
		if !existed {
			_ = in.fs.RemoveAll(dir)
		}
	}

	partial, size, err := in.download(ctx, dir, id, content, exe.URL, onProgress)
	if err != nil {
		abort("")
		return Record{}, err
	}
	if !platform.IsWindows(in.opts.Platform) {
		if err := in.fs.Chmod(partial, 0o755); err != nil {
			abort(partial)
			return Record{}, fmt.Errorf("install: %w", err)
		}
	}

	if content {
		if err := in.opts.Pins.Pin(ctx, id); err != nil {
			abort(partial)
			return Record{}, fmt.Errorf("install: pin %s: %w", id, err)
		}
	}

	if err := in.fs.Rename(partial, filepath.Join(dir, fileName)); err != nil {
		abort(partial)
		return Record{}, fmt.Errorf("install: %w", err)
	}

	rec := Record{
		BundleID:    b.ID,
		URL:         exe.URL,
		Platform:    in.opts.Platform,
		FileName:    fileName,
		Size:        size,
		InstalledAt: in.opts.Now().UTC(),
	}
	if content {
		rec.Identifier = id
	}
	if err := in.writeRecord(dir, rec); err != nil {
		return Record{}, err
	}

	if hadPrev {
		if prev.FileName != "" && prev.FileName != fileName {
			_ = in.fs.Remove(filepath.Join(dir, prev.FileName))
		}
		if old, ok := ident.Extract(prev.URL); ok && (!content || old != id) {
			in.opts.Pins.Unpin(ctx, old)
		}
	}
	log.WithField("bytes", size).Info("installed")
	return rec, nil
}

// download streams into a uniquely named partial file in dir and returns its
// path. The partial file is removed on failure.
func (in *Installer) download(ctx context.Context, dir, id string, content bool, rawURL string, onProgress func(fetch.Progress)) (string, uint64, error) {
	partial := filepath.Join(dir, "."+uuid.NewString()+".partial")
	f, err := in.fs.OpenFile(partial, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("install: %w", err)
	}

	var size uint64
	sink := fetch.ToWriter(f, func(p fetch.Progress) {
		size = p.Loaded
		if onProgress != nil {
			onProgress(p)
		}
	})
	if content {
		err = in.opts.Fetch.Stream(ctx, id, sink, in.opts.DownloadBudget)
	} else {
		err = in.opts.Fetch.StreamURL(ctx, rawURL, sink, in.opts.DownloadBudget)
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("install: %w", cerr)
	}
	if err != nil {
		_ = in.fs.Remove(partial)
		return "", 0, err
	}
	return partial, size, nil
}

// Get reads the sidecar of bundleID.
func (in *Installer) Get(bundleID string) (Record, error) {
	if err := checkBundleID(bundleID); err != nil {
		return Record{}, err
	}
	b, err := afero.ReadFile(in.fs, filepath.Join(in.opts.Dir, bundleID, SidecarName))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotInstalled, bundleID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("install: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("install: %s: %w", bundleID, err)
	}
	return rec, nil
}

// Uninstall removes the bundle directory and then releases the pin of the
// identifier derived from the recorded URL. Unpin failures are only logged.
func (in *Installer) Uninstall(ctx context.Context, bundleID string) error {
	rec, err := in.Get(bundleID)
	if err != nil {
		return err
	}
	if err := in.fs.RemoveAll(filepath.Join(in.opts.Dir, bundleID)); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if id, ok := ident.Extract(rec.URL); ok {
		in.opts.Pins.Unpin(ctx, id)
	}
	in.log.WithField("bundle", bundleID).Info("uninstalled")
	return nil
}

// List returns every installed bundle ordered by bundle ID. Directories
// without a readable sidecar are skipped.
func (in *Installer) List() ([]Record, error) {
	entries, err := afero.ReadDir(in.fs, in.opts.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("install: %w", err)
	}
	var out []Record
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := in.Get(e.Name())
		if err != nil {
			in.log.WithField("bundle", e.Name()).WithError(err).Debug("skipping directory")
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BundleID < out[j].BundleID })
	return out, nil
}

// writeRecord replaces the sidecar through a rename so readers never see a
// partially written record.
func (in *Installer) writeRecord(dir string, rec Record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	tmp := filepath.Join(dir, "."+uuid.NewString()+".json")
	if err := afero.WriteFile(in.fs, tmp, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := in.fs.Rename(tmp, filepath.Join(dir, SidecarName)); err != nil {
		_ = in.fs.Remove(tmp)
		return fmt.Errorf("install: %w", err)
	}
	return nil
}

// checkBundleID rejects IDs that would address anything but a direct child
// of the install directory.
func checkBundleID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: %q", ErrInvalidBundle, id)
	}
	return nil
}
