package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"pl2tfr/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 输出根目录。为空时 ArtifactID 按原样作为路径（可为绝对路径）；
	// 非空时 ArtifactID 必须是根目录内的相对路径。
	OutputDir string `json:"output_dir"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认。
	BufSize int `json:"buf_size,omitempty"`
}

type FS struct {
	fs      afero.Fs
	root    string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Writer 实现；fs 为 nil 时使用操作系统文件系统。
func New(fs afero.Fs, opts *Options) (*FS, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if opts == nil {
		opts = &Options{}
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{fs: fs, root: strings.TrimSpace(opts.OutputDir), atomic: atomic, permF: pf, permD: pd, bufSize: bsz}, nil
}

var _ contract.Writer = (*FS)(nil)

// Create 打开一个输出工件。原子模式下内容先写入同目录临时文件，Commit 时 rename 到目标。
func (w *FS) Create(ctx context.Context, id contract.ArtifactID) (contract.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(dest)
	if err := w.fs.MkdirAll(dir, w.permD); err != nil {
		return nil, err
	}
	a := &artifact{ctx: ctx, owner: w, dest: dest}
	if w.atomic {
		tmp, err := afero.TempFile(w.fs, dir, ".tmp-*")
		if err != nil {
			return nil, err
		}
		a.f, a.tmpPath = tmp, tmp.Name()
		_ = w.fs.Chmod(a.tmpPath, w.permF)
	} else {
		f, err := w.fs.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
		if err != nil {
			return nil, err
		}
		a.f = f
	}
	a.bw = bufio.NewWriterSize(a.f, w.bufSize)
	return a, nil
}

// mapPath: Clean + Join + 越界校验。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(strings.TrimSpace(string(id)))
	if rel == "." || rel == "" || rel == string(filepath.Separator) {
		return "", contract.ErrPathInvalid
	}
	if w.root == "" {
		return rel, nil
	}
	// 有根目录：禁止绝对路径、父级逃逸、Windows 卷名
	if filepath.IsAbs(rel) {
		return "", contract.ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	if vol := filepath.VolumeName(rel); vol != "" {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// artifact: 单个输出工件；Commit/Abort 恰好生效一次。
type artifact struct {
	ctx     context.Context
	owner   *FS
	f       afero.File
	bw      *bufio.Writer
	tmpPath string
	dest    string
	done    bool
}

// Write 写入缓冲；每次写前检查 ctx 是否已取消。
func (a *artifact) Write(p []byte) (int, error) {
	if a.done {
		return 0, os.ErrClosed
	}
	if err := a.ctx.Err(); err != nil {
		return 0, err
	}
	return a.bw.Write(p)
}

func (a *artifact) Commit() error {
	if a.done {
		return nil
	}
	a.done = true
	if err := a.bw.Flush(); err != nil {
		a.cleanup()
		return err
	}
	if err := a.f.Sync(); err != nil {
		a.cleanup()
		return err
	}
	if err := a.f.Close(); err != nil {
		a.remove()
		return err
	}
	if a.tmpPath == "" {
		return nil
	}
	if err := a.owner.fs.Rename(a.tmpPath, a.dest); err != nil {
		a.remove()
		return fmt.Errorf("replace %s: %w", a.dest, err)
	}
	// 最佳努力：同步父目录，提升崩溃安全性（部分平台不支持，忽略错误）
	_ = a.owner.syncDir(filepath.Dir(a.dest))
	return nil
}

// Abort 丢弃内容：关闭句柄并删除临时文件（非原子模式删除目标文件）。
func (a *artifact) Abort() error {
	if a.done {
		return nil
	}
	a.done = true
	a.cleanup()
	return nil
}

func (a *artifact) cleanup() {
	_ = a.f.Close()
	a.remove()
}

func (a *artifact) remove() {
	p := a.tmpPath
	if p == "" {
		p = a.dest
	}
	_ = a.owner.fs.Remove(p)
}

func (w *FS) syncDir(dir string) error {
	if _, ok := w.fs.(*afero.OsFs); !ok {
		return nil
	}
	f, err := w.fs.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
