package filesystem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"pl2tfr/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配，忽略大小写）。
	// 仅影响目录递归，不影响单文件 root。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// AllowExts: 目录递归时只收集这些扩展名的文件（忽略大小写）。默认 [".json"]。
	// 显式给出的单文件 root 不受限制。
	AllowExts []string `json:"allow_exts"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	fs      afero.Fs
	stdin   io.Reader
	bufSize int
	// 以小写形式保存，比较时按小写匹配。
	excludeDir map[string]struct{}
	allowExt   map[string]struct{}
}

// New 创建 FileSystem Reader；fs 为 nil 时使用操作系统文件系统。
func New(fs afero.Fs, opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	if fs == nil {
		fs = afero.NewOsFs()
	}
	b := defaultBuf
	if opts != nil && opts.BufSize > 0 {
		b = opts.BufSize
	}
	ex := make(map[string]struct{})
	exts := []string{".json"}
	if opts != nil {
		for _, name := range opts.ExcludeDirNames {
			if name == "" {
				continue
			}
			ex[strings.ToLower(name)] = struct{}{}
		}
		if len(opts.AllowExts) > 0 {
			exts = opts.AllowExts
		}
	}
	allow := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allow[e] = struct{}{}
	}
	return &FileSystem{fs: fs, stdin: os.Stdin, bufSize: b, excludeDir: ex, allowExt: allow}
}

// Iterate 遍历 roots，按稳定顺序对每个常规文件调用 yield。
// yield 成功返回时由调用方负责关闭 ReadCloser；yield 返回错误时由本方关闭。
// 支持 roots 为空或仅包含 "-" 作为 STDIN。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), newBufferedCloser(io.NopCloser(r.stdin), r.bufSize))
	}
	// 禁止与其他根混用 "-"
	for _, s := range roots {
		if s == "-" {
			return errors.New("stdin '-' cannot be mixed with other roots")
		}
	}

	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) lstat(p string) (os.FileInfo, error) {
	if ls, ok := r.fs.(afero.Lstater); ok {
		info, _, err := ls.LstatIfPossible(p)
		return info, err
	}
	return r.fs.Stat(p)
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := r.lstat(root)
	if err != nil {
		return err
	}
	// 仅跟随到常规文件；目录符号链接不跟随（忽略）
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := r.fs.Stat(root)
		if err != nil {
			return err
		}
		if t.Mode().IsRegular() {
			return r.open(root, yield)
		}
		return nil
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.open(root, yield)
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// afero.ReadDir 已按名称排序
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return err
	}
	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	// 再文件
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || !r.allowed(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		mode := e.Mode()
		if mode&os.ModeSymlink != 0 {
			t, err := r.fs.Stat(p)
			if err != nil {
				return err
			}
			mode = t.Mode()
		}
		if !mode.IsRegular() {
			continue
		}
		if err := r.open(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) allowed(name string) bool {
	_, ok := r.allowExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (r *FileSystem) open(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := r.fs.Open(p)
	if err != nil {
		return err
	}
	brc := newBufferedCloser(f, r.bufSize)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
